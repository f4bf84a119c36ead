package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBank keeps balances in a map and can be told to reject credits for
// specific accounts, which is how the pending-payout path gets exercised.
type fakeBank struct {
	balances   map[string]int64
	failCredit map[string]bool
}

func newFakeBank() *fakeBank {
	return &fakeBank{
		balances:   make(map[string]int64),
		failCredit: make(map[string]bool),
	}
}

func bankKey(account, asset string) string {
	return account + "|" + asset
}

func (b *fakeBank) Debit(account, asset string, amount int64) error {
	k := bankKey(account, asset)
	if b.balances[k] < amount {
		return ErrInsufficientFunds
	}
	b.balances[k] -= amount
	return nil
}

func (b *fakeBank) Credit(account, asset string, amount int64) error {
	if amount <= 0 {
		return ErrValidation
	}
	if b.failCredit[account] {
		return ErrValidation
	}
	b.balances[bankKey(account, asset)] += amount
	return nil
}

func (b *fakeBank) balance(account, asset string) int64 {
	return b.balances[bankKey(account, asset)]
}

type ledgerFixture struct {
	ledger *PrizeLedger
	bank   *fakeBank
	access *AccessController
	cfg    *ConfigStore
	clock  *time.Time
}

func newLedgerFixture() *ledgerFixture {
	access := NewAccessController(nil)
	access.seed("owner", RoleOwner)
	access.seed("admin", RoleAdmin)
	access.seed("operator", RoleOperator)

	cfg := NewConfigStore(nil)
	bank := newFakeBank()
	ledger := NewPrizeLedger(nil, bank, access, cfg)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	return &ledgerFixture{ledger: ledger, bank: bank, access: access, cfg: cfg, clock: &now}
}

func (f *ledgerFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *ledgerFixture) fund(account string, amount int64) {
	f.bank.balances[bankKey(account, "")] = amount
}

// conserved checks the pool accounting identity: the escrowed total always
// equals remaining plus delivered plus pending plus swept.
func conserved(t *testing.T, f *ledgerFixture, id string) {
	t.Helper()
	rec, err := f.ledger.Record(id)
	require.NoError(t, err)

	var delivered, pending int64
	for _, c := range rec.Completions {
		if c.Claimed {
			delivered += c.PrizeAmount
		}
		pending += c.PendingAmount
	}
	assert.Equal(t, rec.TotalPool, rec.RemainingBalance+delivered+pending+rec.SweptAmount)
}

func TestCreateRecordEscrowsPool(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 1000)

	err := f.ledger.CreateRecord("admin", "cw-1", "", "puzzle-1", "sponsor", 100, []int64{6000, 3000, 1000}, time.Time{}, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(900), f.bank.balance("sponsor", ""))

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.Equal(t, StateInactive, rec.State)
	assert.Equal(t, int64(100), rec.TotalPool)
	assert.Equal(t, int64(100), rec.RemainingBalance)
	assert.Equal(t, 3, rec.MaxWinners) // default

	// Same id again is rejected without a second escrow.
	err = f.ledger.CreateRecord("admin", "cw-1", "", "puzzle-1", "sponsor", 100, []int64{10000}, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, int64(900), f.bank.balance("sponsor", ""))
}

func TestCreateRecordValidation(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 1000)

	cases := []struct {
		name        string
		caller      string
		id          string
		pool        int64
		percentages []int64
		deadline    time.Time
		maxWinners  int
		want        error
	}{
		{"not admin", "operator", "cw-a", 100, []int64{10000}, time.Time{}, 0, ErrUnauthorized},
		{"unknown caller", "nobody", "cw-a", 100, []int64{10000}, time.Time{}, 0, ErrUnauthorized},
		{"zero pool", "admin", "cw-a", 0, []int64{10000}, time.Time{}, 0, ErrValidation},
		{"bad id", "admin", "cw a!", 100, []int64{10000}, time.Time{}, 0, ErrValidation},
		{"bps over 10000", "admin", "cw-a", 100, []int64{9000, 2000}, time.Time{}, 0, ErrValidation},
		{"zero bps entry", "admin", "cw-a", 100, []int64{9000, 0}, time.Time{}, 0, ErrValidation},
		{"negative bps entry", "admin", "cw-a", 100, []int64{9000, -100}, time.Time{}, 0, ErrValidation},
		{"more percentages than winners", "admin", "cw-a", 100, []int64{100, 100, 100}, time.Time{}, 2, ErrValidation},
		{"max winners over hard cap", "admin", "cw-a", 100, []int64{10000}, time.Time{}, 11, ErrValidation},
		{"past deadline", "admin", "cw-a", 100, []int64{10000}, f.clock.Add(-time.Hour), 0, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.ledger.CreateRecord(tc.caller, tc.id, "", "", "sponsor", tc.pool, tc.percentages, tc.deadline, tc.maxWinners)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Every rejection above happened before the escrow debit.
	assert.Equal(t, int64(1000), f.bank.balance("sponsor", ""))

	// Insufficient sponsor funds reject the create and leave no record.
	err := f.ledger.CreateRecord("admin", "cw-poor", "", "", "sponsor", 5000, []int64{10000}, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = f.ledger.Record("cw-poor")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateTransitions(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))

	// Completions against an Inactive record are rejected.
	_, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 45000, CompletionProfile{})
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, f.ledger.Finalize("admin", "cw-1"), ErrInvalidState)
	assert.ErrorIs(t, f.ledger.Activate("operator", "cw-1"), ErrUnauthorized)
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))
	assert.ErrorIs(t, f.ledger.Activate("admin", "cw-1"), ErrInvalidState)

	require.NoError(t, f.ledger.Finalize("admin", "cw-1"))

	// Closed means closed, no matter how fast the solver was.
	_, err = f.ledger.RecordCompletion("operator", "cw-1", "alice", 45000, CompletionProfile{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompletionRanksAndPayouts(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 10)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 10, []int64{6000, 3000, 1000}, time.Time{}, 4))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	first, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 61000, CompletionProfile{DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, int64(6), first.PrizeAmount)
	assert.True(t, first.Claimed)
	assert.Equal(t, int64(6), f.bank.balance("alice", ""))

	second, err := f.ledger.RecordCompletion("operator", "cw-1", "bob", 75000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, int64(3), second.PrizeAmount)

	third, err := f.ledger.RecordCompletion("operator", "cw-1", "carol", 90000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, 3, third.Rank)
	assert.Equal(t, int64(1), third.PrizeAmount)

	// Fourth finisher is logged but wins nothing.
	fourth, err := f.ledger.RecordCompletion("operator", "cw-1", "dave", 120000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, 4, fourth.Rank)
	assert.Equal(t, int64(0), fourth.PrizeAmount)
	assert.Equal(t, int64(0), f.bank.balance("dave", ""))

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.RemainingBalance)
	conserved(t, f, "cw-1")

	isWinner, err := f.ledger.IsWinner("cw-1", "carol")
	require.NoError(t, err)
	assert.True(t, isWinner)
	isWinner, err = f.ledger.IsWinner("cw-1", "dave")
	require.NoError(t, err)
	assert.False(t, isWinner)

	rank, err := f.ledger.RankOf("cw-1", "dave")
	require.NoError(t, err)
	assert.Equal(t, 4, rank)
}

func TestTinyPoolTruncatedShareSkipsTransfer(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 1)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 1, []int64{5000, 5000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	// 1 * 5000 / 10000 truncates to zero. fakeBank rejects zero credits the
	// way PGBank does, so an attempted transfer would show up as pending.
	comp, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 30000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, 1, comp.Rank)
	assert.Equal(t, int64(0), comp.PrizeAmount)
	assert.Equal(t, int64(0), comp.PendingAmount)
	assert.False(t, comp.Claimed)
	assert.Equal(t, int64(0), f.bank.balance("alice", ""))

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RemainingBalance)
	conserved(t, f, "cw-1")

	isWinner, err := f.ledger.IsWinner("cw-1", "alice")
	require.NoError(t, err)
	assert.False(t, isWinner)

	_, err = f.ledger.ClaimPrize("cw-1", "alice")
	assert.ErrorIs(t, err, ErrNotAWinner)
}

func TestCompletionRejections(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	_, err := f.ledger.RecordCompletion("nobody", "cw-1", "alice", 1000, CompletionProfile{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.ledger.RecordCompletion("operator", "missing", "alice", 1000, CompletionProfile{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.ledger.RecordCompletion("operator", "cw-1", "alice", 0, CompletionProfile{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.ledger.RecordCompletion("operator", "cw-1", "alice", -5, CompletionProfile{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	require.NoError(t, err)
	_, err = f.ledger.RecordCompletion("operator", "cw-1", "alice", 900, CompletionProfile{})
	assert.ErrorIs(t, err, ErrDuplicateCompletion)

	// The duplicate must not double-pay or take a second slot.
	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.Len(t, rec.Completions, 1)
	assert.Equal(t, int64(100), f.bank.balance("alice", ""))
	conserved(t, f, "cw-1")
}

func TestCompletionAfterDeadline(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	deadline := f.clock.Add(time.Hour)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{10000}, deadline, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	f.advance(2 * time.Hour)
	_, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestPendingPayoutAndClaim(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{5000, 5000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	// Alice cannot receive a push payout right now.
	f.bank.failCredit["alice"] = true
	comp, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), comp.PrizeAmount)
	assert.Equal(t, int64(50), comp.PendingAmount)
	assert.False(t, comp.Claimed)
	assert.Equal(t, int64(0), f.bank.balance("alice", ""))
	conserved(t, f, "cw-1")

	// A claim while the transfer still fails changes nothing.
	_, err = f.ledger.ClaimPrize("cw-1", "alice")
	assert.Error(t, err)
	completions, err := f.ledger.Completions("cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), completions[0].PendingAmount)
	assert.False(t, completions[0].Claimed)

	// Once the account can receive again the claim delivers exactly once.
	f.bank.failCredit["alice"] = false
	amount, err := f.ledger.ClaimPrize("cw-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), amount)
	assert.Equal(t, int64(50), f.bank.balance("alice", ""))
	conserved(t, f, "cw-1")

	_, err = f.ledger.ClaimPrize("cw-1", "alice")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, int64(50), f.bank.balance("alice", ""))

	// Non-winners and strangers get the same answer.
	_, err = f.ledger.ClaimPrize("cw-1", "nobody")
	assert.ErrorIs(t, err, ErrNotAWinner)
	_, err = f.ledger.ClaimPrize("missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepAfterDeadline(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	deadline := f.clock.Add(time.Hour)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{5000, 3000}, deadline, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	f.bank.failCredit["alice"] = true
	_, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	require.NoError(t, err)

	_, err = f.ledger.SweepUnclaimed("operator", "cw-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Window still open: deadline + recovery window has not elapsed.
	f.advance(2 * time.Hour)
	_, err = f.ledger.SweepUnclaimed("admin", "cw-1")
	assert.ErrorIs(t, err, ErrTooEarly)

	f.advance(f.cfg.RecoveryWindow())
	amount, err := f.ledger.SweepUnclaimed("admin", "cw-1")
	require.NoError(t, err)
	// 50 remaining for the unfilled second slot plus alice's 50 pending.
	assert.Equal(t, int64(100), amount)
	assert.Equal(t, int64(100), f.bank.balance("treasury", ""))
	conserved(t, f, "cw-1")

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.True(t, rec.Swept)
	assert.Equal(t, StateComplete, rec.State)
	assert.Equal(t, int64(0), rec.RemainingBalance)

	// Alice's window is gone.
	f.bank.failCredit["alice"] = false
	_, err = f.ledger.ClaimPrize("cw-1", "alice")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.ledger.SweepUnclaimed("admin", "cw-1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSweepWithoutDeadline(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{2000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	// No deadline and not Complete: there is no reference point yet.
	f.advance(f.cfg.RecoveryWindow() * 2)
	_, err := f.ledger.SweepUnclaimed("admin", "cw-1")
	assert.ErrorIs(t, err, ErrTooEarly)

	require.NoError(t, f.ledger.Finalize("admin", "cw-1"))
	_, err = f.ledger.SweepUnclaimed("admin", "cw-1")
	assert.ErrorIs(t, err, ErrTooEarly)

	f.advance(f.cfg.RecoveryWindow() + time.Minute)
	amount, err := f.ledger.SweepUnclaimed("admin", "cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)
	conserved(t, f, "cw-1")
}

func TestSweepFailedTreasuryCreditChangesNothing(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	deadline := f.clock.Add(time.Hour)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{10000}, deadline, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))
	f.advance(2*time.Hour + f.cfg.RecoveryWindow())

	f.bank.failCredit["treasury"] = true
	_, err := f.ledger.SweepUnclaimed("admin", "cw-1")
	assert.Error(t, err)

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.False(t, rec.Swept)
	assert.Equal(t, int64(100), rec.RemainingBalance)

	f.bank.failCredit["treasury"] = false
	amount, err := f.ledger.SweepUnclaimed("admin", "cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)
}

func TestFinalizeExpired(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 300)
	deadline := f.clock.Add(time.Hour)

	require.NoError(t, f.ledger.CreateRecord("admin", "cw-dated", "", "", "sponsor", 100, []int64{10000}, deadline, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-dated"))
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-open", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-open"))
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-idle", "", "", "sponsor", 100, []int64{10000}, deadline, 0))

	assert.Equal(t, 0, f.ledger.FinalizeExpired())

	f.advance(2 * time.Hour)
	assert.Equal(t, 1, f.ledger.FinalizeExpired())

	rec, err := f.ledger.Record("cw-dated")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, rec.State)
	assert.Equal(t, deadline, rec.CompletedAt)

	rec, err = f.ledger.Record("cw-open")
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	rec, err = f.ledger.Record("cw-idle")
	require.NoError(t, err)
	assert.Equal(t, StateInactive, rec.State)

	// Idempotent across ticks.
	assert.Equal(t, 0, f.ledger.FinalizeExpired())
}

func TestAssetAllowList(t *testing.T) {
	f := newLedgerFixture()
	f.bank.balances[bankKey("sponsor", "GEM-1a2b3c")] = 500

	err := f.ledger.CreateRecord("admin", "cw-1", "GEM-1a2b3c", "", "sponsor", 100, []int64{10000}, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, f.ledger.AllowAsset("operator", "GEM-1a2b3c"), ErrUnauthorized)
	require.NoError(t, f.ledger.AllowAsset("admin", "GEM-1a2b3c"))
	assert.True(t, f.ledger.AssetAllowed("GEM-1a2b3c"))

	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "GEM-1a2b3c", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))

	comp, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), comp.PrizeAmount)
	assert.Equal(t, int64(100), f.bank.balances[bankKey("alice", "GEM-1a2b3c")])
}

func TestRecordReturnsCopies(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 100)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-1", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	require.NoError(t, f.ledger.Activate("admin", "cw-1"))
	_, err := f.ledger.RecordCompletion("operator", "cw-1", "alice", 1000, CompletionProfile{})
	require.NoError(t, err)

	rec, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	rec.Percentages[0] = 0
	rec.Completions[0].PrizeAmount = 999

	fresh, err := f.ledger.Record("cw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), fresh.Percentages[0])
	assert.Equal(t, int64(100), fresh.Completions[0].PrizeAmount)
}

func TestRecordIDsOldestFirst(t *testing.T) {
	f := newLedgerFixture()
	f.fund("sponsor", 300)

	// Created out of lexical order so the result can only come from
	// creation-time ordering, not map or name ordering.
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-b", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	f.advance(time.Hour)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-a", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))
	f.advance(time.Hour)
	require.NoError(t, f.ledger.CreateRecord("admin", "cw-c", "", "", "sponsor", 100, []int64{10000}, time.Time{}, 0))

	assert.Equal(t, []string{"cw-b", "cw-a", "cw-c"}, f.ledger.RecordIDs())
}
