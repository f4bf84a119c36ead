package main

import (
	"database/sql"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
)

type RecordState int

const (
	StateInactive RecordState = iota
	StateActive
	StateComplete
)

func (s RecordState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	default:
		return "inactive"
	}
}

func parseRecordState(value string) RecordState {
	switch value {
	case "active":
		return StateActive
	case "complete":
		return StateComplete
	default:
		return StateInactive
	}
}

// Completion is one entry in a record's arrival-ordered completion log.
// Rank is 1-based arrival order among valid completions; DurationMs is
// self-reported and display-only.
type Completion struct {
	Account       string
	Username      string
	DisplayName   string
	AvatarURL     string
	CompletedAt   time.Time
	Rank          int
	DurationMs    int64
	PrizeAmount   int64
	PendingAmount int64
	Claimed       bool
}

// CompletionProfile carries the display-only fields a completion request
// submits alongside the signature.
type CompletionProfile struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// CrosswordRecord is the per-crossword escrow ledger entry. Records are
// never deleted; closure is logical (state complete, zero remaining).
type CrosswordRecord struct {
	ID               string
	AssetID          string // "" = native unit
	PuzzleID         string
	Sponsor          string
	TotalPool        int64
	RemainingBalance int64
	Percentages      []int64 // basis points, rank order
	Completions      []*Completion
	CreatedAt        time.Time
	ActivationTime   time.Time
	Deadline         time.Time // zero = none
	CompletedAt      time.Time
	SweptAmount      int64
	Swept            bool
	State            RecordState
	MaxWinners       int
}

// PrizeLedger owns every crossword record. One mutex is held for the full
// duration of each public operation, including the bank transfer inside it,
// so every operation is a single critical section: it either fully commits
// or leaves no trace. Ledger state is mutated before payout transfers are
// attempted; a transfer that fails leaves the amount durably reserved as
// the completion's pending amount.
type PrizeLedger struct {
	mu            sync.Mutex
	db            *sql.DB
	bank          PayoutBank
	access        *AccessController
	cfg           *ConfigStore
	now           func() time.Time
	records       map[string]*CrosswordRecord
	allowedAssets map[string]bool
}

func NewPrizeLedger(db *sql.DB, bank PayoutBank, access *AccessController, cfg *ConfigStore) *PrizeLedger {
	return &PrizeLedger{
		db:            db,
		bank:          bank,
		access:        access,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
		records:       make(map[string]*CrosswordRecord),
		allowedAssets: make(map[string]bool),
	}
}

// CreateRecord escrows pool from sponsor and creates the record in state
// Inactive. All preconditions are checked before the escrow debit; a failed
// debit leaves no record behind.
func (l *PrizeLedger) CreateRecord(caller, id, assetID, puzzleID, sponsor string, pool int64, percentages []int64, deadline time.Time, maxWinners int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	if !isValidCrosswordID(id) || !isValidAccountID(sponsor) || pool <= 0 {
		return ErrValidation
	}
	if assetID != "" && !l.allowedAssets[assetID] {
		return ErrValidation
	}
	settings := l.cfg.Get()
	if maxWinners == 0 {
		maxWinners = settings.DefaultMaxWinners
	}
	if maxWinners <= 0 || maxWinners > settings.MaxWinnersHardCap {
		return ErrValidation
	}
	if len(percentages) > maxWinners {
		return ErrValidation
	}
	var sum int64
	for _, bps := range percentages {
		if bps <= 0 {
			return ErrValidation
		}
		sum += bps
	}
	if sum > 10000 {
		return ErrValidation
	}
	now := l.now()
	if !deadline.IsZero() && !deadline.After(now) {
		return ErrValidation
	}
	if _, exists := l.records[id]; exists {
		return ErrAlreadyExists
	}

	if err := l.bank.Debit(sponsor, assetID, pool); err != nil {
		if err == ErrInsufficientFunds {
			return ErrInsufficientFunds
		}
		return err
	}

	rec := &CrosswordRecord{
		ID:               id,
		AssetID:          assetID,
		PuzzleID:         puzzleID,
		Sponsor:          sponsor,
		TotalPool:        pool,
		RemainingBalance: pool,
		Percentages:      append([]int64(nil), percentages...),
		CreatedAt:        now,
		Deadline:         deadline,
		State:            StateInactive,
		MaxWinners:       maxWinners,
	}
	l.records[id] = rec
	l.persistRecord(rec)
	appendPayoutLog(l.db, id, sponsor, assetID, pool, "escrow")
	return nil
}

// Activate moves a record from Inactive to Active. Admin only.
func (l *PrizeLedger) Activate(caller, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	rec, ok := l.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.State != StateInactive {
		return ErrInvalidState
	}
	rec.State = StateActive
	rec.ActivationTime = l.now()
	l.persistRecord(rec)
	return nil
}

// Finalize moves an Active record to Complete, closing it to further
// completions and starting the recovery window for records without a
// deadline. Admin only.
func (l *PrizeLedger) Finalize(caller, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	rec, ok := l.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.State != StateActive {
		return ErrInvalidState
	}
	rec.State = StateComplete
	rec.CompletedAt = l.now()
	l.persistRecord(rec)
	return nil
}

// RecordCompletion appends user to the completion log of id, assigns the
// next rank and, when the rank falls inside the percentage table, pays out
// immediately. The completion entry and the balance decrement commit before
// the transfer is attempted; a failed transfer is reserved as a pending
// amount rather than rejecting the completion.
func (l *PrizeLedger) RecordCompletion(caller, id, user string, durationMs int64, profile CompletionProfile) (Completion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleOperator) {
		return Completion{}, ErrUnauthorized
	}
	rec, ok := l.records[id]
	if !ok {
		return Completion{}, ErrNotFound
	}
	if rec.State != StateActive {
		return Completion{}, ErrInvalidState
	}
	now := l.now()
	if !rec.Deadline.IsZero() && now.After(rec.Deadline) {
		return Completion{}, ErrExpired
	}
	if durationMs <= 0 || !isValidAccountID(user) {
		return Completion{}, ErrValidation
	}
	for _, c := range rec.Completions {
		if c.Account == user {
			return Completion{}, ErrDuplicateCompletion
		}
	}

	comp := &Completion{
		Account:     user,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		CompletedAt: now,
		Rank:        len(rec.Completions) + 1,
		DurationMs:  durationMs,
	}
	rec.Completions = append(rec.Completions, comp)

	// Integer division can truncate a small pool's share to zero; such a
	// rank gets no transfer and no payout_log row.
	if amount := prizeShare(rec, comp.Rank); amount > 0 {
		comp.PrizeAmount = amount
		rec.RemainingBalance -= amount

		if err := l.bank.Credit(user, rec.AssetID, amount); err != nil {
			log.Printf("payout push failed for %s rank %d: %v", id, comp.Rank, err)
			comp.PendingAmount = amount
			appendPayoutLog(l.db, id, user, rec.AssetID, amount, "pending")
		} else {
			comp.Claimed = true
			appendPayoutLog(l.db, id, user, rec.AssetID, amount, "payout")
		}
	}

	l.persistRecord(rec)
	return *comp, nil
}

// prizeShare returns the pool share for a rank in base units, 0 for ranks
// past the percentage table.
func prizeShare(rec *CrosswordRecord, rank int) int64 {
	if rank > len(rec.Percentages) {
		return 0
	}
	return rec.TotalPool * rec.Percentages[rank-1] / 10000
}

// ClaimPrize delivers a pending amount to its winner. Idempotent: repeat
// calls fail ErrAlreadyClaimed without transferring. A failed transfer
// leaves the pending amount untouched; retrying is the caller's job.
func (l *PrizeLedger) ClaimPrize(id, user string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	var comp *Completion
	for _, c := range rec.Completions {
		if c.Account == user {
			comp = c
			break
		}
	}
	if comp == nil || comp.PrizeAmount == 0 {
		return 0, ErrNotAWinner
	}
	if comp.Claimed {
		return 0, ErrAlreadyClaimed
	}
	if rec.Swept {
		return 0, ErrExpired
	}

	amount := comp.PendingAmount
	if err := l.bank.Credit(user, rec.AssetID, amount); err != nil {
		return 0, err
	}
	comp.PendingAmount = 0
	comp.Claimed = true
	l.persistRecord(rec)
	appendPayoutLog(l.db, id, user, rec.AssetID, amount, "claim")
	return amount, nil
}

// SweepUnclaimed recovers the remaining balance plus all still-unclaimed
// pending amounts to the treasury, once the recovery window has elapsed
// past the deadline (or past logical completion for open-ended records).
// Admin only. The treasury credit happens before any mutation so a failed
// sweep changes nothing.
func (l *PrizeLedger) SweepUnclaimed(caller, id string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleAdmin) {
		return 0, ErrUnauthorized
	}
	rec, ok := l.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	if rec.Swept {
		return 0, ErrInvalidState
	}

	var reference time.Time
	switch {
	case !rec.Deadline.IsZero():
		reference = rec.Deadline
	case rec.State == StateComplete:
		reference = rec.CompletedAt
	default:
		return 0, ErrTooEarly
	}
	now := l.now()
	if now.Before(reference.Add(l.cfg.RecoveryWindow())) {
		return 0, ErrTooEarly
	}

	amount := rec.RemainingBalance
	for _, c := range rec.Completions {
		amount += c.PendingAmount
	}

	settings := l.cfg.Get()
	if amount > 0 {
		if err := l.bank.Credit(settings.TreasuryAccount, rec.AssetID, amount); err != nil {
			return 0, err
		}
	}
	for _, c := range rec.Completions {
		c.PendingAmount = 0
	}
	rec.RemainingBalance = 0
	rec.SweptAmount = amount
	rec.Swept = true
	rec.State = StateComplete
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = now
	}
	l.persistRecord(rec)
	if amount > 0 {
		appendPayoutLog(l.db, id, settings.TreasuryAccount, rec.AssetID, amount, "sweep")
	}
	return amount, nil
}

// FinalizeExpired closes every Active record whose deadline has passed.
// The sweep ticker calls it; it takes no caller because it is not a public
// operation.
func (l *PrizeLedger) FinalizeExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	count := 0
	for _, rec := range l.records {
		if rec.State != StateActive || rec.Deadline.IsZero() || now.Before(rec.Deadline) {
			continue
		}
		rec.State = StateComplete
		rec.CompletedAt = rec.Deadline
		l.persistRecord(rec)
		count++
	}
	return count
}

// AllowAsset adds a fungible asset id to the allow-list. Admin only. The
// native unit ("") needs no listing.
func (l *PrizeLedger) AllowAsset(caller, assetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	if assetID == "" {
		return ErrValidation
	}
	l.allowedAssets[assetID] = true
	if l.db != nil {
		if _, err := l.db.Exec(`
			INSERT INTO allowed_assets (asset_id, added_by, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (asset_id) DO NOTHING
		`, assetID, caller); err != nil {
			log.Println("asset allow-list persist failed:", err)
		}
	}
	return nil
}

func (l *PrizeLedger) AssetAllowed(assetID string) bool {
	if assetID == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowedAssets[assetID]
}

// Record returns a copy of the record, completions included.
func (l *PrizeLedger) Record(id string) (CrosswordRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return CrosswordRecord{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

// Completions returns the arrival-ordered completion log of id.
func (l *PrizeLedger) Completions(id string) ([]Completion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Completion, 0, len(rec.Completions))
	for _, c := range rec.Completions {
		out = append(out, *c)
	}
	return out, nil
}

// IsWinner reports whether user completed id inside the payout window.
func (l *PrizeLedger) IsWinner(id, user string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return false, ErrNotFound
	}
	for _, c := range rec.Completions {
		if c.Account == user {
			return c.PrizeAmount > 0, nil
		}
	}
	return false, nil
}

// RankOf returns the 1-based rank of user for id, 0 when user has no
// completion recorded.
func (l *PrizeLedger) RankOf(id, user string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	for _, c := range rec.Completions {
		if c.Account == user {
			return c.Rank, nil
		}
	}
	return 0, nil
}

// RecordIDs lists all record ids, oldest first.
func (l *PrizeLedger) RecordIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.records))
	for id := range l.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return l.records[ids[i]].CreatedAt.Before(l.records[ids[j]].CreatedAt)
	})
	return ids
}

func copyRecord(rec *CrosswordRecord) CrosswordRecord {
	out := *rec
	out.Percentages = append([]int64(nil), rec.Percentages...)
	out.Completions = make([]*Completion, 0, len(rec.Completions))
	for _, c := range rec.Completions {
		cc := *c
		out.Completions = append(out.Completions, &cc)
	}
	return out
}

// Load rebuilds the in-memory ledger from Postgres at startup.
func (l *PrizeLedger) Load() error {
	if l.db == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	assetRows, err := l.db.Query(`SELECT asset_id FROM allowed_assets`)
	if err != nil {
		return err
	}
	for assetRows.Next() {
		var assetID string
		if err := assetRows.Scan(&assetID); err == nil {
			l.allowedAssets[assetID] = true
		}
	}
	assetRows.Close()

	rows, err := l.db.Query(`
		SELECT id, asset_id, puzzle_id, sponsor, total_pool, remaining_balance,
			percentages, created_at, activation_time, deadline, completed_at,
			swept_amount, swept, state, max_winners
		FROM crossword_records
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec := &CrosswordRecord{}
		var percentages pq.Int64Array
		var activation, deadline, completed sql.NullTime
		var state string
		if err := rows.Scan(
			&rec.ID, &rec.AssetID, &rec.PuzzleID, &rec.Sponsor, &rec.TotalPool,
			&rec.RemainingBalance, &percentages, &rec.CreatedAt, &activation,
			&deadline, &completed, &rec.SweptAmount, &rec.Swept, &state,
			&rec.MaxWinners,
		); err != nil {
			return err
		}
		rec.Percentages = []int64(percentages)
		if activation.Valid {
			rec.ActivationTime = activation.Time
		}
		if deadline.Valid {
			rec.Deadline = deadline.Time
		}
		if completed.Valid {
			rec.CompletedAt = completed.Time
		}
		rec.State = parseRecordState(state)
		l.records[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rec := range l.records {
		compRows, err := l.db.Query(`
			SELECT account_id, username, display_name, avatar_url, completed_at,
				rank, duration_ms, prize_amount, pending_amount, claimed
			FROM completions
			WHERE crossword_id = $1
			ORDER BY rank ASC
		`, rec.ID)
		if err != nil {
			return err
		}
		for compRows.Next() {
			c := &Completion{}
			if err := compRows.Scan(
				&c.Account, &c.Username, &c.DisplayName, &c.AvatarURL,
				&c.CompletedAt, &c.Rank, &c.DurationMs, &c.PrizeAmount,
				&c.PendingAmount, &c.Claimed,
			); err != nil {
				compRows.Close()
				return err
			}
			rec.Completions = append(rec.Completions, c)
		}
		compRows.Close()
		if err := compRows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// persistRecord mirrors one record (and its completions) to Postgres.
// Mirror failures are logged, never surfaced: the in-memory ledger is the
// source of truth for a running instance.
func (l *PrizeLedger) persistRecord(rec *CrosswordRecord) {
	if l.db == nil {
		return
	}
	_, err := l.db.Exec(`
		INSERT INTO crossword_records (
			id, asset_id, puzzle_id, sponsor, total_pool, remaining_balance,
			percentages, created_at, activation_time, deadline, completed_at,
			swept_amount, swept, state, max_winners
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			remaining_balance = EXCLUDED.remaining_balance,
			activation_time = EXCLUDED.activation_time,
			completed_at = EXCLUDED.completed_at,
			swept_amount = EXCLUDED.swept_amount,
			swept = EXCLUDED.swept,
			state = EXCLUDED.state
	`,
		rec.ID, rec.AssetID, rec.PuzzleID, rec.Sponsor, rec.TotalPool,
		rec.RemainingBalance, pq.Int64Array(rec.Percentages), rec.CreatedAt,
		nullableTime(rec.ActivationTime), nullableTime(rec.Deadline),
		nullableTime(rec.CompletedAt), rec.SweptAmount, rec.Swept,
		rec.State.String(), rec.MaxWinners,
	)
	if err != nil {
		log.Println("record persist failed:", err)
		return
	}

	for _, c := range rec.Completions {
		_, err := l.db.Exec(`
			INSERT INTO completions (
				crossword_id, account_id, username, display_name, avatar_url,
				completed_at, rank, duration_ms, prize_amount, pending_amount, claimed
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (crossword_id, account_id) DO UPDATE SET
				pending_amount = EXCLUDED.pending_amount,
				claimed = EXCLUDED.claimed
		`,
			rec.ID, c.Account, c.Username, c.DisplayName, c.AvatarURL,
			c.CompletedAt, c.Rank, c.DurationMs, c.PrizeAmount,
			c.PendingAmount, c.Claimed,
		)
		if err != nil {
			log.Println("completion persist failed:", err)
		}
	}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func appendPayoutLog(db *sql.DB, crosswordID, account, asset string, amount int64, kind string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO payout_log (crossword_id, account_id, asset, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, crosswordID, account, asset, amount, kind)
	if err != nil {
		log.Println("payout log append failed:", err)
	}
}
