package main

import (
	"log"
	"time"
)

// WinnerAnnouncer is notified after a ranked completion commits. Failures
// must never affect the ledger; implementations log and move on.
type WinnerAnnouncer interface {
	AnnounceWinner(crosswordID, displayName string, rank int, amount int64)
}

// Coordinator is the public facade. It sequences multi-step flows so each
// one is all-or-nothing from the caller's perspective: verification failures
// reject the whole call before the ledger is touched, and the ledger itself
// commits or rejects atomically.
type Coordinator struct {
	cfg          *ConfigStore
	access       *AccessController
	puzzles      *PuzzleRegistry
	ledger       *PrizeLedger
	verifier     *CompletionVerifier
	announcer    WinnerAnnouncer
	deploymentID string
	// operatorID is the principal the server itself acts under when it
	// records verified completions. Granted Operator at bootstrap.
	operatorID string
}

func NewCoordinator(cfg *ConfigStore, access *AccessController, puzzles *PuzzleRegistry, ledger *PrizeLedger, verifier *CompletionVerifier, deploymentID, operatorID string) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		access:       access,
		puzzles:      puzzles,
		ledger:       ledger,
		verifier:     verifier,
		deploymentID: deploymentID,
		operatorID:   operatorID,
	}
}

func (co *Coordinator) SetAnnouncer(a WinnerAnnouncer) {
	co.announcer = a
}

// CreateSponsoredCrossword creates the escrowed record and associates it
// with the current puzzle slot in one call.
func (co *Coordinator) CreateSponsoredCrossword(caller, id, assetID string, pool int64, percentages []int64, deadline time.Time, maxWinners int) error {
	puzzleID, _, _ := co.puzzles.Current()
	return co.ledger.CreateRecord(caller, id, assetID, puzzleID, caller, pool, percentages, deadline, maxWinners)
}

func (co *Coordinator) Activate(caller, id string) error {
	return co.ledger.Activate(caller, id)
}

func (co *Coordinator) Finalize(caller, id string) error {
	return co.ledger.Finalize(caller, id)
}

// CompleteCrossword verifies the signature against the current puzzle and
// records the completion for it. Either both steps happen or neither does.
func (co *Coordinator) CompleteCrossword(user string, durationMs int64, profile CompletionProfile, sig []byte) (Completion, error) {
	crosswordID, _, _ := co.puzzles.Current()
	if crosswordID == "" {
		return Completion{}, ErrNotFound
	}
	if err := co.verifier.Verify(user, crosswordID, durationMs, co.deploymentID, sig); err != nil {
		return Completion{}, err
	}
	comp, err := co.ledger.RecordCompletion(co.operatorID, crosswordID, user, durationMs, profile)
	if err != nil {
		return Completion{}, err
	}
	if co.announcer != nil && comp.PrizeAmount > 0 && co.cfg.Get().AnnouncementsEnabled {
		name := comp.DisplayName
		if name == "" {
			name = comp.Username
		}
		if name == "" {
			name = comp.Account
		}
		go co.announcer.AnnounceWinner(crosswordID, name, comp.Rank, comp.PrizeAmount)
	}
	return comp, nil
}

func (co *Coordinator) ClaimPrize(id, user string) (int64, error) {
	return co.ledger.ClaimPrize(id, user)
}

func (co *Coordinator) SweepUnclaimed(caller, id string) (int64, error) {
	amount, err := co.ledger.SweepUnclaimed(caller, id)
	if err == nil && amount > 0 {
		log.Printf("swept %d unclaimed units of %s to treasury", amount, id)
	}
	return amount, err
}

func (co *Coordinator) Record(id string) (CrosswordRecord, error) {
	return co.ledger.Record(id)
}

func (co *Coordinator) Completions(id string) ([]Completion, error) {
	return co.ledger.Completions(id)
}

// RecordIDs lists every crossword record id, oldest first.
func (co *Coordinator) RecordIDs() []string {
	return co.ledger.RecordIDs()
}

func (co *Coordinator) IsWinner(id, user string) (bool, error) {
	return co.ledger.IsWinner(id, user)
}

func (co *Coordinator) RankOf(id, user string) (int, error) {
	return co.ledger.RankOf(id, user)
}

// MaxWinners is the configured default winner count cap.
func (co *Coordinator) MaxWinners() int {
	return co.cfg.Get().DefaultMaxWinners
}
