package main

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PuzzleRegistry holds the single current puzzle slot and the trusted signer
// key that authorizes completions. The puzzle blob is opaque; the registry
// never inspects it.
type PuzzleRegistry struct {
	mu        sync.RWMutex
	db        *sql.DB
	access    *AccessController
	puzzleID  string
	blob      []byte
	updatedAt time.Time
	signer    *secp256k1.PublicKey
	signerRaw []byte
}

func NewPuzzleRegistry(db *sql.DB, access *AccessController) *PuzzleRegistry {
	return &PuzzleRegistry{db: db, access: access}
}

func (p *PuzzleRegistry) Load() error {
	if p.db == nil {
		return nil
	}
	var puzzleID string
	var blob []byte
	var updatedAt time.Time
	var signerKey []byte
	err := p.db.QueryRow(`
		SELECT puzzle_id, blob, updated_at, COALESCE(signer_key, '')
		FROM puzzle_slot
		WHERE slot = 1
	`).Scan(&puzzleID, &blob, &updatedAt, &signerKey)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.puzzleID = puzzleID
	p.blob = blob
	p.updatedAt = updatedAt
	if len(signerKey) > 0 {
		pub, err := secp256k1.ParsePubKey(signerKey)
		if err != nil {
			log.Println("stored signer key is invalid:", err)
		} else {
			p.signer = pub
			p.signerRaw = signerKey
		}
	}
	return nil
}

// SetPuzzle overwrites the current slot. Admin only.
func (p *PuzzleRegistry) SetPuzzle(caller, puzzleID string, blob []byte) error {
	if !p.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	if !isValidCrosswordID(puzzleID) {
		return ErrValidation
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puzzleID = puzzleID
	p.blob = blob
	p.updatedAt = time.Now().UTC()
	p.persist()
	return nil
}

// SetTrustedSigner replaces the completion-signing key. Admin only. The key
// is a 33-byte compressed secp256k1 public key.
func (p *PuzzleRegistry) SetTrustedSigner(caller string, key []byte) error {
	if !p.access.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	pub, err := secp256k1.ParsePubKey(key)
	if err != nil {
		return ErrValidation
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = pub
	p.signerRaw = append([]byte(nil), key...)
	p.updatedAt = time.Now().UTC()
	p.persist()
	return nil
}

// Current returns the current puzzle slot.
func (p *PuzzleRegistry) Current() (string, []byte, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.puzzleID, append([]byte(nil), p.blob...), p.updatedAt
}

func (p *PuzzleRegistry) TrustedSigner() *secp256k1.PublicKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signer
}

func (p *PuzzleRegistry) persist() {
	if p.db == nil {
		return
	}
	_, err := p.db.Exec(`
		INSERT INTO puzzle_slot (slot, puzzle_id, blob, updated_at, signer_key)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (slot) DO UPDATE SET
			puzzle_id = EXCLUDED.puzzle_id,
			blob = EXCLUDED.blob,
			updated_at = EXCLUDED.updated_at,
			signer_key = EXCLUDED.signer_key
	`, p.puzzleID, p.blob, p.updatedAt, p.signerRaw)
	if err != nil {
		log.Println("puzzle slot persist failed:", err)
	}
}
