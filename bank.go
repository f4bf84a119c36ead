package main

import (
	"database/sql"
)

// PayoutBank is the funds rail the ledger escrows from and pays into.
// Amounts are integer base units of the given asset; the empty asset id is
// the native unit.
type PayoutBank interface {
	// Debit removes amount from account, failing ErrInsufficientFunds when
	// the balance does not cover it.
	Debit(account, asset string, amount int64) error
	// Credit adds amount to account. Frozen accounts reject incoming value,
	// which is what turns an automatic payout into a pending amount.
	Credit(account, asset string, amount int64) error
}

// PGBank keeps per-(account, asset) balances in Postgres. Each call is one
// transaction.
type PGBank struct {
	db *sql.DB
}

func NewPGBank(db *sql.DB) *PGBank {
	return &PGBank{db: db}
}

func (b *PGBank) Debit(account, asset string, amount int64) error {
	if amount <= 0 {
		return ErrValidation
	}
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRow(`
		SELECT balance
		FROM balances
		WHERE account_id = $1 AND asset = $2
		FOR UPDATE
	`, account, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(`
		UPDATE balances
		SET balance = balance - $3
		WHERE account_id = $1 AND asset = $2
	`, account, asset, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *PGBank) Credit(account, asset string, amount int64) error {
	if amount <= 0 {
		return ErrValidation
	}
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var frozen bool
	err = tx.QueryRow(`
		SELECT frozen
		FROM accounts
		WHERE account_id = $1
	`, account).Scan(&frozen)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if frozen {
		return ErrValidation
	}

	if _, err := tx.Exec(`
		INSERT INTO balances (account_id, asset, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, asset) DO UPDATE SET balance = balances.balance + EXCLUDED.balance
	`, account, asset, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Balance is a read-only query used by the HTTP surface.
func (b *PGBank) Balance(account, asset string) (int64, error) {
	var balance int64
	err := b.db.QueryRow(`
		SELECT balance
		FROM balances
		WHERE account_id = $1 AND asset = $2
	`, account, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}
