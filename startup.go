package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"strings"
)

const startupAdvisoryLockID int64 = 571204863

const operatorPrincipal = "prize-coordinator"

var startupLockConn *sql.Conn

func acquireStartupLock(ctx context.Context, db *sql.DB) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, startupAdvisoryLockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

// ensureOwnerBootstrap seeds the initial Owner principal and the server's
// Operator principal exactly once. The seed is sealed by a settings key so
// a later restart with a different OWNER_BOOTSTRAP_ACCOUNT cannot mint a
// second Owner.
func ensureOwnerBootstrap(ctx context.Context, db *sql.DB, access *AccessController, cfg *ConfigStore) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bootstrapComplete := false
	var bootstrapValue string
	if err := tx.QueryRowContext(ctx, `
		SELECT value
		FROM ledger_settings
		WHERE key = 'owner_bootstrap_complete'
		FOR UPDATE
	`).Scan(&bootstrapValue); err == nil {
		bootstrapComplete = strings.ToLower(strings.TrimSpace(bootstrapValue)) == "true"
	} else if err != sql.ErrNoRows {
		return err
	}

	var ownerPrincipal string
	ownerErr := tx.QueryRowContext(ctx, `
		SELECT principal
		FROM role_grants
		WHERE role = 'owner'
		LIMIT 1
		FOR UPDATE
	`).Scan(&ownerPrincipal)
	if ownerErr == nil {
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Println("Owner bootstrap: owner already seeded, skipping")
		return nil
	}
	if ownerErr != sql.ErrNoRows {
		return ownerErr
	}
	if bootstrapComplete {
		return errors.New("bootstrap sealed but no owner exists; refuse to start")
	}

	owner := strings.TrimSpace(os.Getenv("OWNER_BOOTSTRAP_ACCOUNT"))
	if owner == "" {
		return errors.New("OWNER_BOOTSTRAP_ACCOUNT required for first start")
	}
	if !isValidAccountID(owner) {
		return errors.New("OWNER_BOOTSTRAP_ACCOUNT is not a valid account id")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_settings (key, value, updated_at)
		VALUES ('owner_bootstrap_complete', 'true', NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	access.seed(owner, RoleOwner)
	access.seed(operatorPrincipal, RoleOperator)

	if err := ensureAccount(db, owner, "Owner"); err != nil {
		return err
	}
	if err := ensureAccount(db, operatorPrincipal, "Prize Coordinator"); err != nil {
		return err
	}
	treasury := cfg.Get().TreasuryAccount
	if err := ensureAccount(db, treasury, "Treasury"); err != nil {
		return err
	}

	log.Println("Owner bootstrap: seeded owner", owner)
	return nil
}
