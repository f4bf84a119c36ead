package main

import "database/sql"

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS role_grants (
			principal TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			granted_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS puzzle_slot (
			slot INT PRIMARY KEY,
			puzzle_id TEXT NOT NULL,
			blob BYTEA,
			updated_at TIMESTAMPTZ NOT NULL,
			signer_key BYTEA
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS crossword_records (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL DEFAULT '',
			puzzle_id TEXT NOT NULL DEFAULT '',
			sponsor TEXT NOT NULL,
			total_pool BIGINT NOT NULL,
			remaining_balance BIGINT NOT NULL,
			percentages BIGINT[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			activation_time TIMESTAMPTZ,
			deadline TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			swept_amount BIGINT NOT NULL DEFAULT 0,
			swept BOOLEAN NOT NULL DEFAULT FALSE,
			state TEXT NOT NULL,
			max_winners INT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS completions (
			crossword_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			completed_at TIMESTAMPTZ NOT NULL,
			rank INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			prize_amount BIGINT NOT NULL DEFAULT 0,
			pending_amount BIGINT NOT NULL DEFAULT 0,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (crossword_id, account_id)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_completions_rank
		ON completions (crossword_id, rank);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS allowed_assets (
			asset_id TEXT PRIMARY KEY,
			added_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			avatar_url TEXT,
			frozen BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			last_login_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_account_id
		ON sessions (account_id);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS balances (
			account_id TEXT NOT NULL,
			asset TEXT NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, asset)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS payout_log (
			id BIGSERIAL PRIMARY KEY,
			crossword_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			asset TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_payout_log_crossword
		ON payout_log (crossword_id, created_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS auth_rate_limits (
			ip TEXT NOT NULL,
			action TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			attempt_count INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (ip, action)
		);
	`)
	return err
}
