package main

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LedgerSettings are the small named knobs of the prize ledger. They are
// cached in memory and written through to the ledger_settings table.
type LedgerSettings struct {
	MaxWinnersHardCap     int
	DefaultMaxWinners     int
	RecoveryWindowSeconds int
	TreasuryAccount       string
	AnnouncementsEnabled  bool
}

type ConfigStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	cached LedgerSettings
}

func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{
		db: db,
		cached: LedgerSettings{
			MaxWinnersHardCap:     10,
			DefaultMaxWinners:     3,
			RecoveryWindowSeconds: 7 * 24 * 3600,
			TreasuryAccount:       "treasury",
			AnnouncementsEnabled:  true,
		},
	}
}

func (c *ConfigStore) Load() error {
	if c.db == nil {
		return nil
	}
	rows, err := c.db.Query(`
		SELECT key, value
		FROM ledger_settings
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var key string
		var value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		applyLedgerSetting(&c.cached, key, value)
	}
	return rows.Err()
}

func (c *ConfigStore) Get() LedgerSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

func (c *ConfigStore) Update(updates map[string]string) (LedgerSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range updates {
		applyLedgerSetting(&c.cached, key, value)
		if c.db == nil {
			continue
		}
		_, err := c.db.Exec(`
			INSERT INTO ledger_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		if err != nil {
			return c.cached, err
		}
	}
	return c.cached, nil
}

func (c *ConfigStore) RecoveryWindow() time.Duration {
	settings := c.Get()
	if settings.RecoveryWindowSeconds <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(settings.RecoveryWindowSeconds) * time.Second
}

func applyLedgerSetting(target *LedgerSettings, key string, value string) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "max_winners_hard_cap":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.MaxWinnersHardCap = v
		}
	case "default_max_winners":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.DefaultMaxWinners = v
		}
	case "recovery_window_seconds":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.RecoveryWindowSeconds = v
		}
	case "treasury_account":
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			target.TreasuryAccount = trimmed
		}
	case "announcements_enabled":
		if v, err := parseBool(value); err == nil {
			target.AnnouncementsEnabled = v
		}
	}
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}
