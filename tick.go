package main

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// runSweepTicker closes Active records whose deadline has passed, so the
// recovery window has a defined start even when no admin is watching.
// Sweeping itself stays an explicit admin action.
func runSweepTicker(ctx context.Context, db *sql.DB, ledger *PrizeLedger) error {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if n := ledger.FinalizeExpired(); n > 0 {
				log.Println("sweep ticker: finalized", n, "expired records")
			}
			updateTickHeartbeat(db, t)
		}
	}
}

func updateTickHeartbeat(db *sql.DB, now time.Time) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO ledger_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, "sweep_tick_last_utc", now.UTC().Format(time.RFC3339))
	if err != nil {
		log.Println("tick heartbeat update failed:", err)
	}
}
