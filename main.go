package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

/* ======================
   Request / Response Types
   ====================== */

type SignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type CreateCrosswordRequest struct {
	CrosswordID  string  `json:"crosswordId"`
	AssetID      string  `json:"assetId,omitempty"`
	Pool         int64   `json:"pool"`
	Percentages  []int64 `json:"percentages"`
	DeadlineUnix int64   `json:"deadlineUnix,omitempty"`
	MaxWinners   int     `json:"maxWinners,omitempty"`
}

type CrosswordIDRequest struct {
	CrosswordID string `json:"crosswordId"`
}

type CompleteCrosswordRequest struct {
	DurationMs  int64  `json:"durationMs"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Signature   string `json:"signature"`
}

type CompleteCrosswordResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	Rank          int    `json:"rank,omitempty"`
	PrizeAmount   int64  `json:"prizeAmount,omitempty"`
	PendingAmount int64  `json:"pendingAmount,omitempty"`
}

type ClaimPrizeRequest struct {
	CrosswordID string `json:"crosswordId"`
}

type ClaimPrizeResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

type SweepResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Amount int64  `json:"amount,omitempty"`
}

type AllowAssetRequest struct {
	AssetID string `json:"assetId"`
}

type SetSignerRequest struct {
	Key string `json:"key"` // hex, 33-byte compressed secp256k1 point
}

type SetPuzzleRequest struct {
	PuzzleID string `json:"puzzleId"`
	Blob     []byte `json:"blob"`
}

type PuzzleResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	PuzzleID  string `json:"puzzleId,omitempty"`
	Blob      []byte `json:"blob,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type RoleRequest struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
}

type FreezeAccountRequest struct {
	AccountID string `json:"accountId"`
	Frozen    bool   `json:"frozen"`
}

type RecordView struct {
	ID               string  `json:"id"`
	AssetID          string  `json:"assetId"`
	PuzzleID         string  `json:"puzzleId,omitempty"`
	TotalPool        int64   `json:"totalPool"`
	RemainingBalance int64   `json:"remainingBalance"`
	Percentages      []int64 `json:"percentages"`
	ActivationTime   string  `json:"activationTime,omitempty"`
	Deadline         string  `json:"deadline,omitempty"`
	State            string  `json:"state"`
	MaxWinners       int     `json:"maxWinners"`
	CompletionCount  int     `json:"completionCount"`
	SweptAmount      int64   `json:"sweptAmount,omitempty"`
}

type RecordResponse struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Record *RecordView `json:"record,omitempty"`
}

type RecordsResponse struct {
	OK  bool     `json:"ok"`
	IDs []string `json:"ids"`
}

type CompletionView struct {
	Account       string `json:"account"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	CompletedAt   string `json:"completedAt"`
	Rank          int    `json:"rank"`
	DurationMs    int64  `json:"durationMs"`
	PrizeAmount   int64  `json:"prizeAmount"`
	PendingAmount int64  `json:"pendingAmount"`
	Claimed       bool   `json:"claimed"`
}

type CompletionsResponse struct {
	OK          bool             `json:"ok"`
	Error       string           `json:"error,omitempty"`
	Completions []CompletionView `json:"completions,omitempty"`
}

type WinnerResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	IsWinner bool   `json:"isWinner"`
	Rank     int    `json:"rank,omitempty"`
}

type SettingsResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Settings LedgerSettings `json:"settings,omitempty"`
}

type BalanceResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Balance int64  `json:"balance"`
}

type SimpleResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

/* ======================
   main()
   ====================== */

func main() {
	deploymentID := strings.TrimSpace(os.Getenv("DEPLOYMENT_ID"))
	if deploymentID == "" {
		log.Fatal("DEPLOYMENT_ID is not set")
	}
	log.Println("Deployment:", deploymentID)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal("failed to open database:", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database:", err)
	}
	log.Println("Connected to PostgreSQL")

	if err := ensureSchema(db); err != nil {
		log.Fatal("Failed to ensure schema:", err)
	}

	cfg := NewConfigStore(db)
	if err := cfg.Load(); err != nil {
		log.Println("Failed to load ledger settings:", err)
	}

	access := NewAccessController(db)
	if err := access.Load(); err != nil {
		log.Fatal("Failed to load role grants:", err)
	}

	ctx := context.Background()
	lockConn, acquired, err := acquireStartupLock(ctx, db)
	if err != nil {
		log.Fatal("Failed to acquire startup lock:", err)
	}
	if acquired {
		startupLockConn = lockConn
		log.Println("Startup lock acquired; running leader-only initialization")
		if err := ensureOwnerBootstrap(ctx, db, access, cfg); err != nil {
			log.Fatal("Owner bootstrap failed:", err)
		}
	} else {
		log.Println("Startup lock held by another instance; skipping leader-only initialization")
		if lockConn != nil {
			_ = lockConn.Close()
		}
	}
	// A follower may have raced the leader's seed; reload to be sure.
	if err := access.Load(); err != nil {
		log.Fatal("Failed to reload role grants:", err)
	}

	registry := NewPuzzleRegistry(db, access)
	if err := registry.Load(); err != nil {
		log.Fatal("Failed to load puzzle slot:", err)
	}

	bank := NewPGBank(db)
	ledger := NewPrizeLedger(db, bank, access, cfg)
	if err := ledger.Load(); err != nil {
		log.Fatal("Failed to load prize ledger:", err)
	}

	verifier := NewCompletionVerifier(registry)
	coordinator := NewCoordinator(cfg, access, registry, ledger, verifier, deploymentID, operatorPrincipal)

	if featureFlags.AnnouncerEnabled {
		token := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
		chatID, _ := strconv.ParseInt(strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")), 10, 64)
		if token != "" && chatID != 0 {
			announcer, err := NewTelegramAnnouncer(token, chatID)
			if err != nil {
				log.Println("Telegram announcer disabled:", err)
			} else {
				coordinator.SetAnnouncer(announcer)
				log.Println("Telegram announcer enabled")
			}
		}
	}

	mux := http.NewServeMux()
	registerRoutes(mux, db, coordinator, ledger, registry, access, cfg, bank)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := "0.0.0.0:" + port

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Println("Listening on", addr)
		return http.ListenAndServe(addr, mux)
	})
	if acquired && featureFlags.SweepTickerEnabled {
		g.Go(func() error {
			return runSweepTicker(gctx, db, ledger)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal("server failed:", err)
	}
}

/* ======================
   Routes
   ====================== */

func registerRoutes(mux *http.ServeMux, db *sql.DB, co *Coordinator, ledger *PrizeLedger, registry *PuzzleRegistry, access *AccessController, cfg *ConfigStore, bank *PGBank) {
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/auth/signup", signupHandler(db))
	mux.HandleFunc("/auth/login", loginHandler(db))
	mux.HandleFunc("/auth/logout", logoutHandler(db))

	mux.HandleFunc("/crossword/create", createCrosswordHandler(db, co))
	mux.HandleFunc("/crossword/activate", activateCrosswordHandler(db, co))
	mux.HandleFunc("/crossword/finalize", finalizeCrosswordHandler(db, co))
	mux.HandleFunc("/crossword/complete", completeCrosswordHandler(db, co))
	mux.HandleFunc("/crossword/claim", claimPrizeHandler(db, co))
	mux.HandleFunc("/crossword/sweep", sweepCrosswordHandler(db, co))
	mux.HandleFunc("/crossword/record", recordHandler(co))
	mux.HandleFunc("/crossword/records", recordsHandler(co))
	mux.HandleFunc("/crossword/completions", completionsHandler(co))
	mux.HandleFunc("/crossword/winner", winnerHandler(co))
	mux.HandleFunc("/crossword/rank", winnerHandler(co))
	mux.HandleFunc("/max-winners", maxWinnersHandler(co))
	mux.HandleFunc("/leaderboard", leaderboardHandler(db))

	mux.HandleFunc("/puzzle", puzzleHandler(db, registry))
	mux.HandleFunc("/puzzle/signer", setSignerHandler(db, registry))

	mux.HandleFunc("/assets/allow", allowAssetHandler(db, ledger))
	mux.HandleFunc("/roles/grant", grantRoleHandler(db, access))
	mux.HandleFunc("/roles/revoke", revokeRoleHandler(db, access))
	mux.HandleFunc("/admin/settings", ledgerSettingsHandler(db, access, cfg))
	mux.HandleFunc("/admin/freeze-account", freezeAccountHandler(db, access))
	mux.HandleFunc("/balance", balanceHandler(db, bank))
}
