package main

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func getClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func enforceAuthRateLimit(db *sql.DB, w http.ResponseWriter, r *http.Request, action string) bool {
	ip := getClientIP(r)
	limit, window := authRateLimitConfig(action)
	allowed, retryAfter, err := checkAuthRateLimit(db, ip, action, limit, window)
	if err != nil {
		log.Println("auth rate limit check failed:", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "INTERNAL_ERROR"})
		return false
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "RATE_LIMIT"})
		return false
	}
	return true
}

func signupHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !enforceAuthRateLimit(db, w, r, "signup") {
			return
		}

		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		account, err := createAccount(db, req.Username, req.Password, req.DisplayName)
		if err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: err.Error()})
			return
		}

		sessionID, expiresAt, err := createSession(db, account.AccountID)
		if err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		writeSessionCookie(w, sessionID, expiresAt)

		json.NewEncoder(w).Encode(AuthResponse{
			OK:          true,
			AccountID:   account.AccountID,
			Username:    account.Username,
			DisplayName: account.DisplayName,
		})
	}
}

func loginHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !enforceAuthRateLimit(db, w, r, "login") {
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		account, err := authenticate(db, req.Username, req.Password)
		if err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: err.Error()})
			return
		}

		sessionID, expiresAt, err := createSession(db, account.AccountID)
		if err != nil {
			json.NewEncoder(w).Encode(AuthResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		writeSessionCookie(w, sessionID, expiresAt)

		json.NewEncoder(w).Encode(AuthResponse{
			OK:          true,
			AccountID:   account.AccountID,
			Username:    account.Username,
			DisplayName: account.DisplayName,
		})
	}
}

func logoutHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, sessionID, err := getSessionAccount(db, r); err == nil {
			clearSession(db, sessionID)
		}
		clearSessionCookie(w)
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func completeCrosswordHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		account, _, err := getSessionAccount(db, r)
		if err != nil || account == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req CompleteCrosswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(CompleteCrosswordResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimSpace(req.Signature))
		if err != nil {
			json.NewEncoder(w).Encode(CompleteCrosswordResponse{OK: false, Error: ErrInvalidSignature.Error()})
			return
		}

		comp, err := co.CompleteCrossword(account.AccountID, req.DurationMs, CompletionProfile{
			Username:    req.Username,
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
		}, sig)
		if err != nil {
			json.NewEncoder(w).Encode(CompleteCrosswordResponse{OK: false, Error: errorCode(err)})
			return
		}

		json.NewEncoder(w).Encode(CompleteCrosswordResponse{
			OK:            true,
			Rank:          comp.Rank,
			PrizeAmount:   comp.PrizeAmount,
			PendingAmount: comp.PendingAmount,
		})
	}
}

func claimPrizeHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		account, _, err := getSessionAccount(db, r)
		if err != nil || account == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req ClaimPrizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(ClaimPrizeResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		amount, err := co.ClaimPrize(req.CrosswordID, account.AccountID)
		if err != nil {
			json.NewEncoder(w).Encode(ClaimPrizeResponse{OK: false, Error: errorCode(err)})
			return
		}

		json.NewEncoder(w).Encode(ClaimPrizeResponse{OK: true, Amount: amount})
	}
}

func recordHandler(co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		rec, err := co.Record(r.URL.Query().Get("id"))
		if err != nil {
			json.NewEncoder(w).Encode(RecordResponse{OK: false, Error: errorCode(err)})
			return
		}

		json.NewEncoder(w).Encode(RecordResponse{OK: true, Record: recordView(rec)})
	}
}

func recordsHandler(co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		json.NewEncoder(w).Encode(RecordsResponse{OK: true, IDs: co.RecordIDs()})
	}
}

func completionsHandler(co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		completions, err := co.Completions(r.URL.Query().Get("id"))
		if err != nil {
			json.NewEncoder(w).Encode(CompletionsResponse{OK: false, Error: errorCode(err)})
			return
		}

		views := make([]CompletionView, 0, len(completions))
		for _, c := range completions {
			views = append(views, completionView(c))
		}
		json.NewEncoder(w).Encode(CompletionsResponse{OK: true, Completions: views})
	}
}

func winnerHandler(co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		query := r.URL.Query()
		isWinner, err := co.IsWinner(query.Get("id"), query.Get("account"))
		if err != nil {
			json.NewEncoder(w).Encode(WinnerResponse{OK: false, Error: errorCode(err)})
			return
		}
		rank, err := co.RankOf(query.Get("id"), query.Get("account"))
		if err != nil {
			json.NewEncoder(w).Encode(WinnerResponse{OK: false, Error: errorCode(err)})
			return
		}

		json.NewEncoder(w).Encode(WinnerResponse{OK: true, IsWinner: isWinner, Rank: rank})
	}
}

func maxWinnersHandler(co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":         true,
			"maxWinners": co.MaxWinners(),
		})
	}
}

func puzzleHandler(db *sql.DB, registry *PuzzleRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			id, blob, updatedAt := registry.Current()
			json.NewEncoder(w).Encode(PuzzleResponse{
				OK:        true,
				PuzzleID:  id,
				Blob:      blob,
				UpdatedAt: updatedAt.UTC().Format(time.RFC3339),
			})
		case http.MethodPost:
			account, _, err := getSessionAccount(db, r)
			if err != nil || account == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var req SetPuzzleRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
				return
			}
			if err := registry.SetPuzzle(account.AccountID, req.PuzzleID, req.Blob); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
				return
			}
			json.NewEncoder(w).Encode(SimpleResponse{OK: true})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func balanceHandler(db *sql.DB, bank *PGBank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		account, _, err := getSessionAccount(db, r)
		if err != nil {
			json.NewEncoder(w).Encode(BalanceResponse{OK: false, Error: "UNAUTHORIZED"})
			return
		}

		asset := strings.TrimSpace(r.URL.Query().Get("asset"))
		balance, err := bank.Balance(account.AccountID, asset)
		if err != nil {
			json.NewEncoder(w).Encode(BalanceResponse{OK: false, Error: errorCode(err)})
			return
		}

		json.NewEncoder(w).Encode(BalanceResponse{OK: true, Balance: balance})
	}
}

func recordView(rec CrosswordRecord) *RecordView {
	view := &RecordView{
		ID:               rec.ID,
		AssetID:          rec.AssetID,
		PuzzleID:         rec.PuzzleID,
		TotalPool:        rec.TotalPool,
		RemainingBalance: rec.RemainingBalance,
		Percentages:      rec.Percentages,
		State:            rec.State.String(),
		MaxWinners:       rec.MaxWinners,
		CompletionCount:  len(rec.Completions),
		SweptAmount:      rec.SweptAmount,
	}
	if !rec.ActivationTime.IsZero() {
		view.ActivationTime = rec.ActivationTime.UTC().Format(time.RFC3339)
	}
	if !rec.Deadline.IsZero() {
		view.Deadline = rec.Deadline.UTC().Format(time.RFC3339)
	}
	return view
}

func completionView(c Completion) CompletionView {
	return CompletionView{
		Account:       c.Account,
		Username:      c.Username,
		DisplayName:   c.DisplayName,
		AvatarURL:     c.AvatarURL,
		CompletedAt:   c.CompletedAt.UTC().Format(time.RFC3339),
		Rank:          c.Rank,
		DurationMs:    c.DurationMs,
		PrizeAmount:   c.PrizeAmount,
		PendingAmount: c.PendingAmount,
		Claimed:       c.Claimed,
	}
}
