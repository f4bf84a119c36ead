package main

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// requireSession resolves the acting principal. Role checks themselves live
// in the components, which fail ErrUnauthorized; handlers only establish
// who is calling.
func requireSession(db *sql.DB, w http.ResponseWriter, r *http.Request) (*Account, bool) {
	account, _, err := getSessionAccount(db, r)
	if err != nil || account == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	return account, true
}

func createCrosswordHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req CreateCrosswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		var deadline time.Time
		if req.DeadlineUnix > 0 {
			deadline = time.Unix(req.DeadlineUnix, 0).UTC()
		}
		err := co.CreateSponsoredCrossword(
			account.AccountID, req.CrosswordID, req.AssetID, req.Pool,
			req.Percentages, deadline, req.MaxWinners,
		)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func activateCrosswordHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req CrosswordIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if err := co.Activate(account.AccountID, req.CrosswordID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func finalizeCrosswordHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req CrosswordIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if err := co.Finalize(account.AccountID, req.CrosswordID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func sweepCrosswordHandler(db *sql.DB, co *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req CrosswordIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SweepResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		amount, err := co.SweepUnclaimed(account.AccountID, req.CrosswordID)
		if err != nil {
			json.NewEncoder(w).Encode(SweepResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SweepResponse{OK: true, Amount: amount})
	}
}

func allowAssetHandler(db *sql.DB, ledger *PrizeLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req AllowAssetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if err := ledger.AllowAsset(account.AccountID, req.AssetID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func setSignerHandler(db *sql.DB, registry *PuzzleRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req SetSignerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		key, err := hex.DecodeString(strings.TrimSpace(req.Key))
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: ErrValidation.Error()})
			return
		}
		if err := registry.SetTrustedSigner(account.AccountID, key); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func grantRoleHandler(db *sql.DB, access *AccessController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req RoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		role := ParseRole(req.Role)
		if role == RoleNone {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: ErrValidation.Error()})
			return
		}
		if err := access.Grant(account.AccountID, req.Principal, role); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func revokeRoleHandler(db *sql.DB, access *AccessController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}

		var req RoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		role := ParseRole(req.Role)
		if role == RoleNone {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: ErrValidation.Error()})
			return
		}
		if err := access.Revoke(account.AccountID, req.Principal, role); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: errorCode(err)})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func ledgerSettingsHandler(db *sql.DB, access *AccessController, cfg *ConfigStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}
		if !access.HasRole(account.AccountID, RoleAdmin) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(SettingsResponse{OK: true, Settings: cfg.Get()})
		case http.MethodPost:
			var updates map[string]string
			if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
				json.NewEncoder(w).Encode(SettingsResponse{OK: false, Error: "INVALID_REQUEST"})
				return
			}
			settings, err := cfg.Update(updates)
			if err != nil {
				json.NewEncoder(w).Encode(SettingsResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			json.NewEncoder(w).Encode(SettingsResponse{OK: true, Settings: settings})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func freezeAccountHandler(db *sql.DB, access *AccessController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		account, ok := requireSession(db, w, r)
		if !ok {
			return
		}
		if !access.HasRole(account.AccountID, RoleAdmin) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		var req FreezeAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if err := setAccountFrozen(db, req.AccountID, req.Frozen); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}
