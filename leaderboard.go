package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type leaderboardFilters struct {
	CrosswordID string
	Query       string
	WinnersOnly bool
	Sort        string
	Page        int
	PageSize    int
}

type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	Account     string `json:"account"`
	DisplayName string `json:"displayName"`
	CrosswordID string `json:"crosswordId"`
	DurationMs  int64  `json:"durationMs"`
	PrizeAmount int64  `json:"prizeAmount"`
	CompletedAt string `json:"completedAt,omitempty"`
}

type LeaderboardResponse struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
	Total    int                `json:"total"`
	Results  []LeaderboardEntry `json:"results"`
}

// leaderboardHandler serves GET /leaderboard: completions across all
// crosswords (or one, via ?crosswordId=), ranked by the requested sort.
// It reads straight from Postgres because the log can outgrow what is
// worth paging through memory.
func leaderboardHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		filters := parseLeaderboardFilters(r)
		orderBy := leaderboardOrderBy(filters.Sort)

		whereClauses := []string{"($1 = '' OR c.crossword_id = $1)"}
		args := []interface{}{filters.CrosswordID}
		argIndex := 2

		if filters.WinnersOnly {
			whereClauses = append(whereClauses, "c.prize_amount > 0")
		}
		if filters.Query != "" {
			whereClauses = append(whereClauses, "(c.account_id ILIKE $"+strconv.Itoa(argIndex)+" OR c.display_name ILIKE $"+strconv.Itoa(argIndex)+")")
			args = append(args, "%"+filters.Query+"%")
			argIndex++
		}

		where := strings.Join(whereClauses, " AND ")

		countQuery := fmt.Sprintf(`
			SELECT COUNT(*)
			FROM completions c
			WHERE %s
		`, where)
		var total int
		if err := db.QueryRow(countQuery, args...).Scan(&total); err != nil {
			json.NewEncoder(w).Encode(LeaderboardResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		offset := (filters.Page - 1) * filters.PageSize
		argsWithPage := append(args, filters.PageSize, offset)
		resultsQuery := fmt.Sprintf(`
			SELECT
				ROW_NUMBER() OVER (ORDER BY %s) AS board_rank,
				c.account_id,
				COALESCE(NULLIF(c.display_name, ''), NULLIF(c.username, ''), c.account_id),
				c.crossword_id,
				c.duration_ms,
				c.prize_amount,
				c.completed_at
			FROM completions c
			WHERE %s
			ORDER BY %s
			LIMIT $%d OFFSET $%d
		`, orderBy, where, orderBy, len(args)+1, len(args)+2)

		rows, err := db.Query(resultsQuery, argsWithPage...)
		if err != nil {
			json.NewEncoder(w).Encode(LeaderboardResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		defer rows.Close()

		results := []LeaderboardEntry{}
		for rows.Next() {
			var entry LeaderboardEntry
			var completedAt sql.NullTime
			if err := rows.Scan(&entry.Rank, &entry.Account, &entry.DisplayName, &entry.CrosswordID, &entry.DurationMs, &entry.PrizeAmount, &completedAt); err != nil {
				continue
			}
			if completedAt.Valid {
				entry.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339)
			}
			results = append(results, entry)
		}

		json.NewEncoder(w).Encode(LeaderboardResponse{
			OK:       true,
			Page:     filters.Page,
			PageSize: filters.PageSize,
			Total:    total,
			Results:  results,
		})
	}
}

func parseLeaderboardFilters(r *http.Request) leaderboardFilters {
	query := r.URL.Query()
	page := parsePositiveInt(query.Get("page"), 1)
	pageSize := parsePositiveInt(query.Get("pageSize"), 50)
	if pageSize > 200 {
		pageSize = 200
	}
	winnersOnly := false
	if raw := strings.TrimSpace(query.Get("winnersOnly")); raw != "" {
		if parsed, err := parseBool(raw); err == nil {
			winnersOnly = parsed
		}
	}

	return leaderboardFilters{
		CrosswordID: strings.TrimSpace(query.Get("crosswordId")),
		Query:       strings.TrimSpace(query.Get("q")),
		WinnersOnly: winnersOnly,
		Sort:        strings.TrimSpace(query.Get("sort")),
		Page:        page,
		PageSize:    pageSize,
	}
}

func leaderboardOrderBy(sortKey string) string {
	switch sortKey {
	case "prize_desc":
		return "c.prize_amount DESC, c.duration_ms ASC, c.completed_at ASC, c.account_id ASC"
	case "arrival":
		return "c.completed_at ASC, c.rank ASC, c.account_id ASC"
	case "duration_desc":
		return "c.duration_ms DESC, c.completed_at ASC, c.account_id ASC"
	case "duration_asc", "":
		fallthrough
	default:
		return "c.duration_ms ASC, c.completed_at ASC, c.account_id ASC"
	}
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
