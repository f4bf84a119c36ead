// One-off operational helper: lists every role grant, and can repair a
// missing grant directly in the database when the HTTP surface is not an
// option (for example after the owner account was revoked by mistake).
//
// Usage:
//
//	DATABASE_URL=... go run scripts/list_roles.go
//	DATABASE_URL=... go run scripts/list_roles.go grant <principal> <owner|admin|operator>
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Println("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fmt.Println("Failed to open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) == 4 && os.Args[1] == "grant" {
		if err := grantRole(db, os.Args[2], os.Args[3]); err != nil {
			fmt.Println("Failed to grant role:", err)
			os.Exit(1)
		}
		fmt.Printf("Granted %s to %s\n", os.Args[3], os.Args[2])
	}

	rows, err := db.Query(`
		SELECT principal, role, granted_by, created_at
		FROM role_grants
		ORDER BY CASE role WHEN 'owner' THEN 3 WHEN 'admin' THEN 2 WHEN 'operator' THEN 1 ELSE 0 END DESC, principal
	`)
	if err != nil {
		fmt.Println("Failed to query role grants:", err)
		os.Exit(1)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var principal, role, grantedBy string
		var createdAt time.Time
		if err := rows.Scan(&principal, &role, &grantedBy, &createdAt); err != nil {
			fmt.Println("Failed to scan row:", err)
			os.Exit(1)
		}
		fmt.Printf("%-40s %-10s granted by %-20s %s\n", principal, role, grantedBy, createdAt.UTC().Format(time.RFC3339))
		count++
	}
	if err := rows.Err(); err != nil {
		fmt.Println("Row iteration failed:", err)
		os.Exit(1)
	}
	if count == 0 {
		fmt.Println("No role grants found. The server seeds an owner on first boot;")
		fmt.Println("use the grant form of this script only to repair a broken deployment.")
	}
}

// grantRole writes the same row shape AccessController.persist does, so the
// server's Load picks the repair up unchanged.
func grantRole(db *sql.DB, principal, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "owner", "admin", "operator":
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := db.Exec(`
		INSERT INTO role_grants (principal, role, granted_by, created_at)
		VALUES ($1, $2, 'repair-script', NOW())
		ON CONFLICT (principal) DO UPDATE SET role = EXCLUDED.role
	`, principal, role)
	return err
}
