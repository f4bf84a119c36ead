package main

import (
	"database/sql"
	"log"
	"strings"
	"sync"
)

// Role is the closed privilege hierarchy. Higher values subsume lower ones:
// an Owner passes every Admin check and an Admin passes every Operator check.
type Role int

const (
	RoleNone Role = iota
	RoleOperator
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

func ParseRole(value string) Role {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "operator":
		return RoleOperator
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

// AccessController is the single source of truth for authorization. Each
// principal holds at most one role; there is no parallel admin flag anywhere
// else in the system.
type AccessController struct {
	mu     sync.RWMutex
	db     *sql.DB
	grants map[string]Role
}

func NewAccessController(db *sql.DB) *AccessController {
	return &AccessController{
		db:     db,
		grants: make(map[string]Role),
	}
}

func (a *AccessController) Load() error {
	if a.db == nil {
		return nil
	}
	rows, err := a.db.Query(`
		SELECT principal, role
		FROM role_grants
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	for rows.Next() {
		var principal string
		var role string
		if err := rows.Scan(&principal, &role); err != nil {
			continue
		}
		if parsed := ParseRole(role); parsed != RoleNone {
			a.grants[principal] = parsed
		}
	}
	return rows.Err()
}

// Grant assigns role to principal. The caller must hold a strictly superior
// role; nobody can grant Owner, which only exists via the bootstrap seed.
func (a *AccessController) Grant(caller, principal string, role Role) error {
	if role == RoleNone || principal == "" {
		return ErrValidation
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants[caller] <= role {
		return ErrUnauthorized
	}
	a.grants[principal] = role
	a.persist(caller, principal, role)
	return nil
}

// Revoke removes role from principal, caller rules as in Grant.
func (a *AccessController) Revoke(caller, principal string, role Role) error {
	if role == RoleNone || principal == "" {
		return ErrValidation
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants[caller] <= role {
		return ErrUnauthorized
	}
	if a.grants[principal] != role {
		return ErrNotFound
	}
	delete(a.grants, principal)
	if a.db != nil {
		if _, err := a.db.Exec(`
			DELETE FROM role_grants
			WHERE principal = $1
		`, principal); err != nil {
			log.Println("role revoke persist failed:", err)
		}
	}
	return nil
}

// HasRole reports whether principal holds role or a superior one.
func (a *AccessController) HasRole(principal string, role Role) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grants[principal] >= role && role != RoleNone
}

// RoleOf returns the exact role held by principal, RoleNone if unassigned.
func (a *AccessController) RoleOf(principal string) Role {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grants[principal]
}

// seed installs a role without a caller check. Only the sealed bootstrap
// path uses it.
func (a *AccessController) seed(principal string, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grants[principal] = role
	a.persist("bootstrap", principal, role)
}

func (a *AccessController) persist(grantedBy, principal string, role Role) {
	if a.db == nil {
		return
	}
	_, err := a.db.Exec(`
		INSERT INTO role_grants (principal, role, granted_by, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal) DO UPDATE SET role = EXCLUDED.role, granted_by = EXCLUDED.granted_by, created_at = NOW()
	`, principal, role.String(), grantedBy)
	if err != nil {
		log.Println("role grant persist failed:", err)
	}
}
