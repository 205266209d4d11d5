package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Session configuration parameters read by the row-level security
// policies. All are applied with set_config(..., true): transaction
// local, cleared by the engine at commit or rollback, so a pooled
// connection can never carry one principal's state into another call.
const (
	gucUserID  = "portal.user_id"
	gucRole    = "portal.role"
	gucRoles   = "portal.roles"
	gucService = "portal.service"
)

// Session is the immutable acting principal for exactly one
// transaction: either full service trust (internal collaborators) or
// an authenticated portal user with an active role and allowed set.
// Sessions are never persisted.
type Session struct {
	service      bool
	UserID       string
	Role         string
	AllowedRoles []string
}

// ServiceSession returns the elevated principal used only by internal
// collaborators (EDC sync, rate limiter, admin purge).
func ServiceSession() Session {
	return Session{service: true}
}

// UserSession returns the principal for an authenticated portal user.
func UserSession(userID, activeRole string, allowedRoles []string) Session {
	return Session{
		UserID:       userID,
		Role:         activeRole,
		AllowedRoles: allowedRoles,
	}
}

// IsService reports whether the session carries service-level trust.
func (s Session) IsService() bool {
	return s.service
}

// IsZero reports whether the session carries no principal at all.
func (s Session) IsZero() bool {
	return !s.service && s.UserID == ""
}

// apply pushes the session into transaction-local configuration so the
// engine's policies see the acting principal.
func (s Session) apply(ctx context.Context, tx pgx.Tx) error {
	if s.IsZero() {
		return nil
	}

	if s.service {
		if _, err := tx.Exec(ctx,
			`SELECT set_config($1, 'on', true)`, gucService); err != nil {
			return fmt.Errorf("failed to set service context: %w", err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx,
		`SELECT set_config($1, $2, true), set_config($3, $4, true), set_config($5, $6, true)`,
		gucUserID, s.UserID,
		gucRole, s.Role,
		gucRoles, strings.Join(s.AllowedRoles, ","),
	); err != nil {
		return fmt.Errorf("failed to set session context: %w", err)
	}
	return nil
}

// WithSession runs fn inside one transaction executed as the given
// principal, committing only if fn returns nil and rolling back
// entirely otherwise. The session parameters are transaction local, so
// no role or user state survives past commit/rollback on the pooled
// connection.
func (db *DB) WithSession(ctx context.Context, session Session, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if err = session.apply(ctx, tx); err != nil {
		return err
	}

	err = fn(tx)
	return err
}
