package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

type UserRepository struct{}

func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `
	u.id, u.email, u.name, u.status, u.active_role,
	(SELECT COALESCE(array_agg(r.role ORDER BY r.role), '{}') FROM portal_user_roles r WHERE r.user_id = u.id),
	u.reset_code_hash, u.reset_code_expires_at,
	u.totp_secret_encrypted, u.totp_secret_nonce, u.totp_verified_at, u.totp_last_used_at,
	u.created_at, u.updated_at
`

// scanUserRow handles nullable fields and populates a PortalUser model from a database row
func scanUserRow(scanner rowScanner) (*models.PortalUser, error) {
	var user models.PortalUser

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Name, &user.Status, &user.ActiveRole,
		&user.AllowedRoles,
		&user.ResetCodeHash, &user.ResetCodeExpiresAt,
		&user.TOTPSecretEncrypted, &user.TOTPSecretNonce, &user.TOTPVerifiedAt, &user.TOTPLastUsedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

// scanUserRows iterates through rows and scans each into PortalUser models
func scanUserRows(rows pgx.Rows) ([]*models.PortalUser, error) {
	defer rows.Close()

	users := make([]*models.PortalUser, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, q database.Executor, id string) (*models.PortalUser, error) {
	query := `SELECT ` + userColumns + ` FROM portal_users u WHERE u.id = $1`

	return scanUserRow(q.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, q database.Executor, email string) (*models.PortalUser, error) {
	query := `SELECT ` + userColumns + ` FROM portal_users u WHERE lower(u.email) = lower($1)`

	return scanUserRow(q.QueryRow(ctx, query, email))
}

func (r *UserRepository) List(ctx context.Context, q database.Executor, limit, offset int) ([]*models.PortalUser, error) {
	query := `SELECT ` + userColumns + ` FROM portal_users u ORDER BY u.created_at DESC LIMIT $1 OFFSET $2`

	rows, err := q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

// Create inserts the account row and its allowed-role set
func (r *UserRepository) Create(ctx context.Context, q database.Executor, user *models.PortalUser) (*models.PortalUser, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Status == "" {
		user.Status = models.UserStatusPending
	}

	query := `
		INSERT INTO portal_users (id, email, name, status, active_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := q.Exec(ctx, query,
		user.ID, user.Email, user.Name, user.Status, user.ActiveRole,
		user.CreatedAt, user.UpdatedAt,
	); err != nil {
		return nil, database.MapPostgresError(err)
	}

	for _, role := range user.AllowedRoles {
		if _, err := q.Exec(ctx,
			`INSERT INTO portal_user_roles (user_id, role) VALUES ($1, $2)`,
			user.ID, role,
		); err != nil {
			return nil, database.MapPostgresError(err)
		}
	}

	return r.GetByID(ctx, q, user.ID)
}

func (r *UserRepository) Update(ctx context.Context, q database.Executor, user *models.PortalUser) (*models.PortalUser, error) {
	query := `
		UPDATE portal_users
		SET email = $2, name = $3, status = $4, active_role = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query, user.ID, user.Email, user.Name, user.Status, user.ActiveRole)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}

	return r.GetByID(ctx, q, user.ID)
}

// SetAllowedRoles replaces the user's allowed-role set
func (r *UserRepository) SetAllowedRoles(ctx context.Context, q database.Executor, userID string, roles []string) error {
	if _, err := q.Exec(ctx, `DELETE FROM portal_user_roles WHERE user_id = $1`, userID); err != nil {
		return database.MapPostgresError(err)
	}

	for _, role := range roles {
		if _, err := q.Exec(ctx,
			`INSERT INTO portal_user_roles (user_id, role) VALUES ($1, $2)`,
			userID, role,
		); err != nil {
			return database.MapPostgresError(err)
		}
	}

	return nil
}

// SetStatus transitions the account status. Revocation is a status
// change, never a row delete.
func (r *UserRepository) SetStatus(ctx context.Context, q database.Executor, userID, status string) error {
	tag, err := q.Exec(ctx,
		`UPDATE portal_users SET status = $2, updated_at = NOW() WHERE id = $1`,
		userID, status,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetActiveRole records a role switch
func (r *UserRepository) SetActiveRole(ctx context.Context, q database.Executor, userID, role string) error {
	tag, err := q.Exec(ctx,
		`UPDATE portal_users SET active_role = $2, updated_at = NOW() WHERE id = $1`,
		userID, role,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetResetCode stores the bcrypt hash and expiry of a pending reset code
func (r *UserRepository) SetResetCode(ctx context.Context, q database.Executor, userID, codeHash string, expiresAt time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE portal_users SET reset_code_hash = $2, reset_code_expires_at = $3, updated_at = NOW() WHERE id = $1`,
		userID, codeHash, expiresAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearResetCode removes a pending reset code after use or expiry
func (r *UserRepository) ClearResetCode(ctx context.Context, q database.Executor, userID string) error {
	_, err := q.Exec(ctx,
		`UPDATE portal_users SET reset_code_hash = NULL, reset_code_expires_at = NULL, updated_at = NOW() WHERE id = $1`,
		userID,
	)
	return database.MapPostgresError(err)
}

// SetTOTPSecret stores a newly generated, not yet verified secret
func (r *UserRepository) SetTOTPSecret(ctx context.Context, q database.Executor, userID string, encrypted, nonce []byte) error {
	tag, err := q.Exec(ctx, `
		UPDATE portal_users
		SET totp_secret_encrypted = $2, totp_secret_nonce = $3, totp_verified_at = NULL, totp_last_used_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID, encrypted, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkTOTPVerified completes enrollment after the first valid code
func (r *UserRepository) MarkTOTPVerified(ctx context.Context, q database.Executor, userID string, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE portal_users SET totp_verified_at = $2, totp_last_used_at = $2, updated_at = NOW() WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TouchTOTPUsed records acceptance of a code for replay rejection
func (r *UserRepository) TouchTOTPUsed(ctx context.Context, q database.Executor, userID string, at time.Time) error {
	_, err := q.Exec(ctx,
		`UPDATE portal_users SET totp_last_used_at = $2, updated_at = NOW() WHERE id = $1`,
		userID, at,
	)
	return database.MapPostgresError(err)
}
