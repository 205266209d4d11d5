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

type LinkingCodeRepository struct{}

func NewLinkingCodeRepository() *LinkingCodeRepository {
	return &LinkingCodeRepository{}
}

const linkingCodeColumns = `
	id, patient_id, code_hash, code_encrypted, code_nonce,
	generated_by, generated_at, expires_at,
	used_at, revoked_at, revoked_by, revoke_reason
`

func scanLinkingCodeRow(scanner rowScanner) (*models.LinkingCode, error) {
	var code models.LinkingCode

	err := scanner.Scan(
		&code.ID, &code.PatientID, &code.CodeHash, &code.CodeEncrypted, &code.CodeNonce,
		&code.GeneratedBy, &code.GeneratedAt, &code.ExpiresAt,
		&code.UsedAt, &code.RevokedAt, &code.RevokedBy, &code.RevokeReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &code, nil
}

func scanLinkingCodeRows(rows pgx.Rows) ([]*models.LinkingCode, error) {
	defer rows.Close()

	codes := make([]*models.LinkingCode, 0)

	for rows.Next() {
		code, err := scanLinkingCodeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linking code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return codes, nil
}

// Create inserts a new code row. A partial unique index on
// (patient_id) over open rows makes a second open code a conflict, so
// callers must revoke outstanding codes in the same transaction first.
func (r *LinkingCodeRepository) Create(ctx context.Context, q database.Executor, code *models.LinkingCode) (*models.LinkingCode, error) {
	code.ID = uuid.New().String()

	query := `
		INSERT INTO patient_linking_codes
			(id, patient_id, code_hash, code_encrypted, code_nonce, generated_by, generated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + linkingCodeColumns

	return scanLinkingCodeRow(q.QueryRow(ctx, query,
		code.ID, code.PatientID, code.CodeHash, code.CodeEncrypted, code.CodeNonce,
		code.GeneratedBy, code.GeneratedAt, code.ExpiresAt,
	))
}

// GetActiveByPatient returns the single unused, unrevoked, unexpired
// code for the patient
func (r *LinkingCodeRepository) GetActiveByPatient(ctx context.Context, q database.Executor, patientID string) (*models.LinkingCode, error) {
	query := `
		SELECT ` + linkingCodeColumns + `
		FROM patient_linking_codes
		WHERE patient_id = $1 AND used_at IS NULL AND revoked_at IS NULL AND expires_at > NOW()
	`

	return scanLinkingCodeRow(q.QueryRow(ctx, query, patientID))
}

// RevokeOpenByPatient revokes every unused, unrevoked code for the
// patient, expired ones included, and returns the revoked rows
func (r *LinkingCodeRepository) RevokeOpenByPatient(ctx context.Context, q database.Executor, patientID, revokedBy, reason string) ([]*models.LinkingCode, error) {
	query := `
		UPDATE patient_linking_codes
		SET revoked_at = NOW(), revoked_by = $2, revoke_reason = $3
		WHERE patient_id = $1 AND used_at IS NULL AND revoked_at IS NULL
		RETURNING ` + linkingCodeColumns

	rows, err := q.Query(ctx, query, patientID, revokedBy, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke linking codes: %w", err)
	}

	return scanLinkingCodeRows(rows)
}

// GetByHash looks up a code by its SHA-256 hash for redemption
func (r *LinkingCodeRepository) GetByHash(ctx context.Context, q database.Executor, codeHash string) (*models.LinkingCode, error) {
	query := `
		SELECT ` + linkingCodeColumns + `
		FROM patient_linking_codes
		WHERE code_hash = $1
	`

	return scanLinkingCodeRow(q.QueryRow(ctx, query, codeHash))
}

// MarkUsed consumes a code at redemption. The open-row predicate makes
// double redemption a state conflict rather than a silent overwrite.
func (r *LinkingCodeRepository) MarkUsed(ctx context.Context, q database.Executor, codeID string, at time.Time) error {
	query := `
		UPDATE patient_linking_codes
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL
	`

	tag, err := q.Exec(ctx, query, codeID, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStateConflict
	}

	return nil
}

// DeleteExpiredOpen removes expired codes that were never used or
// revoked, older than the retention cutoff. Used by the cleanup sweep.
func (r *LinkingCodeRepository) DeleteExpiredOpen(ctx context.Context, q database.Executor, before time.Time) (int64, error) {
	query := `
		DELETE FROM patient_linking_codes
		WHERE used_at IS NULL AND revoked_at IS NULL AND expires_at < $1
	`

	tag, err := q.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return tag.RowsAffected(), nil
}
