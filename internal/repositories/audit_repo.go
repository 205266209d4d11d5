package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

// AuditRepository persists the hash-chained ledger. Rows are inserted
// with caller-supplied created_at and chain_hash so the chain input is
// exactly what the table stores.
type AuditRepository struct{}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

const auditColumns = `
	id, actor_id, action, resource_type, resource_id,
	details, justification, chain_hash, created_at
`

func scanAuditRow(scanner rowScanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry

	err := scanner.Scan(
		&entry.ID, &entry.ActorID, &entry.Action, &entry.ResourceType, &entry.ResourceID,
		&entry.Details, &entry.Justification, &entry.ChainHash, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanAuditRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// Insert appends one entry and returns its assigned ID
func (r *AuditRepository) Insert(ctx context.Context, q database.Executor, entry *models.AuditEntry) (*models.AuditEntry, error) {
	query := `
		INSERT INTO audit_log (actor_id, action, resource_type, resource_id, details, justification, chain_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + auditColumns

	return scanAuditRow(q.QueryRow(ctx, query,
		entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Details, entry.Justification, entry.ChainHash, entry.CreatedAt,
	))
}

// LastChainHash returns the chain hash of the newest entry, or ""
// when the ledger is empty
func (r *AuditRepository) LastChainHash(ctx context.Context, q database.Executor) (string, error) {
	var hash string
	err := q.QueryRow(ctx,
		`SELECT chain_hash FROM audit_log ORDER BY id DESC LIMIT 1`,
	).Scan(&hash)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return "", nil
		}
		return "", database.MapPostgresError(err)
	}
	return hash, nil
}

// ListAsc streams the full ledger in insertion order for verification
func (r *AuditRepository) ListAsc(ctx context.Context, q database.Executor) ([]*models.AuditEntry, error) {
	rows, err := q.Query(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	return scanAuditRows(rows)
}

// ListDesc returns a page of entries, newest first
func (r *AuditRepository) ListDesc(ctx context.Context, q database.Executor, limit, offset int) ([]*models.AuditEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	return scanAuditRows(rows)
}

// LastChainHashBefore returns the chain hash of the newest entry older
// than the cutoff, or "" when there is none. Used to anchor
// verification across a retention purge.
func (r *AuditRepository) LastChainHashBefore(ctx context.Context, q database.Executor, cutoff time.Time) (string, error) {
	var hash string
	err := q.QueryRow(ctx,
		`SELECT chain_hash FROM audit_log WHERE created_at < $1 ORDER BY id DESC LIMIT 1`,
		cutoff,
	).Scan(&hash)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrNotFound {
			return "", nil
		}
		return "", database.MapPostgresError(err)
	}
	return hash, nil
}

// DeleteBefore removes entries older than the retention cutoff. Only
// the logged purge path may call this; table policies block every
// other delete.
func (r *AuditRepository) DeleteBefore(ctx context.Context, q database.Executor, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return tag.RowsAffected(), nil
}
