package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
)

// chainAppendLockID serializes ledger appends. Concurrent appenders
// would otherwise read the same predecessor hash and fork the chain.
const chainAppendLockID = 421600

// chainSeed anchors the first entry. Verification of an empty ledger
// or the first record starts from this value, not from "".
var chainSeed = fmt.Sprintf("%x", sha256.Sum256([]byte("trialbridge-audit-genesis")))

// AuditService maintains the hash-chained ledger with a dual-write
// pattern: the durable chained row plus an immediate slog mirror.
type AuditService struct {
	db     *database.DB
	repo   *repositories.AuditRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(db *database.DB, repo *repositories.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		db:     db,
		repo:   repo,
		logger: logger,
	}
}

// canonicalForm builds the byte string that is hashed for an entry.
// CreatedAt is rendered in RFC3339Nano UTC, which round-trips exactly
// because timestamps are truncated to microseconds before insert.
func canonicalForm(entry *models.AuditEntry) (string, error) {
	actor := ""
	if entry.ActorID != nil {
		actor = *entry.ActorID
	}
	resourceID := ""
	if entry.ResourceID != nil {
		resourceID = *entry.ResourceID
	}
	justification := ""
	if entry.Justification != nil {
		justification = *entry.Justification
	}

	details := entry.Details
	if details == nil {
		details = models.AuditDetails{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit details: %w", err)
	}

	return strings.Join([]string{
		actor,
		entry.Action,
		entry.ResourceType,
		resourceID,
		justification,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(detailsJSON),
	}, "|"), nil
}

// computeChainHash hashes the canonical form concatenated with the
// previous entry's hash
func computeChainHash(entry *models.AuditEntry, prevHash string) (string, error) {
	canonical, err := canonicalForm(entry)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(canonical + prevHash))
	return fmt.Sprintf("%x", sum), nil
}

// AppendTx appends one entry inside the caller's transaction. The
// entry commits or rolls back with the operation it records; a failed
// audit write fails the whole operation.
func (s *AuditService) AppendTx(ctx context.Context, tx pgx.Tx, entry *models.AuditEntry) (*models.AuditEntry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainAppendLockID); err != nil {
		return nil, fmt.Errorf("failed to acquire chain lock: %w", err)
	}

	prevHash, err := s.repo.LastChainHash(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	if prevHash == "" {
		prevHash = chainSeed
	}

	// timestamptz stores microseconds; truncate so the hashed value
	// is the value read back at verification
	entry.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if entry.Details == nil {
		entry.Details = models.AuditDetails{}
	}

	entry.ChainHash, err = computeChainHash(entry, prevHash)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Insert(ctx, tx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	s.logger.InfoContext(ctx, "audit entry appended",
		slog.Int64("audit_id", created.ID),
		slog.String("action", created.Action),
		slog.String("resource_type", created.ResourceType),
		slog.Any("actor_id", created.ActorID),
	)

	return created, nil
}

// Append writes a standalone entry under the given session
func (s *AuditService) Append(ctx context.Context, session database.Session, entry *models.AuditEntry) (*models.AuditEntry, error) {
	var created *models.AuditEntry
	err := s.db.WithSession(ctx, session, func(tx pgx.Tx) error {
		var appendErr error
		created, appendErr = s.AppendTx(ctx, tx, entry)
		return appendErr
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// VerifyChain walks the full ledger in insertion order, recomputing
// every hash from the stored fields. The first mismatch marks that
// entry and everything after it invalid.
func (s *AuditService) VerifyChain(ctx context.Context, session database.Session) (*models.ChainVerification, error) {
	var entries []*models.AuditEntry
	err := s.db.WithSession(ctx, session, func(tx pgx.Tx) error {
		var listErr error
		entries, listErr = s.repo.ListAsc(ctx, tx)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}

	result, err := verifyEntries(entries)
	if err != nil {
		return nil, err
	}

	if !result.ChainIntact {
		s.logger.ErrorContext(ctx, "audit chain broken",
			slog.Any("first_invalid_id", result.FirstInvalidID),
			slog.Int("invalid_records", result.InvalidRecords),
		)
	}

	return result, nil
}

// verifyEntries recomputes every hash over entries already in
// insertion order. The first mismatch marks that entry and everything
// after it invalid.
func verifyEntries(entries []*models.AuditEntry) (*models.ChainVerification, error) {
	result := &models.ChainVerification{
		TotalRecords: len(entries),
		ChainIntact:  true,
	}

	// A retention purge removes the oldest entries, so the first
	// surviving entry is chained to a deleted predecessor. The purge
	// entry records that predecessor's hash as the new anchor.
	prevHash := chainSeed
	for _, entry := range entries {
		if entry.Action != models.AuditActionLedgerPurged {
			continue
		}
		if anchor, ok := entry.Details["resume_prev_hash"].(string); ok && anchor != "" {
			prevHash = anchor
		}
	}

	broken := false
	for _, entry := range entries {
		if broken {
			result.InvalidRecords++
			continue
		}

		expected, err := computeChainHash(entry, prevHash)
		if err != nil {
			return nil, err
		}

		if expected != entry.ChainHash {
			broken = true
			result.ChainIntact = false
			id := entry.ID
			result.FirstInvalidID = &id
			result.InvalidRecords++
			continue
		}

		result.ValidRecords++
		prevHash = entry.ChainHash
	}

	return result, nil
}

// List returns a page of entries, newest first
func (s *AuditService) List(ctx context.Context, session database.Session, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entries []*models.AuditEntry
	err := s.db.WithSession(ctx, session, func(tx pgx.Tx) error {
		var listErr error
		entries, listErr = s.repo.ListDesc(ctx, tx, limit, offset)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeBefore deletes entries older than the retention cutoff and
// records the purge itself as a new chained entry in the same
// transaction. This is the only sanctioned delete path.
func (s *AuditService) PurgeBefore(ctx context.Context, actorID string, cutoff time.Time, justification string) (int64, error) {
	var deleted int64
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		anchor, anchorErr := s.repo.LastChainHashBefore(ctx, tx, cutoff)
		if anchorErr != nil {
			return anchorErr
		}

		var delErr error
		deleted, delErr = s.repo.DeleteBefore(ctx, tx, cutoff)
		if delErr != nil {
			return delErr
		}

		details := models.AuditDetails{
			"cutoff":          cutoff.UTC().Format(time.RFC3339),
			"records_deleted": deleted,
		}
		// The anchor lets verification resume at the first surviving
		// entry. A purge that empties the ledger records none: the
		// purge entry itself chains from the seed again.
		remaining, headErr := s.repo.LastChainHash(ctx, tx)
		if headErr != nil {
			return headErr
		}
		if deleted > 0 && anchor != "" && remaining != "" {
			details["resume_prev_hash"] = anchor
		}

		entry := &models.AuditEntry{
			ActorID:       &actorID,
			Action:        models.AuditActionLedgerPurged,
			ResourceType:  models.AuditResourceLedger,
			Details:       details,
			Justification: &justification,
		}
		_, appendErr := s.AppendTx(ctx, tx, entry)
		return appendErr
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
