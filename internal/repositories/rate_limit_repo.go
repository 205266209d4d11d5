package repositories

import (
	"context"
	"time"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

// RateLimitRepository records one row per guarded attempt so the
// sliding window survives restarts and is shared across instances.
type RateLimitRepository struct{}

func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{}
}

// CountSince counts attempts for a destination and operation in the
// trailing window
func (r *RateLimitRepository) CountSince(ctx context.Context, q database.Executor, destination, operation string, since time.Time) (int, error) {
	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM rate_limit_events
		WHERE destination = $1 AND operation = $2 AND created_at >= $3
	`, destination, operation, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Insert records one attempt
func (r *RateLimitRepository) Insert(ctx context.Context, q database.Executor, event *models.RateLimitEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO rate_limit_events (destination, operation, created_at)
		VALUES ($1, $2, $3)
	`, event.Destination, event.Operation, event.CreatedAt)
	return database.MapPostgresError(err)
}

// DeleteOlderThan trims events outside every window. Used by the
// cleanup sweep.
func (r *RateLimitRepository) DeleteOlderThan(ctx context.Context, q database.Executor, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM rate_limit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
