package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
	"github.com/trialbridge/portal/pkg/logger"
)

// RateLimitConfig holds the sliding-window parameters per operation
type RateLimitConfig struct {
	Window    time.Duration
	Threshold int
}

// RateLimitService enforces DB-backed sliding windows on flows that
// could otherwise be used for probing, such as password-reset
// requests. Counting rows in the trailing window keeps limits shared
// across instances and intact through restarts.
type RateLimitService struct {
	db      *database.DB
	repo    *repositories.RateLimitRepository
	configs map[string]RateLimitConfig
	logger  *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(db *database.DB, repo *repositories.RateLimitRepository, configs map[string]RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		db:      db,
		repo:    repo,
		configs: configs,
		logger:  logger,
	}
}

// CheckAndRecord counts recent attempts for the destination and, when
// under the threshold, records this one. Over the threshold it returns
// a RateLimitedError carrying the retry interval. Limit decisions fail
// closed: a database error blocks the attempt.
func (s *RateLimitService) CheckAndRecord(ctx context.Context, operation, destination string) error {
	config, ok := s.configs[operation]
	if !ok {
		return nil
	}

	now := time.Now().UTC()

	return s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		count, err := s.repo.CountSince(ctx, tx, destination, operation, now.Add(-config.Window))
		if err != nil {
			return err
		}

		if count >= config.Threshold {
			s.logger.WarnContext(ctx, "rate limit exceeded",
				slog.String("operation", operation),
				slog.String("destination", logger.SanitizedEmail(destination)),
				slog.Int("attempts", count),
			)
			return &models.RateLimitedError{RetryAfter: config.Window}
		}

		return s.repo.Insert(ctx, tx, &models.RateLimitEvent{
			Destination: destination,
			Operation:   operation,
			CreatedAt:   now,
		})
	})
}

// PruneOlderThan trims events that no window can still count
func (s *RateLimitService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		var delErr error
		deleted, delErr = s.repo.DeleteOlderThan(ctx, tx, cutoff)
		return delErr
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
