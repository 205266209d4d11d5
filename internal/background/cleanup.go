package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/trialbridge/portal/internal/services"
)

// expiredCodeRetention keeps expired open codes around long enough for
// support questions before the sweep removes them
const expiredCodeRetention = 7 * 24 * time.Hour

// rateLimitRetention must exceed the widest limiter window
const rateLimitRetention = 24 * time.Hour

// CleanupManager periodically sweeps expired linking codes and stale
// rate-limit events
type CleanupManager struct {
	linkingService *services.LinkingService
	rateLimiter    *services.RateLimitService
	logger         *slog.Logger
	interval       time.Duration
	stopCh         chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	linkingService *services.LinkingService,
	rateLimiter *services.RateLimitService,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		linkingService: linkingService,
		rateLimiter:    rateLimiter,
		logger:         logger,
		interval:       interval,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	codesDeleted, err := cm.linkingService.SweepExpiredCodes(cleanupCtx, now.Add(-expiredCodeRetention))
	if err != nil {
		cm.logger.Error("failed to sweep expired linking codes", slog.Any("error", err))
	} else if codesDeleted > 0 {
		cm.logger.Info("expired linking code sweep completed", slog.Int64("rows_deleted", codesDeleted))
	}

	eventsDeleted, err := cm.rateLimiter.PruneOlderThan(cleanupCtx, now.Add(-rateLimitRetention))
	if err != nil {
		cm.logger.Error("failed to prune rate limit events", slog.Any("error", err))
	} else if eventsDeleted > 0 {
		cm.logger.Info("rate limit event prune completed", slog.Int64("rows_deleted", eventsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
