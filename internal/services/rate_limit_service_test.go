package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trialbridge/portal/internal/models"
)

func TestRateLimitService_UnconfiguredOperationUnlimited(t *testing.T) {
	svc := NewRateLimitService(nil, nil, map[string]RateLimitConfig{}, slog.Default())

	err := svc.CheckAndRecord(context.Background(), "unguarded_op", "someone@example.com")

	assert.NoError(t, err)
}

func TestRateLimitedError_RetryAfterSeconds(t *testing.T) {
	err := &models.RateLimitedError{RetryAfter: 15 * time.Minute}

	assert.Equal(t, 900, err.RetryAfterSeconds())
	assert.Contains(t, err.Error(), "rate limit")
}
