package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Lifecycle state errors
	ErrStateConflict = errors.New("illegal state transition")

	// Account state errors
	ErrAccountRevoked = errors.New("account is revoked")
	ErrAccountPending = errors.New("account is pending activation")
)

// RateLimitedError is returned when a guarded operation exceeds its
// sliding-window threshold. RetryAfter is the full window duration.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds())
}

// RetryAfterSeconds returns the retry delay rounded to whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(e.RetryAfter / time.Second)
}
