package models

import (
	"time"
)

// Rate-limited operation types
const (
	RateLimitOpPasswordReset = "password_reset"
	RateLimitOpOTPIssue      = "otp_issue"
)

// RateLimitEvent is one recorded occurrence of a guarded operation for
// a destination (e.g. an email address). The limiter counts events in
// the trailing window; no in-process counters exist.
type RateLimitEvent struct {
	ID          int64
	Destination string
	Operation   string
	CreatedAt   time.Time
}
