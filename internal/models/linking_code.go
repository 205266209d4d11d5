package models

import (
	"time"
)

// LinkingCode is the stored form of an enrollment code. The raw value
// is never persisted: redemption compares SHA-256 hashes, and the
// authorized re-reveal path decrypts the AES-GCM ciphertext.
type LinkingCode struct {
	ID            string
	PatientID     string
	CodeHash      string // sha256 hex of the raw code
	CodeEncrypted []byte // AES-256-GCM ciphertext of the raw code
	CodeNonce     []byte
	GeneratedBy   string
	GeneratedAt   time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	RevokedAt     *time.Time
	RevokedBy     *string
	RevokeReason  *string
}

// Revoke reasons recorded on superseded or disconnected codes.
const (
	RevokeReasonSuperseded   = "superseded"
	RevokeReasonDisconnected = "patient_disconnected"
)

// IsActive reports whether the code is unused, unrevoked and unexpired
// at the given instant.
func (c *LinkingCode) IsActive(now time.Time) bool {
	return c.UsedAt == nil && c.RevokedAt == nil && now.Before(c.ExpiresAt)
}
