package models

import (
	"time"
)

// Portal roles. The active role determines row visibility; the allowed
// set bounds which roles a user may switch to.
const (
	RoleAdministrator  = "administrator"
	RoleAuditor        = "auditor"
	RoleInvestigator   = "investigator"
	RoleDeveloperAdmin = "developer_admin"
)

// Account statuses. Users are never physically deleted.
const (
	UserStatusPending = "pending"
	UserStatusActive  = "active"
	UserStatusRevoked = "revoked"
)

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdministrator, RoleAuditor, RoleInvestigator, RoleDeveloperAdmin:
		return true
	}
	return false
}

type PortalUser struct {
	ID           string
	Email        string
	Name         string
	Status       string   // "pending", "active", "revoked"
	ActiveRole   string   // one of the Role* constants
	AllowedRoles []string // roles the user may switch between

	// Password-reset flow (delivery handled by the notification service)
	ResetCodeHash      *string // bcrypt hash, NULL when no reset pending
	ResetCodeExpiresAt *time.Time

	// Staff step-up TOTP enrollment
	TOTPSecretEncrypted []byte // AES-256-GCM ciphertext, NULL until enrolled
	TOTPSecretNonce     []byte
	TOTPVerifiedAt      *time.Time
	TOTPLastUsedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether role is in the user's allowed set.
func (u *PortalUser) HasRole(role string) bool {
	for _, r := range u.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// MFAEnrolled reports whether the user has a verified TOTP secret.
func (u *PortalUser) MFAEnrolled() bool {
	return u.TOTPVerifiedAt != nil
}
