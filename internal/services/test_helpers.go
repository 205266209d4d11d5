package services

import (
	"time"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
)

// NewTestUser creates a PortalUser for testing
func NewTestUser(id, email, name string) *models.PortalUser {
	now := time.Now()
	return &models.PortalUser{
		ID:           id,
		Email:        email,
		Name:         name,
		Status:       models.UserStatusActive,
		ActiveRole:   models.RoleAdministrator,
		AllowedRoles: []string{models.RoleAdministrator},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestPrincipal wraps a user in a resolved principal
func NewTestPrincipal(user *models.PortalUser) *auth.Principal {
	return &auth.Principal{
		User:    user,
		Session: database.UserSession(user.ID, user.ActiveRole, user.AllowedRoles),
	}
}

// NewTestPatient creates a Patient for testing
func NewTestPatient(id, siteID, status string) *models.Patient {
	now := time.Now()
	return &models.Patient{
		ID:                  id,
		SiteID:              siteID,
		SubjectKey:          "SUBJ-" + id,
		MobileLinkingStatus: status,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NewTestAuditEntry creates a chained entry for verification tests.
// The caller supplies the previous hash; the returned entry's
// ChainHash is computed the same way the append path computes it.
func NewTestAuditEntry(id int64, action, prevHash string, createdAt time.Time, details models.AuditDetails) *models.AuditEntry {
	if details == nil {
		details = models.AuditDetails{}
	}
	entry := &models.AuditEntry{
		ID:           id,
		Action:       action,
		ResourceType: models.AuditResourcePatient,
		Details:      details,
		CreatedAt:    createdAt.UTC().Truncate(time.Microsecond),
	}
	hash, err := computeChainHash(entry, prevHash)
	if err != nil {
		panic(err)
	}
	entry.ChainHash = hash
	return entry
}
