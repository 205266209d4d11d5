package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit actions recorded by privileged operations
const (
	AuditActionCodeGenerated   = "linking_code.generated"
	AuditActionCodeRevoked     = "linking_code.revoked"
	AuditActionCodeRedeemed    = "linking_code.redeemed"
	AuditActionDisconnected    = "patient.disconnected"
	AuditActionNotParticipating = "patient.not_participating"
	AuditActionReactivated     = "patient.reactivated"
	AuditActionUserCreated     = "user.created"
	AuditActionUserUpdated     = "user.updated"
	AuditActionUserRevoked     = "user.revoked"
	AuditActionRoleSwitched    = "user.role_switched"
	AuditActionPasswordReset   = "auth.password_reset_requested"
	AuditActionMFAEnrolled     = "auth.mfa_enrolled"
	AuditActionMFAVerified     = "auth.mfa_verified"
	AuditActionLedgerPurged    = "audit.purged"
)

// Resource types
const (
	AuditResourceUser        = "portal_user"
	AuditResourcePatient     = "patient"
	AuditResourceLinkingCode = "linking_code"
	AuditResourceLedger      = "audit_log"
)

// AuditEntry is one immutable record in the hash-chained ledger.
// ChainHash binds the entry's content to its predecessor; entries are
// never updated, and deleted only through the logged purge path.
type AuditEntry struct {
	ID            int64
	ActorID       *string // NULL for service-context actions
	Action        string
	ResourceType  string
	ResourceID    *string
	Details       AuditDetails // structured before/after payload
	Justification *string
	ChainHash     string
	CreatedAt     time.Time
}

// AuditDetails holds the structured before/after payload
type AuditDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (ad *AuditDetails) Scan(value interface{}) error {
	if value == nil {
		*ad = make(AuditDetails)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*ad = AuditDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (ad AuditDetails) Value() (driver.Value, error) {
	if ad == nil {
		return nil, nil
	}
	return json.Marshal(ad)
}

// MarshalJSON implements json.Marshaler
func (ad AuditDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(ad))
}

// UnmarshalJSON implements json.Unmarshaler
func (ad *AuditDetails) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*ad = AuditDetails(m)
	return nil
}

// ChainVerification is the result of a full ledger walk.
type ChainVerification struct {
	TotalRecords   int    `json:"total_records"`
	ValidRecords   int    `json:"valid_records"`
	InvalidRecords int    `json:"invalid_records"`
	ChainIntact    bool   `json:"chain_intact"`
	FirstInvalidID *int64 `json:"first_invalid_id,omitempty"`
}
