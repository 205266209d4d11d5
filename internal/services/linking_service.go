package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
)

// linkingCodeCharset excludes characters that read ambiguously on a
// patient's screen or over the phone: I/1, O/0, S/5, Z/2.
const linkingCodeCharset = "346789ABCDEFGHJKLMNPQRTUVWXY"

const linkingCodeLength = 8

// LinkingConfig holds code-issuance parameters
type LinkingConfig struct {
	CodePrefix string
	CodeTTL    time.Duration
}

// GeneratedCode is the one response that carries a raw linking code.
// The raw value exists only in flight; storage keeps the hash and an
// encrypted copy for the authorized re-reveal path.
type GeneratedCode struct {
	Code           string    `json:"code_raw"`
	CodeDisplay    string    `json:"code"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExpiresInHours int       `json:"expires_in_hours"`
}

// LinkingService owns the patient linking lifecycle: code issuance,
// supersede, re-reveal, redemption, and the disconnect /
// not-participating / reactivate transitions.
type LinkingService struct {
	db           *database.DB
	patientRepo  *repositories.PatientRepository
	codeRepo     *repositories.LinkingCodeRepository
	siteAccess   *repositories.SiteAccessRepository
	auditService *AuditService
	cipher       *auth.SecretCipher
	config       LinkingConfig
	logger       *slog.Logger
}

// NewLinkingService creates a new LinkingService
func NewLinkingService(
	db *database.DB,
	patientRepo *repositories.PatientRepository,
	codeRepo *repositories.LinkingCodeRepository,
	siteAccess *repositories.SiteAccessRepository,
	auditService *AuditService,
	cipher *auth.SecretCipher,
	config LinkingConfig,
	logger *slog.Logger,
) *LinkingService {
	return &LinkingService{
		db:           db,
		patientRepo:  patientRepo,
		codeRepo:     codeRepo,
		siteAccess:   siteAccess,
		auditService: auditService,
		cipher:       cipher,
		config:       config,
		logger:       logger,
	}
}

// generateRawCode builds a fresh code: site-facing prefix plus random
// characters from the unambiguous charset
func (s *LinkingService) generateRawCode() (string, error) {
	code := make([]byte, linkingCodeLength)
	for i := 0; i < linkingCodeLength; i++ {
		b := make([]byte, 1)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random byte: %w", err)
		}
		code[i] = linkingCodeCharset[b[0]%byte(len(linkingCodeCharset))]
	}
	return s.config.CodePrefix + string(code), nil
}

// displayCode formats a raw code for site staff to read out, e.g.
// "TB346789AB" renders as "TB-3467-89AB"
func displayCode(raw string, prefixLen int) string {
	body := raw[prefixLen:]
	if len(body) != linkingCodeLength {
		return raw
	}
	return raw[:prefixLen] + "-" + body[:4] + "-" + body[4:]
}

func hashCode(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// loadPatientChecked resolves the patient under service context and
// applies the access distinction: unknown patient is not-found, a
// patient outside the investigator's sites is forbidden. Row-level
// policies remain the backstop on the mutation itself.
func (s *LinkingService) loadPatientChecked(ctx context.Context, principal *auth.Principal, patientID string) (*models.Patient, error) {
	var patient *models.Patient
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		var getErr error
		patient, getErr = s.patientRepo.GetByID(ctx, tx, patientID)
		if getErr != nil {
			return getErr
		}

		if principal.User.ActiveRole == models.RoleInvestigator {
			allowed, accessErr := s.siteAccess.HasAccess(ctx, tx, principal.User.ID, patient.SiteID)
			if accessErr != nil {
				return accessErr
			}
			if !allowed {
				return models.ErrForbidden
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// GenerateCode issues a new linking code for the patient, revoking any
// outstanding open codes in the same transaction. Generation is valid
// from not-connected, disconnected, or linking-in-progress states; the
// last case supersedes the outstanding code.
func (s *LinkingService) GenerateCode(ctx context.Context, principal *auth.Principal, patientID string) (*GeneratedCode, error) {
	patient, err := s.loadPatientChecked(ctx, principal, patientID)
	if err != nil {
		return nil, err
	}

	if !models.CanGenerateCode(patient.MobileLinkingStatus) {
		return nil, fmt.Errorf("%w: cannot generate code while patient is %s",
			models.ErrStateConflict, patient.MobileLinkingStatus)
	}

	rawCode, err := s.generateRawCode()
	if err != nil {
		return nil, err
	}

	encrypted, nonce, err := s.cipher.Encrypt([]byte(rawCode))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt linking code: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.config.CodeTTL)

	var created *models.LinkingCode
	err = s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		superseded, revokeErr := s.codeRepo.RevokeOpenByPatient(ctx, tx, patientID, principal.User.ID, models.RevokeReasonSuperseded)
		if revokeErr != nil {
			return revokeErr
		}

		var createErr error
		created, createErr = s.codeRepo.Create(ctx, tx, &models.LinkingCode{
			PatientID:     patientID,
			CodeHash:      hashCode(rawCode),
			CodeEncrypted: encrypted,
			CodeNonce:     nonce,
			GeneratedBy:   principal.User.ID,
			GeneratedAt:   now,
			ExpiresAt:     expiresAt,
		})
		if createErr != nil {
			return createErr
		}

		if txErr := s.patientRepo.UpdateLinkingStatus(ctx, tx, patientID,
			patient.MobileLinkingStatus, models.LinkingStatusLinkingInProgress); txErr != nil {
			return txErr
		}

		// Each superseded code gets its own revocation entry
		supersededIDs := make([]string, 0, len(superseded))
		for _, c := range superseded {
			supersededIDs = append(supersededIDs, c.ID)
			codeID := c.ID
			if _, revAuditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
				ActorID:      &principal.User.ID,
				Action:       models.AuditActionCodeRevoked,
				ResourceType: models.AuditResourceLinkingCode,
				ResourceID:   &codeID,
				Details: models.AuditDetails{
					"patient_id": patientID,
					"reason":     models.RevokeReasonSuperseded,
				},
			}); revAuditErr != nil {
				return revAuditErr
			}
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionCodeGenerated,
			ResourceType: models.AuditResourceLinkingCode,
			ResourceID:   &created.ID,
			Details: models.AuditDetails{
				"patient_id":      patientID,
				"previous_status": patient.MobileLinkingStatus,
				"expires_at":      expiresAt.Format(time.RFC3339),
				"superseded":      supersededIDs,
			},
		})
		return auditErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "linking code generated",
		slog.String("patient_id", patientID),
		slog.String("code_id", created.ID),
		slog.String("actor_id", principal.User.ID),
	)

	return &GeneratedCode{
		Code:           rawCode,
		CodeDisplay:    displayCode(rawCode, len(s.config.CodePrefix)),
		ExpiresAt:      expiresAt,
		ExpiresInHours: int(s.config.CodeTTL.Hours()),
	}, nil
}

// GetActiveCode re-reveals the patient's outstanding code for site
// staff. Returns nil without error when no unexpired open code exists.
func (s *LinkingService) GetActiveCode(ctx context.Context, principal *auth.Principal, patientID string) (*GeneratedCode, error) {
	if _, err := s.loadPatientChecked(ctx, principal, patientID); err != nil {
		return nil, err
	}

	var code *models.LinkingCode
	err := s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		var getErr error
		code, getErr = s.codeRepo.GetActiveByPatient(ctx, tx, patientID)
		return getErr
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rawCode, err := s.cipher.Decrypt(code.CodeEncrypted, code.CodeNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt linking code: %w", err)
	}

	return &GeneratedCode{
		Code:           string(rawCode),
		CodeDisplay:    displayCode(string(rawCode), len(s.config.CodePrefix)),
		ExpiresAt:      code.ExpiresAt,
		ExpiresInHours: int(time.Until(code.ExpiresAt).Hours()),
	}, nil
}

// Disconnect moves a connected patient to disconnected, revoking any
// residual open codes, with the state change and audit write atomic
func (s *LinkingService) Disconnect(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	return s.transition(ctx, principal, patientID, reason,
		models.LinkingStatusConnected, models.LinkingStatusDisconnected,
		models.AuditActionDisconnected, true)
}

// MarkNotParticipating moves a disconnected patient out of the
// programme entirely
func (s *LinkingService) MarkNotParticipating(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	return s.transition(ctx, principal, patientID, reason,
		models.LinkingStatusDisconnected, models.LinkingStatusNotParticipating,
		models.AuditActionNotParticipating, false)
}

// Reactivate returns a not-participating patient to disconnected so a
// new code may be issued
func (s *LinkingService) Reactivate(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	return s.transition(ctx, principal, patientID, reason,
		models.LinkingStatusNotParticipating, models.LinkingStatusDisconnected,
		models.AuditActionReactivated, false)
}

func (s *LinkingService) transition(
	ctx context.Context,
	principal *auth.Principal,
	patientID string,
	reason models.Reason,
	fromStatus, toStatus, auditAction string,
	revokeCodes bool,
) error {
	patient, err := s.loadPatientChecked(ctx, principal, patientID)
	if err != nil {
		return err
	}

	if patient.MobileLinkingStatus != fromStatus {
		return fmt.Errorf("%w: patient is %s, expected %s",
			models.ErrStateConflict, patient.MobileLinkingStatus, fromStatus)
	}

	justification := reason.String()

	err = s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		if txErr := s.patientRepo.UpdateLinkingStatus(ctx, tx, patientID, fromStatus, toStatus); txErr != nil {
			return txErr
		}

		details := models.AuditDetails{
			"from_status": fromStatus,
			"to_status":   toStatus,
			"reason":      reason.Code,
		}
		if reason.Notes != "" {
			details["notes"] = reason.Notes
		}

		if revokeCodes {
			revoked, revokeErr := s.codeRepo.RevokeOpenByPatient(ctx, tx, patientID, principal.User.ID, models.RevokeReasonDisconnected)
			if revokeErr != nil {
				return revokeErr
			}
			if len(revoked) > 0 {
				revokedIDs := make([]string, 0, len(revoked))
				for _, c := range revoked {
					revokedIDs = append(revokedIDs, c.ID)
				}
				details["revoked_codes"] = revokedIDs
			}
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:       &principal.User.ID,
			Action:        auditAction,
			ResourceType:  models.AuditResourcePatient,
			ResourceID:    &patientID,
			Details:       details,
			Justification: &justification,
		})
		return auditErr
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "patient linking status changed",
		slog.String("patient_id", patientID),
		slog.String("from_status", fromStatus),
		slog.String("to_status", toStatus),
		slog.String("actor_id", principal.User.ID),
	)

	return nil
}

// RedeemCode consumes a linking code presented by the patient's mobile
// app and connects the patient. Runs in service context; the caller is
// the mobile enrollment collaborator, not a portal user. Expired,
// used, revoked, and unknown codes are indistinguishable to the
// caller.
func (s *LinkingService) RedeemCode(ctx context.Context, rawCode string) (*models.Patient, error) {
	codeHash := hashCode(rawCode)

	var patient *models.Patient
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		code, getErr := s.codeRepo.GetByHash(ctx, tx, codeHash)
		if getErr != nil {
			if errors.Is(getErr, models.ErrNotFound) {
				return models.ErrNotFound
			}
			return getErr
		}

		now := time.Now().UTC()
		if !code.IsActive(now) {
			return models.ErrNotFound
		}

		if usedErr := s.codeRepo.MarkUsed(ctx, tx, code.ID, now); usedErr != nil {
			return usedErr
		}

		if txErr := s.patientRepo.UpdateLinkingStatus(ctx, tx, code.PatientID,
			models.LinkingStatusLinkingInProgress, models.LinkingStatusConnected); txErr != nil {
			return txErr
		}

		var patErr error
		patient, patErr = s.patientRepo.GetByID(ctx, tx, code.PatientID)
		if patErr != nil {
			return patErr
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			Action:       models.AuditActionCodeRedeemed,
			ResourceType: models.AuditResourceLinkingCode,
			ResourceID:   &code.ID,
			Details: models.AuditDetails{
				"patient_id": code.PatientID,
			},
		})
		return auditErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "linking code redeemed",
		slog.String("patient_id", patient.ID),
	)

	return patient, nil
}

// SweepExpiredCodes removes expired open codes past the retention
// cutoff. Called from the background cleanup loop.
func (s *LinkingService) SweepExpiredCodes(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		var delErr error
		deleted, delErr = s.codeRepo.DeleteExpiredOpen(ctx, tx, before)
		return delErr
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
