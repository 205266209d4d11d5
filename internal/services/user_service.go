package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
	pkgauth "github.com/trialbridge/portal/pkg/auth"
	"github.com/trialbridge/portal/pkg/logger"
)

const resetCodeLength = 8

// UserService manages portal account provisioning, role switching, and
// the credential-adjacent flows that the identity provider delegates
// to the portal: password-reset codes and step-up TOTP.
type UserService struct {
	db           *database.DB
	userRepo     *repositories.UserRepository
	siteAccess   *repositories.SiteAccessRepository
	auditService *AuditService
	rateLimiter  *RateLimitService
	emailService EmailService
	totpManager  *auth.TOTPManager
	auditLogger  *logger.AuditLogger
	resetCodeTTL time.Duration
	logger       *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(
	db *database.DB,
	userRepo *repositories.UserRepository,
	siteAccess *repositories.SiteAccessRepository,
	auditService *AuditService,
	rateLimiter *RateLimitService,
	emailService EmailService,
	totpManager *auth.TOTPManager,
	auditLogger *logger.AuditLogger,
	resetCodeTTL time.Duration,
	log *slog.Logger,
) *UserService {
	return &UserService{
		db:           db,
		userRepo:     userRepo,
		siteAccess:   siteAccess,
		auditService: auditService,
		rateLimiter:  rateLimiter,
		emailService: emailService,
		totpManager:  totpManager,
		auditLogger:  auditLogger,
		resetCodeTTL: resetCodeTTL,
		logger:       log,
	}
}

// GetByEmail resolves an IdP-asserted email to a portal account. Runs
// in service context: it executes before any principal exists.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.PortalUser, error) {
	var user *models.PortalUser
	err := s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		var getErr error
		user, getErr = s.userRepo.GetByEmail(ctx, tx, email)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID returns one account under the caller's session
func (s *UserService) GetByID(ctx context.Context, principal *auth.Principal, id string) (*models.PortalUser, error) {
	var user *models.PortalUser
	err := s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		var getErr error
		user, getErr = s.userRepo.GetByID(ctx, tx, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List returns a page of accounts under the caller's session. Row
// policies decide visibility; non-administrators see only themselves.
func (s *UserService) List(ctx context.Context, principal *auth.Principal, limit, offset int) ([]*models.PortalUser, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var users []*models.PortalUser
	err := s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		var listErr error
		users, listErr = s.userRepo.List(ctx, tx, limit, offset)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// checkDeveloperAdminGrant enforces who may hand out the
// developer-admin role: only an acting developer admin who has
// completed step-up TOTP enrollment.
func (s *UserService) checkDeveloperAdminGrant(principal *auth.Principal, roles []string) error {
	grantsDeveloperAdmin := false
	for _, role := range roles {
		if role == models.RoleDeveloperAdmin {
			grantsDeveloperAdmin = true
		}
	}
	if !grantsDeveloperAdmin {
		return nil
	}

	if principal.User.ActiveRole != models.RoleDeveloperAdmin {
		return fmt.Errorf("%w: only a developer admin may grant the developer_admin role", models.ErrForbidden)
	}
	if !principal.User.MFAEnrolled() {
		return fmt.Errorf("%w: granting developer_admin requires TOTP enrollment", models.ErrForbidden)
	}
	return nil
}

// CreateUserInput carries account provisioning parameters
type CreateUserInput struct {
	Email        string
	Name         string
	AllowedRoles []string
	SiteIDs      []string
}

// CreateUser provisions a new account. Only a developer admin may
// grant the developer-admin role, and never without step-up TOTP
// enrollment; the table policies enforce the same rule underneath.
func (s *UserService) CreateUser(ctx context.Context, principal *auth.Principal, input CreateUserInput) (*models.PortalUser, error) {
	if len(input.AllowedRoles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", models.ErrBadRequest)
	}

	for _, role := range input.AllowedRoles {
		if !models.ValidRole(role) {
			return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
		}
	}

	if err := s.checkDeveloperAdminGrant(principal, input.AllowedRoles); err != nil {
		return nil, err
	}

	user := &models.PortalUser{
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Name:         strings.TrimSpace(input.Name),
		Status:       models.UserStatusPending,
		ActiveRole:   input.AllowedRoles[0],
		AllowedRoles: input.AllowedRoles,
	}

	var created *models.PortalUser
	err := s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		var createErr error
		created, createErr = s.userRepo.Create(ctx, tx, user)
		if createErr != nil {
			return createErr
		}

		for _, siteID := range input.SiteIDs {
			if grantErr := s.siteAccess.Grant(ctx, tx, created.ID, siteID); grantErr != nil {
				return grantErr
			}
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionUserCreated,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &created.ID,
			Details: models.AuditDetails{
				"email": created.Email,
				"roles": input.AllowedRoles,
				"sites": input.SiteIDs,
			},
		})
		return auditErr
	})
	if err != nil {
		return nil, err
	}

	if s.emailService != nil {
		if mailErr := s.emailService.SendAccountInvitation(ctx, created.Email, created.Name); mailErr != nil {
			s.logger.ErrorContext(ctx, "failed to send invitation email",
				slog.String("user_id", created.ID),
				slog.Any("error", mailErr),
			)
		}
	}

	return created, nil
}

// UpdateUserInput carries mutable account fields; nil means unchanged
type UpdateUserInput struct {
	Name         *string
	Status       *string
	AllowedRoles []string
}

// UpdateUser applies administrator edits to an account
func (s *UserService) UpdateUser(ctx context.Context, principal *auth.Principal, userID string, input UpdateUserInput) (*models.PortalUser, error) {
	if input.Status != nil {
		switch *input.Status {
		case models.UserStatusPending, models.UserStatusActive, models.UserStatusRevoked:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrBadRequest, *input.Status)
		}
	}
	for _, role := range input.AllowedRoles {
		if !models.ValidRole(role) {
			return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
		}
	}
	if err := s.checkDeveloperAdminGrant(principal, input.AllowedRoles); err != nil {
		return nil, err
	}

	var updated *models.PortalUser
	err := s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		user, getErr := s.userRepo.GetByID(ctx, tx, userID)
		if getErr != nil {
			return getErr
		}

		details := models.AuditDetails{}
		if input.Name != nil && *input.Name != user.Name {
			details["name"] = map[string]string{"from": user.Name, "to": *input.Name}
			user.Name = *input.Name
		}
		if input.Status != nil && *input.Status != user.Status {
			details["status"] = map[string]string{"from": user.Status, "to": *input.Status}
			user.Status = *input.Status
		}

		var updateErr error
		updated, updateErr = s.userRepo.Update(ctx, tx, user)
		if updateErr != nil {
			return updateErr
		}

		if input.AllowedRoles != nil {
			if rolesErr := s.userRepo.SetAllowedRoles(ctx, tx, userID, input.AllowedRoles); rolesErr != nil {
				return rolesErr
			}
			details["roles"] = input.AllowedRoles
			if !contains(input.AllowedRoles, updated.ActiveRole) {
				if roleErr := s.userRepo.SetActiveRole(ctx, tx, userID, input.AllowedRoles[0]); roleErr != nil {
					return roleErr
				}
			}
			var refreshErr error
			updated, refreshErr = s.userRepo.GetByID(ctx, tx, userID)
			if refreshErr != nil {
				return refreshErr
			}
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionUserUpdated,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &userID,
			Details:      details,
		})
		return auditErr
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RevokeUser disables an account. The row stays: revocation must be
// auditable, so accounts are never deleted.
func (s *UserService) RevokeUser(ctx context.Context, principal *auth.Principal, userID string) error {
	if userID == principal.User.ID {
		return fmt.Errorf("%w: cannot revoke your own account", models.ErrConflict)
	}

	return s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		if err := s.userRepo.SetStatus(ctx, tx, userID, models.UserStatusRevoked); err != nil {
			return err
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionUserRevoked,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &userID,
		})
		return auditErr
	})
}

// SwitchRole changes the caller's active role within their allowed
// set. The new role takes effect on the next request's session.
func (s *UserService) SwitchRole(ctx context.Context, principal *auth.Principal, role string) error {
	if !models.ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
	}
	if !principal.User.HasRole(role) {
		return fmt.Errorf("%w: role %q is not in your allowed set", models.ErrForbidden, role)
	}

	return s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		if err := s.userRepo.SetActiveRole(ctx, tx, principal.User.ID, role); err != nil {
			return err
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionRoleSwitched,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &principal.User.ID,
			Details: models.AuditDetails{
				"from_role": principal.User.ActiveRole,
				"to_role":   role,
			},
		})
		return auditErr
	})
}

// HandlePasswordResetRequest processes a reset request without
// revealing whether the address has an account. The response is
// identical for known and unknown addresses; only the rate limiter,
// which keys on the destination rather than the account, can produce
// a different status.
func (s *UserService) HandlePasswordResetRequest(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	if err := s.rateLimiter.CheckAndRecord(ctx, models.RateLimitOpPasswordReset, email); err != nil {
		var rateErr *models.RateLimitedError
		if errors.As(err, &rateErr) {
			return err
		}
		// limiter failures fail closed
		return models.ErrInternalServer
	}

	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogEnumerationSensitive(ctx, models.RateLimitOpPasswordReset, email, false)
			return nil
		}
		return err
	}

	if user.Status != models.UserStatusActive {
		s.auditLogger.LogEnumerationSensitive(ctx, models.RateLimitOpPasswordReset, email, false)
		return nil
	}

	code, err := generateResetCode()
	if err != nil {
		return err
	}

	codeHash, err := pkgauth.HashResetCode(code)
	if err != nil {
		return err
	}

	expiresAt := time.Now().UTC().Add(s.resetCodeTTL)

	err = s.db.WithSession(ctx, database.ServiceSession(), func(tx pgx.Tx) error {
		if setErr := s.userRepo.SetResetCode(ctx, tx, user.ID, codeHash, expiresAt); setErr != nil {
			return setErr
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &user.ID,
			Action:       models.AuditActionPasswordReset,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &user.ID,
		})
		return auditErr
	})
	if err != nil {
		return err
	}

	s.auditLogger.LogEnumerationSensitive(ctx, models.RateLimitOpPasswordReset, email, true)

	if s.emailService != nil {
		if mailErr := s.emailService.SendPasswordResetCode(ctx, user.Email, code, expiresAt); mailErr != nil {
			s.logger.ErrorContext(ctx, "failed to send reset code email",
				slog.String("user_id", user.ID),
				slog.Any("error", mailErr),
			)
		}
	}

	return nil
}

// TOTPEnrollment is returned once at enrollment time
type TOTPEnrollment struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qr_code_url"`
}

// EnrollTOTP generates and stores a new step-up secret for the caller.
// The secret stays unverified until the first valid code is presented.
func (s *UserService) EnrollTOTP(ctx context.Context, principal *auth.Principal) (*TOTPEnrollment, error) {
	encrypted, nonce, secret, qrDataURL, err := s.totpManager.GenerateEnrollment(principal.User.Email)
	if err != nil {
		return nil, err
	}

	err = s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		if setErr := s.userRepo.SetTOTPSecret(ctx, tx, principal.User.ID, encrypted, nonce); setErr != nil {
			return setErr
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &principal.User.ID,
			Action:       models.AuditActionMFAEnrolled,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &principal.User.ID,
		})
		return auditErr
	})
	if err != nil {
		return nil, err
	}

	return &TOTPEnrollment{
		Secret:    secret,
		QRCodeURL: qrDataURL,
	}, nil
}

// VerifyTOTP checks a step-up code for the caller. The first valid
// code completes enrollment.
func (s *UserService) VerifyTOTP(ctx context.Context, principal *auth.Principal, code string) error {
	user := principal.User
	if user.TOTPSecretEncrypted == nil {
		return fmt.Errorf("%w: no TOTP enrollment for this account", models.ErrConflict)
	}

	// Throttle guesses per account before touching the secret
	if err := s.rateLimiter.CheckAndRecord(ctx, models.RateLimitOpOTPIssue, user.Email); err != nil {
		var rateErr *models.RateLimitedError
		if errors.As(err, &rateErr) {
			return err
		}
		return models.ErrInternalServer
	}

	secret, err := s.totpManager.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		return err
	}

	valid, err := s.totpManager.ValidateTOTP(secret, code, user.TOTPLastUsedAt)
	if err != nil || !valid {
		return fmt.Errorf("%w: invalid verification code", models.ErrUnauthorized)
	}

	now := time.Now().UTC()

	return s.db.WithSession(ctx, principal.Session, func(tx pgx.Tx) error {
		if user.TOTPVerifiedAt == nil {
			if markErr := s.userRepo.MarkTOTPVerified(ctx, tx, user.ID, now); markErr != nil {
				return markErr
			}
		} else {
			if touchErr := s.userRepo.TouchTOTPUsed(ctx, tx, user.ID, now); touchErr != nil {
				return touchErr
			}
		}

		_, auditErr := s.auditService.AppendTx(ctx, tx, &models.AuditEntry{
			ActorID:      &user.ID,
			Action:       models.AuditActionMFAVerified,
			ResourceType: models.AuditResourceUser,
			ResourceID:   &user.ID,
		})
		return auditErr
	})
}

// generateResetCode builds an 8-character code from the same
// unambiguous charset as linking codes
func generateResetCode() (string, error) {
	code := make([]byte, resetCodeLength)
	for i := 0; i < resetCodeLength; i++ {
		b := make([]byte, 1)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random byte: %w", err)
		}
		code[i] = linkingCodeCharset[b[0]%byte(len(linkingCodeCharset))]
	}
	return string(code), nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
