package handlers_test

import (
	"context"
	"testing"
	"time"

	"net/http/httptest"

	"github.com/stretchr/testify/assert"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/handlers"
	"github.com/trialbridge/portal/internal/models"
)

func TestRequestPasswordReset_FixedResponseBody(t *testing.T) {
	// The body never varies with the lookup outcome; the service
	// returns nil for both known and unknown destinations
	var receivedEmail string
	mockService := &handlers.MockAuthFlowService{
		HandlePasswordResetRequestFunc: func(ctx context.Context, email string) error {
			receivedEmail = email
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset",
		map[string]string{"email": "someone@example.com"})

	w := httptest.NewRecorder()
	handler.RequestPasswordReset(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "if an account exists for this address, a reset code has been sent", resp.Message)
	assert.Equal(t, "someone@example.com", receivedEmail)
}

func TestRequestPasswordReset_RateLimited(t *testing.T) {
	mockService := &handlers.MockAuthFlowService{
		HandlePasswordResetRequestFunc: func(ctx context.Context, email string) error {
			return &models.RateLimitedError{RetryAfter: 15 * time.Minute}
		},
	}

	handler := handlers.NewAuthHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset",
		map[string]string{"email": "someone@example.com"})

	w := httptest.NewRecorder()
	handler.RequestPasswordReset(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
}

func TestRequestPasswordReset_InvalidEmail(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthFlowService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset",
		map[string]string{"email": "not-an-address"})

	w := httptest.NewRecorder()
	handler.RequestPasswordReset(w, req)

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
}

func TestSwitchRole_Success(t *testing.T) {
	var requestedRole string
	mockService := &handlers.MockAuthFlowService{
		SwitchRoleFunc: func(ctx context.Context, principal *auth.Principal, role string) error {
			requestedRole = role
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/auth/role",
		map[string]string{"role": models.RoleAuditor})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "dual@example.com", models.RoleAdministrator))

	w := httptest.NewRecorder()
	handler.SwitchRole(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.RoleAuditor, requestedRole)
}

func TestSwitchRole_RoleNotAllowed(t *testing.T) {
	mockService := &handlers.MockAuthFlowService{
		SwitchRoleFunc: func(ctx context.Context, principal *auth.Principal, role string) error {
			return models.ErrForbidden
		},
	}

	handler := handlers.NewAuthHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/auth/role",
		map[string]string{"role": models.RoleAdministrator})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))

	w := httptest.NewRecorder()
	handler.SwitchRole(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestVerifyTOTP_InvalidCodeFormat(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthFlowService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify",
		map[string]string{"code": "12ab56"})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "admin@example.com", models.RoleAdministrator))

	w := httptest.NewRecorder()
	handler.VerifyTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
}

func TestVerifyTOTP_WrongCode(t *testing.T) {
	mockService := &handlers.MockAuthFlowService{
		VerifyTOTPFunc: func(ctx context.Context, principal *auth.Principal, code string) error {
			return models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify",
		map[string]string{"code": "123456"})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "admin@example.com", models.RoleAdministrator))

	w := httptest.NewRecorder()
	handler.VerifyTOTP(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
