package handlers_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/handlers"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/services"
)

func TestGenerateLinkCode_Success(t *testing.T) {
	expiresAt := time.Now().Add(72 * time.Hour)
	mockService := &handlers.MockPatientLinkingService{
		GenerateCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			assert.Equal(t, "patient123", patientID)
			return &services.GeneratedCode{
				Code:           "TB346789AB",
				CodeDisplay:    "TB-3467-89AB",
				ExpiresAt:      expiresAt,
				ExpiresInHours: 72,
			}, nil
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GenerateLinkCode(w, req)

	var resp services.GeneratedCode
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "TB346789AB", resp.Code)
	assert.Equal(t, "TB-3467-89AB", resp.CodeDisplay)
	assert.Equal(t, 72, resp.ExpiresInHours)
}

func TestGenerateLinkCode_Unauthenticated(t *testing.T) {
	handler := handlers.NewPatientHandler(&handlers.MockPatientLinkingService{})
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/link-code", nil)
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GenerateLinkCode(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestGenerateLinkCode_PatientNotFound(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		GenerateCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			return nil, models.ErrNotFound
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/unknown/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "unknown")

	w := httptest.NewRecorder()
	handler.GenerateLinkCode(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestGenerateLinkCode_SiteAccessDenied(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		GenerateCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			return nil, models.ErrForbidden
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GenerateLinkCode(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestGenerateLinkCode_ConnectedPatientConflicts(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		GenerateCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			return nil, fmt.Errorf("%w: cannot generate code while patient is connected", models.ErrStateConflict)
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GenerateLinkCode(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestGetLinkCode_NoActiveCode(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		GetActiveCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			return nil, nil
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/patients/patient123/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GetLinkCode(w, req)

	var resp handlers.ActiveCodeResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp.HasActiveCode)
	assert.Empty(t, resp.Code)
}

func TestGetLinkCode_ActiveCode(t *testing.T) {
	expiresAt := time.Now().Add(36 * time.Hour).UTC().Truncate(time.Second)
	mockService := &handlers.MockPatientLinkingService{
		GetActiveCodeFunc: func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
			return &services.GeneratedCode{
				Code:           "TB346789AB",
				CodeDisplay:    "TB-3467-89AB",
				ExpiresAt:      expiresAt,
				ExpiresInHours: 36,
			}, nil
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "GET", "/patients/patient123/link-code", nil)
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.GetLinkCode(w, req)

	var resp handlers.ActiveCodeResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.HasActiveCode)
	assert.Equal(t, "TB-3467-89AB", resp.Code)
	assert.Equal(t, "TB346789AB", resp.CodeRaw)
}

func TestDisconnect_Success(t *testing.T) {
	var gotReason models.Reason
	mockService := &handlers.MockPatientLinkingService{
		DisconnectFunc: func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
			gotReason = reason
			return nil
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/disconnect", handlers.ReasonRequest{
		Reason: models.ReasonDeviceLost,
	})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.Disconnect(w, req)

	var resp handlers.StatusResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "patient123", resp.PatientID)
	assert.Equal(t, models.LinkingStatusDisconnected, resp.Status)
	assert.Equal(t, models.ReasonDeviceLost, gotReason.Code)
}

func TestDisconnect_MissingReason(t *testing.T) {
	handler := handlers.NewPatientHandler(&handlers.MockPatientLinkingService{})
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/disconnect", handlers.ReasonRequest{})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.Disconnect(w, req)

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
}

func TestDisconnect_OtherReasonRequiresNotes(t *testing.T) {
	handler := handlers.NewPatientHandler(&handlers.MockPatientLinkingService{})
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/disconnect", handlers.ReasonRequest{
		Reason: models.ReasonOther,
	})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.Disconnect(w, req)

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
}

func TestDisconnect_UnknownReason(t *testing.T) {
	handler := handlers.NewPatientHandler(&handlers.MockPatientLinkingService{})
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/disconnect", handlers.ReasonRequest{
		Reason: "felt_like_it",
	})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.Disconnect(w, req)

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
}

func TestNotParticipating_WrongStateConflicts(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		MarkNotParticipatingFunc: func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
			return fmt.Errorf("%w: patient is connected, expected disconnected", models.ErrStateConflict)
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/not-participating", handlers.ReasonRequest{
		Reason: models.ReasonWithdrewConsent,
	})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "inv@example.com", models.RoleInvestigator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.NotParticipating(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestReactivate_Success(t *testing.T) {
	mockService := &handlers.MockPatientLinkingService{
		ReactivateFunc: func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
			return nil
		},
	}

	handler := handlers.NewPatientHandler(mockService)
	req := handlers.NewTestRequest(t, "POST", "/patients/patient123/reactivate", handlers.ReasonRequest{
		Reason: models.ReasonSiteRequest,
	})
	req = handlers.WithPrincipal(req, handlers.NewTestPortalUser("user123", "admin@example.com", models.RoleAdministrator))
	req = handlers.WithChiURLParam(req, "id", "patient123")

	w := httptest.NewRecorder()
	handler.Reactivate(w, req)

	var resp handlers.StatusResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.LinkingStatusDisconnected, resp.Status)
}
