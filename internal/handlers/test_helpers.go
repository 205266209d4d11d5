package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/services"
	pkghttp "github.com/trialbridge/portal/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewTestPortalUser creates an active account for handler tests
func NewTestPortalUser(id, email, role string) *models.PortalUser {
	now := time.Now()
	return &models.PortalUser{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		Status:       models.UserStatusActive,
		ActiveRole:   role,
		AllowedRoles: []string{role},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WithPrincipal adds a resolved principal to the request context
func WithPrincipal(req *http.Request, user *models.PortalUser) *http.Request {
	principal := &auth.Principal{
		User:    user,
		Session: database.UserSession(user.ID, user.ActiveRole, user.AllowedRoles),
	}
	ctx := context.WithValue(req.Context(), auth.PrincipalContextKey, principal)
	return req.WithContext(ctx)
}

// WithChiURLParam injects a chi route parameter into the request context
func WithChiURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockPatientLinkingService implements PatientLinkingService for testing
type MockPatientLinkingService struct {
	GenerateCodeFunc         func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error)
	GetActiveCodeFunc        func(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error)
	DisconnectFunc           func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
	MarkNotParticipatingFunc func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
	ReactivateFunc           func(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
}

func (m *MockPatientLinkingService) GenerateCode(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
	if m.GenerateCodeFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.GenerateCodeFunc(ctx, principal, patientID)
}

func (m *MockPatientLinkingService) GetActiveCode(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error) {
	if m.GetActiveCodeFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetActiveCodeFunc(ctx, principal, patientID)
}

func (m *MockPatientLinkingService) Disconnect(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	if m.DisconnectFunc == nil {
		return nil
	}
	return m.DisconnectFunc(ctx, principal, patientID, reason)
}

func (m *MockPatientLinkingService) MarkNotParticipating(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	if m.MarkNotParticipatingFunc == nil {
		return nil
	}
	return m.MarkNotParticipatingFunc(ctx, principal, patientID, reason)
}

func (m *MockPatientLinkingService) Reactivate(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error {
	if m.ReactivateFunc == nil {
		return nil
	}
	return m.ReactivateFunc(ctx, principal, patientID, reason)
}

// MockAuditReader implements AuditReader for testing
type MockAuditReader struct {
	ListFunc        func(ctx context.Context, session database.Session, limit, offset int) ([]*models.AuditEntry, error)
	VerifyChainFunc func(ctx context.Context, session database.Session) (*models.ChainVerification, error)
}

func (m *MockAuditReader) List(ctx context.Context, session database.Session, limit, offset int) ([]*models.AuditEntry, error) {
	if m.ListFunc == nil {
		return []*models.AuditEntry{}, nil
	}
	return m.ListFunc(ctx, session, limit, offset)
}

func (m *MockAuditReader) VerifyChain(ctx context.Context, session database.Session) (*models.ChainVerification, error) {
	if m.VerifyChainFunc == nil {
		return &models.ChainVerification{ChainIntact: true}, nil
	}
	return m.VerifyChainFunc(ctx, session)
}

// MockAuthFlowService implements AuthService for testing
type MockAuthFlowService struct {
	HandlePasswordResetRequestFunc func(ctx context.Context, email string) error
	SwitchRoleFunc                 func(ctx context.Context, principal *auth.Principal, role string) error
	EnrollTOTPFunc                 func(ctx context.Context, principal *auth.Principal) (*services.TOTPEnrollment, error)
	VerifyTOTPFunc                 func(ctx context.Context, principal *auth.Principal, code string) error
}

func (m *MockAuthFlowService) HandlePasswordResetRequest(ctx context.Context, email string) error {
	if m.HandlePasswordResetRequestFunc == nil {
		return nil
	}
	return m.HandlePasswordResetRequestFunc(ctx, email)
}

func (m *MockAuthFlowService) SwitchRole(ctx context.Context, principal *auth.Principal, role string) error {
	if m.SwitchRoleFunc == nil {
		return nil
	}
	return m.SwitchRoleFunc(ctx, principal, role)
}

func (m *MockAuthFlowService) EnrollTOTP(ctx context.Context, principal *auth.Principal) (*services.TOTPEnrollment, error) {
	if m.EnrollTOTPFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnrollTOTPFunc(ctx, principal)
}

func (m *MockAuthFlowService) VerifyTOTP(ctx context.Context, principal *auth.Principal, code string) error {
	if m.VerifyTOTPFunc == nil {
		return models.ErrUnauthorized
	}
	return m.VerifyTOTPFunc(ctx, principal, code)
}
