package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/services"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// AuthService defines the interface for account-adjacent auth flows
type AuthService interface {
	HandlePasswordResetRequest(ctx context.Context, email string) error
	SwitchRole(ctx context.Context, principal *auth.Principal, role string) error
	EnrollTOTP(ctx context.Context, principal *auth.Principal) (*services.TOTPEnrollment, error)
	VerifyTOTP(ctx context.Context, principal *auth.Principal, code string) error
}

// AuthHandler handles authentication-adjacent HTTP requests
type AuthHandler struct {
	service AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthService) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// PasswordResetRequest represents the reset request body
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SwitchRoleRequest represents the role switch body
type SwitchRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// VerifyTOTPRequest represents the step-up verification body
type VerifyTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// MessageResponse is a generic acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterPublicRoutes registers the unauthenticated auth routes
func (h *AuthHandler) RegisterPublicRoutes(router chi.Router) {
	router.Post("/auth/password-reset", h.RequestPasswordReset)
}

// RegisterRoutes registers the authenticated auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/role", h.SwitchRole)
		r.Post("/mfa/enroll", h.EnrollTOTP)
		r.Post("/mfa/verify", h.VerifyTOTP)
		r.Get("/me", h.Me)
	})
}

// RequestPasswordReset handles POST /auth/password-reset. The response
// is identical whether or not the address has an account; only the
// destination-keyed rate limit can change the status.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.HandlePasswordResetRequest(r.Context(), req.Email); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "if an account exists for this address, a reset code has been sent",
	})
}

// SwitchRole handles POST /auth/role
func (h *AuthHandler) SwitchRole(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req SwitchRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SwitchRole(r.Context(), principal, req.Role); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "active role updated",
	})
}

// EnrollTOTP handles POST /auth/mfa/enroll
func (h *AuthHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	enrollment, err := h.service.EnrollTOTP(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

// VerifyTOTP handles POST /auth/mfa/verify
func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req VerifyTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyTOTP(r.Context(), principal, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "verification code accepted",
	})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, userModelToResponse(principal.User))
}
