package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/services"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// PatientLinkingService defines the interface for linking lifecycle logic
type PatientLinkingService interface {
	GenerateCode(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error)
	GetActiveCode(ctx context.Context, principal *auth.Principal, patientID string) (*services.GeneratedCode, error)
	Disconnect(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
	MarkNotParticipating(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
	Reactivate(ctx context.Context, principal *auth.Principal, patientID string, reason models.Reason) error
}

// PatientHandler handles patient linking lifecycle HTTP requests
type PatientHandler struct {
	service PatientLinkingService
}

// NewPatientHandler creates a new PatientHandler
func NewPatientHandler(service PatientLinkingService) *PatientHandler {
	return &PatientHandler{
		service: service,
	}
}

// ReasonRequest carries the justification for a lifecycle transition
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required"`
	Notes  string `json:"notes" validate:"omitempty,max=1000"`
}

// StatusResponse reports the patient's linking status after a transition
type StatusResponse struct {
	PatientID string `json:"patient_id"`
	Status    string `json:"status"`
}

// ActiveCodeResponse reports whether an unexpired open code exists and,
// if so, re-reveals it
type ActiveCodeResponse struct {
	HasActiveCode  bool       `json:"has_active_code"`
	Code           string     `json:"code,omitempty"`
	CodeRaw        string     `json:"code_raw,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ExpiresInHours int        `json:"expires_in_hours,omitempty"`
}

// RegisterRoutes registers patient routes with the chi router
func (h *PatientHandler) RegisterRoutes(router chi.Router) {
	router.Route("/patients/{id}", func(r chi.Router) {
		r.Post("/link-code", h.GenerateLinkCode)
		r.Get("/link-code", h.GetLinkCode)
		r.Post("/disconnect", h.Disconnect)
		r.Post("/not-participating", h.NotParticipating)
		r.Post("/reactivate", h.Reactivate)
	})
}

// GenerateLinkCode handles POST /patients/{id}/link-code
func (h *PatientHandler) GenerateLinkCode(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	patientID := chi.URLParam(r, "id")
	if patientID == "" {
		httputil.WriteBadRequest(w, "patient id is required")
		return
	}

	code, err := h.service.GenerateCode(r.Context(), principal, patientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, code)
}

// GetLinkCode handles GET /patients/{id}/link-code
func (h *PatientHandler) GetLinkCode(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	patientID := chi.URLParam(r, "id")
	if patientID == "" {
		httputil.WriteBadRequest(w, "patient id is required")
		return
	}

	code, err := h.service.GetActiveCode(r.Context(), principal, patientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if code == nil {
		writeJSON(w, http.StatusOK, ActiveCodeResponse{HasActiveCode: false})
		return
	}

	writeJSON(w, http.StatusOK, ActiveCodeResponse{
		HasActiveCode:  true,
		Code:           code.CodeDisplay,
		CodeRaw:        code.Code,
		ExpiresAt:      &code.ExpiresAt,
		ExpiresInHours: code.ExpiresInHours,
	})
}

// Disconnect handles POST /patients/{id}/disconnect
func (h *PatientHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Disconnect, models.LinkingStatusDisconnected)
}

// NotParticipating handles POST /patients/{id}/not-participating
func (h *PatientHandler) NotParticipating(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkNotParticipating, models.LinkingStatusNotParticipating)
}

// Reactivate handles POST /patients/{id}/reactivate
func (h *PatientHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reactivate, models.LinkingStatusDisconnected)
}

func (h *PatientHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, *auth.Principal, string, models.Reason) error,
	resultStatus string,
) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	patientID := chi.URLParam(r, "id")
	if patientID == "" {
		httputil.WriteBadRequest(w, "patient id is required")
		return
	}

	var req ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	reason, err := models.ParseReason(req.Reason, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := op(r.Context(), principal, patientID, reason); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		PatientID: patientID,
		Status:    resultStatus,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
