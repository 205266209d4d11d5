package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// AuditReader defines the interface for ledger queries
type AuditReader interface {
	List(ctx context.Context, session database.Session, limit, offset int) ([]*models.AuditEntry, error)
	VerifyChain(ctx context.Context, session database.Session) (*models.ChainVerification, error)
}

// AuditHandler serves the audit ledger to administrators and auditors
type AuditHandler struct {
	service AuditReader
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditReader) *AuditHandler {
	return &AuditHandler{
		service: service,
	}
}

// AuditEntryResponse represents one ledger record in the HTTP response
type AuditEntryResponse struct {
	ID            int64               `json:"id"`
	ActorID       *string             `json:"actor_id"`
	Action        string              `json:"action"`
	ResourceType  string              `json:"resource_type"`
	ResourceID    *string             `json:"resource_id"`
	Details       models.AuditDetails `json:"details"`
	Justification *string             `json:"justification,omitempty"`
	ChainHash     string              `json:"chain_hash"`
	CreatedAt     string              `json:"created_at"`
}

// ListAuditResponse represents a page of ledger records
type ListAuditResponse struct {
	Entries []*AuditEntryResponse `json:"entries"`
	Total   int                   `json:"total"`
}

// RegisterRoutes registers audit routes with the chi router
func (h *AuditHandler) RegisterRoutes(router chi.Router) {
	router.Route("/audit", func(r chi.Router) {
		r.Get("/", h.ListEntries)
		r.Get("/verify", h.VerifyChain)
	})
}

// ListEntries handles GET /audit
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.List(r.Context(), principal.Session, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]*AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, &AuditEntryResponse{
			ID:            entry.ID,
			ActorID:       entry.ActorID,
			Action:        entry.Action,
			ResourceType:  entry.ResourceType,
			ResourceID:    entry.ResourceID,
			Details:       entry.Details,
			Justification: entry.Justification,
			ChainHash:     entry.ChainHash,
			CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, ListAuditResponse{
		Entries: responses,
		Total:   len(responses),
	})
}

// VerifyChain handles GET /audit/verify
func (h *AuditHandler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	result, err := h.service.VerifyChain(r.Context(), principal.Session)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
