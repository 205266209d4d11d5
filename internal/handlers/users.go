package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/services"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// UserService defines the interface for account management logic
type UserService interface {
	GetByID(ctx context.Context, principal *auth.Principal, id string) (*models.PortalUser, error)
	List(ctx context.Context, principal *auth.Principal, limit, offset int) ([]*models.PortalUser, error)
	CreateUser(ctx context.Context, principal *auth.Principal, input services.CreateUserInput) (*models.PortalUser, error)
	UpdateUser(ctx context.Context, principal *auth.Principal, id string, input services.UpdateUserInput) (*models.PortalUser, error)
	RevokeUser(ctx context.Context, principal *auth.Principal, id string) error
}

// UserHandler handles account management HTTP requests
type UserHandler struct {
	service UserService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// CreateUserRequest represents the request body for provisioning an account
type CreateUserRequest struct {
	Email string   `json:"email" validate:"required,email"`
	Name  string   `json:"name" validate:"required,min=1"`
	Roles []string `json:"roles" validate:"required,min=1,dive,oneof=administrator auditor investigator developer_admin"`
	Sites []string `json:"sites" validate:"omitempty,dive,required"`
}

// UpdateUserRequest represents the request body for editing an account
type UpdateUserRequest struct {
	Name   *string  `json:"name" validate:"omitempty,min=1"`
	Status *string  `json:"status" validate:"omitempty,oneof=pending active revoked"`
	Roles  []string `json:"roles" validate:"omitempty,min=1,dive,oneof=administrator auditor investigator developer_admin"`
}

// UserResponse represents an account in the HTTP response
type UserResponse struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	ActiveRole   string   `json:"active_role"`
	AllowedRoles []string `json:"allowed_roles"`
	MFAEnrolled  bool     `json:"mfa_enrolled"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// ListUsersResponse represents a list of accounts
type ListUsersResponse struct {
	Users []*UserResponse `json:"users"`
	Total int             `json:"total"`
}

// userModelToResponse converts a user model to a response DTO
func userModelToResponse(user *models.PortalUser) *UserResponse {
	return &UserResponse{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Status:       user.Status,
		ActiveRole:   user.ActiveRole,
		AllowedRoles: user.AllowedRoles,
		MFAEnrolled:  user.MFAEnrolled(),
		CreatedAt:    user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    user.UpdatedAt.Format(time.RFC3339),
	}
}

// RegisterRoutes registers account routes with the chi router
func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/", h.ListUsers)
		r.Get("/{id}", h.GetUser)
		r.Put("/{id}", h.UpdateUser)
		r.Post("/{id}/revoke", h.RevokeUser)
	})
}

// CreateUser handles POST /users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.CreateUser(r.Context(), principal, services.CreateUserInput{
		Email:        req.Email,
		Name:         req.Name,
		AllowedRoles: req.Roles,
		SiteIDs:      req.Sites,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userModelToResponse(user))
}

// ListUsers handles GET /users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := h.service.List(r.Context(), principal, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]*UserResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, userModelToResponse(user))
	}

	writeJSON(w, http.StatusOK, ListUsersResponse{
		Users: responses,
		Total: len(responses),
	})
}

// GetUser handles GET /users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.service.GetByID(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userModelToResponse(user))
}

// UpdateUser handles PUT /users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.UpdateUser(r.Context(), principal, chi.URLParam(r, "id"), services.UpdateUserInput{
		Name:         req.Name,
		Status:       req.Status,
		AllowedRoles: req.Roles,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userModelToResponse(user))
}

// RevokeUser handles POST /users/{id}/revoke
func (h *UserHandler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.RevokeUser(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "account revoked",
	})
}
