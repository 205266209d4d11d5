package handlers

import (
	"errors"
	"net/http"

	"github.com/trialbridge/portal/internal/models"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// writeDomainError maps domain errors to the HTTP status taxonomy.
// Sentinel messages go to the client; anything unmapped is an opaque
// internal error.
func writeDomainError(w http.ResponseWriter, err error) {
	var rateErr *models.RateLimitedError
	if errors.As(err, &rateErr) {
		httputil.WriteRateLimited(w, rateErr.RetryAfterSeconds())
		return
	}

	switch {
	case errors.Is(err, models.ErrBadRequest):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		httputil.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrForbidden):
		httputil.WriteForbidden(w, "you do not have access to this resource")
	case errors.Is(err, models.ErrNotFound):
		httputil.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrStateConflict), errors.Is(err, models.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, "an internal error occurred")
	}
}
