package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/models"
	httputil "github.com/trialbridge/portal/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing the resolved principal in context
	PrincipalContextKey contextKey = "principal"
)

// PortalUserLoader resolves an IdP-asserted email to a provisioned portal account
type PortalUserLoader interface {
	GetByEmail(ctx context.Context, email string) (*models.PortalUser, error)
}

// Principal is the resolved caller identity for a single request.
// Session carries the identity and active role into the data layer, where
// row-level policies enforce what the principal can see and change.
type Principal struct {
	User    *models.PortalUser
	Session database.Session
}

// Middleware verifies the bearer token, resolves the portal account, and
// injects the principal into the request context. Tokens for unknown,
// pending, or revoked accounts are rejected before any data access.
func Middleware(verifier *TokenVerifier, users PortalUserLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			user, err := users.GetByEmail(r.Context(), claims.Email)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					httputil.WriteUnauthorized(w, "no portal account for this identity")
					return
				}
				httputil.WriteInternalError(w, "failed to resolve portal account")
				return
			}

			switch user.Status {
			case models.UserStatusActive:
				// proceed
			case models.UserStatusPending:
				httputil.WriteForbidden(w, "account is pending activation")
				return
			default:
				httputil.WriteForbidden(w, "account has been revoked")
				return
			}

			principal := &Principal{
				User:    user,
				Session: database.UserSession(user.ID, user.ActiveRole, user.AllowedRoles),
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces that the principal's active role is one of the
// allowed roles. Row-level policies remain the backstop; this gives the
// caller a clear 403 instead of an empty result set.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			for _, role := range roles {
				if principal.User.ActiveRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.WriteForbidden(w, "insufficient permissions for this operation")
		})
	}
}

// GetPrincipal extracts the resolved principal from the request context.
// Returns nil if the request did not pass through Middleware.
func GetPrincipal(ctx context.Context) *Principal {
	principal, ok := ctx.Value(PrincipalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return principal
}
