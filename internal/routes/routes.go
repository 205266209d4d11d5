package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/handlers"
	"github.com/trialbridge/portal/internal/middleware"
	"github.com/trialbridge/portal/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	patientHandler *handlers.PatientHandler,
	auditHandler *handlers.AuditHandler,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	verifier *auth.TokenVerifier,
	userLoader auth.PortalUserLoader,
) {
	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(middleware.DefaultPublicRateLimit())).
		Post("/auth/password-reset", authHandler.RequestPasswordReset)

	// Protected routes - bearer token plus a provisioned account
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultAPIRateLimit()))
		r.Use(auth.Middleware(verifier, userLoader))

		// Any authenticated user
		r.Post("/auth/role", authHandler.SwitchRole)
		r.Post("/auth/mfa/enroll", authHandler.EnrollTOTP)
		r.Post("/auth/mfa/verify", authHandler.VerifyTOTP)
		r.Get("/auth/me", authHandler.Me)
		r.Get("/users/{id}", userHandler.GetUser)

		// Linking lifecycle: administrators and site investigators.
		// Role checks here give clear 403s; row policies stay the
		// backstop underneath.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdministrator, models.RoleInvestigator))
			r.Post("/patients/{id}/link-code", patientHandler.GenerateLinkCode)
			r.Get("/patients/{id}/link-code", patientHandler.GetLinkCode)
			r.Post("/patients/{id}/disconnect", patientHandler.Disconnect)
			r.Post("/patients/{id}/not-participating", patientHandler.NotParticipating)
			r.Post("/patients/{id}/reactivate", patientHandler.Reactivate)
		})

		// Ledger access: administrators and auditors
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdministrator, models.RoleAuditor))
			r.Get("/audit", auditHandler.ListEntries)
			r.Get("/audit/verify", auditHandler.VerifyChain)
		})

		// Account management: administrators, plus developer admins
		// for provisioning further developer_admin accounts
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdministrator, models.RoleDeveloperAdmin))
			r.Get("/users", userHandler.ListUsers)
			r.Post("/users", userHandler.CreateUser)
			r.Put("/users/{id}", userHandler.UpdateUser)
			r.Post("/users/{id}/revoke", userHandler.RevokeUser)
		})
	})
}
