package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trialbridge/portal/internal/auth"
	"github.com/trialbridge/portal/internal/background"
	"github.com/trialbridge/portal/internal/config"
	"github.com/trialbridge/portal/internal/database"
	"github.com/trialbridge/portal/internal/handlers"
	middlewareCustom "github.com/trialbridge/portal/internal/middleware"
	"github.com/trialbridge/portal/internal/models"
	"github.com/trialbridge/portal/internal/repositories"
	"github.com/trialbridge/portal/internal/routes"
	"github.com/trialbridge/portal/internal/services"
	pkglogger "github.com/trialbridge/portal/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository()
	siteAccessRepo := repositories.NewSiteAccessRepository()
	patientRepo := repositories.NewPatientRepository()
	codeRepo := repositories.NewLinkingCodeRepository()
	auditRepo := repositories.NewAuditRepository()
	rateLimitRepo := repositories.NewRateLimitRepository()

	// Token verification against the sponsor identity provider
	verifier := auth.NewTokenVerifier([]byte(cfg.Auth.IdPTokenSecret))

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	codeCipher, err := auth.NewSecretCipher(cfg.Linking.CodeEncryptionKey)
	if err != nil {
		logger.Error("failed to initialize code cipher", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.PortalURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	auditService := services.NewAuditService(db, auditRepo, logger)

	rateLimitService := services.NewRateLimitService(db, rateLimitRepo, map[string]services.RateLimitConfig{
		models.RateLimitOpPasswordReset: {
			Window:    cfg.RateLimit.PasswordResetWindow,
			Threshold: cfg.RateLimit.PasswordResetThreshold,
		},
		models.RateLimitOpOTPIssue: {
			Window:    cfg.RateLimit.OTPVerifyWindow,
			Threshold: cfg.RateLimit.OTPVerifyThreshold,
		},
	}, logger)

	linkingService := services.NewLinkingService(
		db, patientRepo, codeRepo, siteAccessRepo, auditService, codeCipher,
		services.LinkingConfig{
			CodePrefix: cfg.Linking.CodePrefix,
			CodeTTL:    cfg.Linking.CodeTTL,
		},
		logger,
	)

	userService := services.NewUserService(
		db, userRepo, siteAccessRepo, auditService, rateLimitService,
		emailService, totpManager, auditLogger, cfg.Auth.ResetCodeTTL, logger,
	)

	// Initialize handlers
	patientHandler := handlers.NewPatientHandler(linkingService)
	auditHandler := handlers.NewAuditHandler(auditService)
	authHandler := handlers.NewAuthHandler(userService)
	userHandler := handlers.NewUserHandler(userService)

	// Cleanup manager for expired codes and stale limiter events
	cleanupManager := background.NewCleanupManager(linkingService, rateLimitService, logger, cfg.Auth.CleanupInterval)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, patientHandler, auditHandler, authHandler, userHandler, verifier, userService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
