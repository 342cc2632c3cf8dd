// Package server wires the router, middleware, and all route definitions.
// It is the composition root: every service and handler is constructed here
// and nowhere else.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mintair/mintair-cloud/internal/auth"
	"github.com/mintair/mintair-cloud/internal/config"
	"github.com/mintair/mintair-cloud/internal/handler"
	"github.com/mintair/mintair-cloud/internal/middleware"
	"github.com/mintair/mintair-cloud/internal/payment"
	sqliteRepo "github.com/mintair/mintair-cloud/internal/repository/sqlite"
	"github.com/mintair/mintair-cloud/internal/service"
)

// Server owns the router and the database connection. The connection is
// closed during graceful shutdown so the WAL is flushed before exit.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(s.cfg.BcryptCost)
	google := auth.NewGoogleProvider(s.cfg.GoogleClientID, s.cfg.GoogleClientSecret, s.cfg.GoogleCallbackURL)

	cookie := auth.CookieConfig{
		Name:        s.cfg.SessionCookieName,
		TTL:         time.Duration(s.cfg.SessionTTLHours) * time.Hour,
		Secure:      s.cfg.IsProduction(),
		CrossOrigin: s.cfg.CookieCrossOrigin,
	}
	sessionTTL := cookie.TTL

	checkout := payment.NewClient(
		s.cfg.CopperxAPIKey,
		s.cfg.CopperxAPIBaseURL,
		s.cfg.CopperxSuccessURL,
		s.cfg.CopperxCancelURL,
		s.cfg.CopperxAllowFiat,
		s.logger,
	)

	authService := service.NewAuthService(s.db, passwords, tokens, sessionTTL, s.cfg.StarterCredit(), s.cfg.ReferralReward(), s.logger)
	referralService := service.NewReferralService(s.db, s.db, s.cfg.ReferralReward(), s.logger)
	instanceService := service.NewInstanceService(s.db, s.db, s.db, s.db, referralService, s.logger)
	marketplaceService := service.NewMarketplaceService(s.db, s.logger)
	creditsService := service.NewCreditsService(
		s.db, s.db, checkout,
		s.cfg.CopperxWebhookSecret,
		time.Duration(s.cfg.TopUpCancelCooldownMins)*time.Minute,
		s.logger,
	)
	billingService := service.NewBillingService(s.db, s.db, s.db, s.db, s.db, s.logger)
	sshKeyService := service.NewSSHKeyService(s.db, s.logger)
	settingsService := service.NewSettingsService(s.db, s.db, s.logger)
	dashboardService := service.NewDashboardService(s.db, s.db, s.db, s.db, s.logger)
	quoteService := service.NewQuoteService(s.db, s.logger)
	docsService := service.NewDocsService()

	authHandler := handler.NewAuthHandler(authService, google, cookie, s.logger)
	instanceHandler := handler.NewInstanceHandler(instanceService, s.logger)
	marketplaceHandler := handler.NewMarketplaceHandler(marketplaceService, s.logger)
	creditsHandler := handler.NewCreditsHandler(creditsService, s.logger)
	billingHandler := handler.NewBillingHandler(billingService, s.logger)
	referralHandler := handler.NewReferralHandler(referralService, s.logger)
	sshKeyHandler := handler.NewSSHKeyHandler(sshKeyService, s.logger)
	settingsHandler := handler.NewSettingsHandler(settingsService, s.logger)
	dashboardHandler := handler.NewDashboardHandler(dashboardService, s.logger)
	quoteHandler := handler.NewQuoteHandler(quoteService, s.logger)
	docsHandler := handler.NewDocsHandler(docsService, s.logger)

	requireAuth := auth.RequireAuth(tokens, s.cfg.SessionCookieName)

	s.router.Route("/api", func(r chi.Router) {
		// Public routes: account entry points, the provider webhook, and
		// read-only catalogue and docs.
		r.Post("/auth/signup", authHandler.HandleSignup)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Get("/auth/google", authHandler.HandleGoogleLogin)
		r.Get("/auth/google/callback", authHandler.HandleGoogleCallback)
		r.Post("/auth/verify-email", authHandler.HandleVerifyEmail)
		r.Post("/auth/resend-verification", authHandler.HandleResendVerification)
		r.Post("/auth/forgot-password", authHandler.HandleForgotPassword)
		r.Post("/auth/reset-password", authHandler.HandleResetPassword)

		r.Post("/billing/webhooks/copperx", creditsHandler.HandleWebhook)

		r.Get("/marketplace", marketplaceHandler.HandleList)
		r.Get("/marketplace/{idOrSlug}", marketplaceHandler.HandleGet)
		r.Post("/marketplace/estimate", marketplaceHandler.HandleEstimate)

		r.Get("/docs", docsHandler.HandleList)
		r.Get("/docs/{slug}", docsHandler.HandleGet)

		// Everything below requires a session.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/me", authHandler.HandleMe)
			r.Post("/auth/change-password", authHandler.HandleChangePassword)

			r.Get("/dashboard", dashboardHandler.HandleSummary)

			r.Get("/instances", instanceHandler.HandleList)
			r.Post("/instances", instanceHandler.HandleDeploy)
			r.Get("/instances/{id}", instanceHandler.HandleGet)
			r.Delete("/instances/{id}", instanceHandler.HandleTerminate)
			r.Post("/instances/{id}/start", instanceHandler.HandleStart)
			r.Post("/instances/{id}/stop", instanceHandler.HandleStop)
			r.Post("/instances/{id}/restart", instanceHandler.HandleRestart)
			r.Get("/instances/{id}/logs", instanceHandler.HandleLogs)
			r.Get("/instances/{id}/metrics", instanceHandler.HandleMetrics)

			r.Get("/credits", creditsHandler.HandleSummary)
			r.Post("/credits/checkout", creditsHandler.HandleCreateCheckout)
			r.Post("/credits/topups/{id}/cancel", creditsHandler.HandleCancelTopUp)

			r.Get("/billing", billingHandler.HandleOverview)
			r.Get("/billing/history", billingHandler.HandleHistory)
			r.Get("/billing/usage", billingHandler.HandleUsage)
			r.Get("/billing/payment-methods", billingHandler.HandleListPaymentMethods)
			r.Post("/billing/payment-methods", billingHandler.HandleAddPaymentMethod)
			r.Post("/billing/payment-methods/{id}/default", billingHandler.HandleSetDefaultPaymentMethod)
			r.Delete("/billing/payment-methods/{id}", billingHandler.HandleDeletePaymentMethod)

			r.Get("/referrals", referralHandler.HandleSummary)

			r.Get("/ssh-keys", sshKeyHandler.HandleList)
			r.Post("/ssh-keys", sshKeyHandler.HandleAdd)
			r.Patch("/ssh-keys/{id}", sshKeyHandler.HandleRename)
			r.Delete("/ssh-keys/{id}", sshKeyHandler.HandleDelete)

			r.Patch("/settings/profile", settingsHandler.HandleUpdateProfile)
			r.Post("/settings/onboarding", settingsHandler.HandleCompleteOnboarding)
			r.Get("/settings/api-keys", settingsHandler.HandleListAPIKeys)
			r.Post("/settings/api-keys", settingsHandler.HandleCreateAPIKey)
			r.Delete("/settings/api-keys/{id}", settingsHandler.HandleDeleteAPIKey)

			r.Get("/quotes", quoteHandler.HandleList)
			r.Post("/quotes", quoteHandler.HandleSubmit)
			r.Post("/quotes/{id}/withdraw", quoteHandler.HandleWithdraw)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return nil
}

// Start runs the HTTP server until SIGINT or SIGTERM, then shuts down
// gracefully: in-flight requests get up to 30 seconds, and the database is
// closed last.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.cfg.Addr),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the configured mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
