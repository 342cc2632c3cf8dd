package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mintair/mintair-cloud/internal/config"
	"github.com/mintair/mintair-cloud/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET must be set")
	}
	if cfg.IsProduction() && cfg.CopperxWebhookSecret == "" {
		return fmt.Errorf("COPPERX_WEBHOOK_SECRET must be set in production")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	return srv.Start()
}

// newLogger emits JSON in production and friendlier text everywhere else.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
