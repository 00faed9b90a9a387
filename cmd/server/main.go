// main is the entry point for the race registration API server.
//
// It reads configuration from the environment, opens the SQLite
// database, registers all HTTP routes, and starts listening.
//
// ────────────────────────────────────────────────────────────────────
// LEARNING NOTE — how this file fits into the project
// ────────────────────────────────────────────────────────────────────
// This file is the "composition root": the single place where all the
// independent packages (config, store, session, payments, handlers,
// middleware) are wired together. Keeping this wiring in main.go means
// every other package stays easy to test in isolation (they never
// import each other in a circle).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/Elizabethomito/racereg/backend/internal/config"
	"github.com/Elizabethomito/racereg/backend/internal/handlers"
	"github.com/Elizabethomito/racereg/backend/internal/middleware"
	"github.com/Elizabethomito/racereg/backend/internal/payments"
	"github.com/Elizabethomito/racereg/backend/internal/session"
	"github.com/Elizabethomito/racereg/backend/internal/store"
)

func main() {
	// ── Configuration ────────────────────────────────────────────────
	// Settings come from the environment (optionally a .env file) so the
	// same binary runs in development, CI, and production.
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.Level(),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ── Database ─────────────────────────────────────────────────────
	// store.Open creates the file if it doesn't exist and runs all CREATE
	// TABLE IF NOT EXISTS migrations automatically.
	database, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	provider, err := payments.NewProvider(cfg.PaymentProvider, cfg.PaymentWebhookSecret, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(cfg.SessionTTL)
	srv := &handlers.Server{
		Store:         store.New(database, cfg.Fees(), logger),
		Sessions:      sessions,
		Payments:      provider,
		Secret:        cfg.ConfirmationSecret,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       handlers.NewMetrics(sessions),
		EnableSeed:    cfg.EnableSeed,
		Logger:        logger,
	}

	// Middleware runs outside in: CORS answers preflights before they
	// count against the rate limit, and every request is logged.
	handler := middleware.CORS(
		middleware.Logging(logger)(
			middleware.RateLimit(middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))(
				srv.Routes())))

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweep(ctx, sessions, cfg.SessionTTL, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("racereg API listening", "addr", cfg.Addr, "payments", provider.Name())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// sweep drops idle sessions until ctx is cancelled.
func sweep(ctx context.Context, sessions *session.Registry, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				logger.Info("idle sessions dropped", "count", n, "live", sessions.Len())
			}
		}
	}
}
