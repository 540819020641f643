// Package main is the entry point for the HomeGrid API server.
//
// It loads configuration, connects the database pool (running schema
// migrations when enabled), wires the billing and property handlers onto the
// core chassis, and serves HTTP until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"homegrid/internal/api/handlers"
	"homegrid/internal/billing"
	"homegrid/internal/config"
	"homegrid/internal/core"
	"homegrid/internal/db"
	"homegrid/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("homegrid API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(cfg.Database.URL.Unmask()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(pool.Close)
	srv.Metrics = core.NewMetrics()
	srv.Authenticator = &core.StaticAuthenticator{
		Token:    cfg.Auth.StaticToken.Unmask(),
		UserID:   cfg.Auth.StaticUserID,
		AgencyID: cfg.Auth.StaticAgencyID,
	}
	srv.HealthProbes = append(srv.HealthProbes, databaseProbe{pool: pool})

	// Repositories.
	agencyRepo := db.NewAgencyRepository(pool, logger)
	propertyRepo := db.NewPropertyRepository(pool)
	userRepo := db.NewUserRepository(pool)

	// Billing domain.
	catalog := billing.NewCatalog(cfg.Billing)
	ledger := billing.NewLedger(
		db.NewLedgerDBImpl(pool, logger),
		srv.Metrics,
		cfg.Server.DashboardURL,
		logger,
	)

	// Payment provider client.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		agencyRepo,
		catalog,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	// Handlers.
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		stripeClient,
		agencyRepo,
		userRepo,
		catalog,
		srv.Metrics,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	agencyHandler := handlers.NewAgencyHandler(agencyRepo, userRepo, stripeClient, srv.Validator, logger)
	propertyHandler := handlers.NewPropertyHandler(ledger, propertyRepo, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(agencyRepo, stripeClient, cfg.Server.DashboardURL, srv.Validator, logger)

	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		agencyHandler.RegisterRoutes,
		propertyHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// databaseProbe reports database connectivity on the health endpoint.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p databaseProbe) Name() string { return "database" }

func (p databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
