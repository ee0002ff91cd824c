// Package main provides the entry point for the forecast arbiter API server.
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

	"github.com/gridsight/arbiter-api/internal/api"
	"github.com/gridsight/arbiter-api/internal/auth"
	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/obs"
	"github.com/gridsight/arbiter-api/internal/queue"
	"github.com/gridsight/arbiter-api/internal/services"
	"github.com/gridsight/arbiter-api/pkg/config"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting arbiter API server")

	// Load configuration
	cfg := config.Load()

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()

		// Wait for second signal to force immediate shutdown
		sig = <-signalChan
		logger.Warn("received second signal, forcing immediate shutdown", "signal", sig)
		os.Exit(1)
	}()

	// Run the server
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		signal.Stop(signalChan)
		os.Exit(1)
	}

	// Stop signal handling and clean up
	signal.Stop(signalChan)
	logger.Info("server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Connect to database
	logger.Info("connecting to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Run migrations
	logger.Info("running database migrations")
	if err := database.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Connect to the report job queue
	jobQueue := queue.New(&cfg.Queue, logger)
	defer jobQueue.Close()
	if err := jobQueue.Ping(ctx); err != nil {
		logger.Warn("report queue unreachable at startup", "error", err)
	}

	// Initialize token verifier
	verifier, err := auth.NewVerifier(&cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// Initialize services
	userService := services.NewUserService(database, logger)
	siteService := services.NewSiteService(database, logger)
	observationService := services.NewObservationService(database, logger)
	forecastService := services.NewForecastService(database, logger)
	cdfForecastService := services.NewCDFForecastService(database, logger)
	aggregateService := services.NewAggregateService(database, logger)
	valuesService := services.NewValuesService(database, logger)
	reportService := services.NewReportService(database, jobQueue, cfg.Server.BaseURL, logger)
	rbacService := services.NewRBACService(database, logger)
	organizationService := services.NewOrganizationService(database, logger)

	metrics := obs.New()

	// Create HTTP router
	router := api.NewRouter(&api.RouterConfig{
		Verifier: verifier,
		DB:       database,
		Queue:    jobQueue,
		Metrics:  metrics,

		UserService:         userService,
		SiteService:         siteService,
		ObservationService:  observationService,
		ForecastService:     forecastService,
		CDFForecastService:  cdfForecastService,
		AggregateService:    aggregateService,
		ValuesService:       valuesService,
		ReportService:       reportService,
		RBACService:         rbacService,
		OrganizationService: organizationService,

		Logger: logger,
	})

	// Create HTTP server
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("initiating graceful shutdown")
	case err := <-errChan:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	return nil
}
