package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/meterline/internal"
	"github.com/DukeRupert/meterline/internal/billing"
	"github.com/DukeRupert/meterline/internal/handler"
	"github.com/DukeRupert/meterline/internal/jobs"
	"github.com/DukeRupert/meterline/internal/metrics"
	"github.com/DukeRupert/meterline/internal/middleware"
	"github.com/DukeRupert/meterline/internal/notify"
	"github.com/DukeRupert/meterline/internal/plans"
	"github.com/DukeRupert/meterline/internal/repository"
	"github.com/DukeRupert/meterline/internal/scheduler"
	"github.com/DukeRupert/meterline/internal/service"
	"github.com/DukeRupert/meterline/internal/storage"
	"github.com/DukeRupert/meterline/internal/store"
	"github.com/DukeRupert/meterline/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	queries := repository.New(db)
	st := store.NewPostgres(db)

	// ==========================================================================
	// Engine dependencies
	// ==========================================================================

	registry := plans.Default()
	if cfg.PlansFile != "" {
		registry, err = plans.LoadFile(cfg.PlansFile)
		if err != nil {
			return fmt.Errorf("plan catalogue: %w", err)
		}
	}
	logger.Info("Plans loaded", "count", len(registry.All()), "file", cfg.PlansFile)

	ledger := newLedger(cfg, logger)

	archive, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("notifier initialization failed: %w", err)
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	enqueuer := worker.NewEnqueuer(queries)

	subscriberService := service.NewSubscriberService(st, logger)
	usageService := service.NewUsageService(st, logger)
	overageService := service.NewOverageService(st, ledger, notifier, service.OverageConfig{
		Feature:     cfg.OverageFeature,
		MaxAttempts: cfg.OverageMaxAttempts,
	}, logger)
	entitlementService := service.NewEntitlementService(st, registry, usageService, overageService, logger)
	teamService := service.NewTeamService(st, registry, ledger, enqueuer, logger)
	planChangeService := service.NewPlanChangeService(st, registry, teamService, notifier, logger)
	renewalService := service.NewRenewalService(st, registry, archive, logger)

	// ==========================================================================
	// Background worker and scheduler
	// ==========================================================================

	var jobWorker *worker.Worker
	if cfg.WorkerEnabled {
		workerConfig := worker.DefaultConfig()
		workerConfig.Concurrency = cfg.WorkerConcurrency
		workerConfig.PollInterval = cfg.WorkerPollInterval
		workerConfig.JobTimeout = cfg.WorkerJobTimeout

		jobWorker, err = worker.New(db, queries, workerConfig, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		jobWorker.Register(jobs.NewRenewalSweepHandler(planChangeService, renewalService, logger))
		jobWorker.Register(jobs.NewOverageRetryHandler(overageService, logger))
		jobWorker.Register(jobs.NewReconcileTeamHandler(teamService, logger))
		jobWorker.Register(jobs.NewTeamReconcileSweepHandler(teamService, logger))
		jobWorker.Start(ctx)
	}

	var sweeps *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sweeps, err = scheduler.New(scheduler.Config{
			RenewalSchedule:       cfg.RenewalSchedule,
			OverageRetrySchedule:  cfg.OverageRetrySchedule,
			TeamReconcileSchedule: cfg.TeamReconcileSchedule,
		}, enqueuer, logger)
		if err != nil {
			return fmt.Errorf("scheduler initialization failed: %w", err)
		}
		sweeps.Start()
		logger.Info("Scheduler started", "entries", sweeps.Entries())
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.Env != "development"
	requestLogger := middleware.NewRequestLoggingMiddleware(logger)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(isSecure)

	var limiter *middleware.RateLimiter
	if cfg.APIRateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.APIRateLimit, time.Minute)
		go limiter.Cleanup(ctx)
	}
	rateLimit := middleware.NewRateLimitMiddleware(limiter, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	api := http.NewServeMux()
	handler.NewSubscriberHandler(subscriberService, registry, logger).RegisterRoutes(api)
	handler.NewEntitlementHandler(entitlementService, logger).RegisterRoutes(api)
	handler.NewPlanChangeHandler(planChangeService, logger).RegisterRoutes(api)
	handler.NewTeamHandler(teamService, logger).RegisterRoutes(api)

	mux := http.NewServeMux()
	mux.Handle("/v1/", rateLimit.Limit(metrics.Middleware(api)))

	var jobStats handler.JobStats
	if jobWorker != nil {
		jobStats = jobWorker
	}
	handler.NewHealthHandler(db, jobStats, logger).RegisterRoutes(mux)
	handler.NewWebhookHandler(subscriberService, cfg.StripeWebhookSecret, logger).RegisterRoutes(mux)

	// Metrics endpoint
	metricsHandler := promhttp.Handler()
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		basicAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger)
		metricsHandler = basicAuth.Handler(metricsHandler)
	} else {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsHandler)

	root := middleware.Stack(requestLogger.Handler, securityHeaders.Handler)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "ledger", cfg.LedgerProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if sweeps != nil {
		sweeps.Stop(shutdownCtx)
	}
	if jobWorker != nil {
		jobWorker.Stop()
	}
	cancelRun()

	logger.Info("Graceful shutdown complete")
	return nil
}

func newLedger(cfg *internal.Config, logger *slog.Logger) billing.Ledger {
	if cfg.LedgerProvider == "stripe" {
		logger.Info("Using Stripe ledger")
		return billing.NewStripeLedger(cfg.StripeSecretKey, cfg.LedgerTimeout, logger)
	}
	logger.Warn("Using log ledger; usage and seats are not billed")
	return billing.NewLogLedger(logger)
}

func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.StorageProvider == "r2" {
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	}
	return storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, logger)
}

func newNotifier(cfg *internal.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.AlertEmail == "" {
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.AlertEmail, logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
