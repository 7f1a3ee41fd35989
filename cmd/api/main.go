// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/paygate/internal/api"
	"github.com/onnwee/paygate/internal/audit"
	"github.com/onnwee/paygate/internal/auth"
	"github.com/onnwee/paygate/internal/config"
	"github.com/onnwee/paygate/internal/dedup"
	"github.com/onnwee/paygate/internal/engine"
	"github.com/onnwee/paygate/internal/governance"
	"github.com/onnwee/paygate/internal/health"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/middleware"
	"github.com/onnwee/paygate/internal/processor"
	"github.com/onnwee/paygate/internal/reconcile"
	"github.com/onnwee/paygate/internal/safety"
	"github.com/onnwee/paygate/internal/tracing"
)

const dedupCleanupInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Paygate API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	// Durable stores when configured, in-memory fallbacks otherwise.
	var db *sql.DB
	var auditRepo audit.Repository
	var ledgerRepo ledger.Repository
	var stateStore safety.StateStore
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}

		auditRepo = audit.NewPostgresRepository(db)
		ledgerRepo = ledger.NewPostgresRepository(db)
		stateStore = safety.NewPostgresStateStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		memAudit := audit.NewInMemoryRepository()
		auditRepo = memAudit
		ledgerRepo = ledger.NewInMemoryRepository(memAudit)
		stateStore = safety.NewInMemoryStateStore()
	}

	var redisClient *redis.Client
	var dedupStore dedup.Store
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = redisClient.Close() }()
		dedupStore = dedup.NewRedisStore(redisClient, cfg.DedupWindow)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory dedup store")
		dedupStore = dedup.NewInMemoryStore()
	}

	actorEntries, err := cfg.ActorList()
	if err != nil {
		logger.Error("invalid allowed-actor list", "error", err)
		os.Exit(1)
	}
	actors := make([]safety.Actor, len(actorEntries))
	for i, a := range actorEntries {
		actors[i] = safety.Actor{ID: a.ID, Role: a.Role}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := engine.NewMetrics()
	reconcileMetrics := reconcile.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		engineMetrics.Register,
		reconcileMetrics.Register,
		httpMetrics.Register,
	} {
		if err := register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	safetyGate := safety.NewGate(stateStore, actors, auditRepo)
	policyGate := governance.NewGate(governance.Config{
		MaxAmount:             cfg.MaxPaymentAmount,
		RefundRatifyThreshold: cfg.RefundRatifyThreshold,
	})
	client := processor.NewStripeClient(cfg.StripeAPIKey)
	eng := engine.New(ledgerRepo, dedupStore, safetyGate, policyGate, client, engineMetrics, logger)

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	reconcileJob := reconcile.NewJob(reconcile.Config{
		Interval: cfg.ReconcileInterval,
		Lookback: cfg.ReconcileLookback,
		Dedup:    dedupStore,
		Logger:   logger,
		Metrics:  reconcileMetrics,
	}, client, ledgerRepo)
	if err := reconcileJob.Start(context.Background()); err != nil {
		logger.Error("failed to start reconciliation job", "error", err)
		os.Exit(1)
	}
	defer reconcileJob.Stop()

	cleanupStop := make(chan struct{})
	go dedup.RunPeriodicCleanup(context.Background(), dedupStore, dedupCleanupInterval, cfg.DedupWindow, cleanupStop)
	defer close(cleanupStop)

	checkers := make(map[string]api.Checker)
	if db != nil {
		checkers["database"] = health.NewDBChecker(db)
	}
	if redisClient != nil {
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}

	mux := api.NewMux(api.Deps{
		Payments:   api.NewPaymentHandlers(eng, ledgerRepo),
		Webhooks:   api.NewWebhookHandlers(cfg.StripeWebhookSecret, eng),
		Control:    api.NewControlHandlers(safetyGate),
		Audit:      api.NewAuditHandlers(auditRepo),
		Health:     api.NewHealthHandlers(checkers, safetyGate, eng, reconcileJob),
		JWTService: jwtService,
		Registry:   registry,
	})

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics
	var inner http.Handler = middleware.Logging(logger)(middleware.HTTPMetrics(httpMetrics)(mux))
	if tracer.IsEnabled() {
		inner = middleware.Tracing(tracing.DefaultServiceName)(inner)
	}
	handler := middleware.RequestID(inner)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
