// Package main is the entry point for the clinicstock API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"clinicstock/internal/config"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/security"
	"clinicstock/internal/domain/auth"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/domain/reports"
	"clinicstock/internal/infrastructure/broker"
	"clinicstock/internal/infrastructure/export"
	v1 "clinicstock/internal/infrastructure/http/v1"
	"clinicstock/internal/infrastructure/http/v1/handlers"
	"clinicstock/internal/infrastructure/numerator"
	"clinicstock/internal/infrastructure/storage/postgres"
	"clinicstock/internal/infrastructure/storage/postgres/auth_repo"
	"clinicstock/internal/infrastructure/storage/postgres/inventory_repo"
	"clinicstock/internal/infrastructure/storage/postgres/patient_repo"
	"clinicstock/internal/infrastructure/storage/postgres/report_repo"
	"clinicstock/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.ValidateServer(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting clinicstock server", "version", version, "env", cfg.Env)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool, postgres.WithDefaultTimeouts(cfg.StatementTimeout, cfg.LockTimeout))

	// --- Optional Redis (rollup lock) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = broker.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
	}

	// --- Calendar and period policy ---
	loc, _ := cfg.Location()
	cal := calendar.NewJalali(loc)

	var policy security.PeriodPolicy = security.OpenPolicy{}
	if closed, _ := cfg.ClosedPeriod(); !closed.IsZero() {
		policy = security.NewClosedPeriodPolicy(closed)
		log.Infow("ledger periods closed", "through", closed.String())
	}

	// --- Repositories ---
	store := inventory_repo.NewStore(txManager)
	patientRepo := patient_repo.NewPatientRepo(txManager)
	reportRepo := report_repo.NewReportRepo(txManager)

	auditor, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}

	batchNumbers := numerator.New(
		func(ctx context.Context) numerator.Querier { return txManager.GetQuerier(ctx) },
		numerator.Options{Strategy: numerator.StrategyStrict},
	)

	ledgerOpts := []inventory.Option{
		inventory.WithPeriodPolicy(policy),
		inventory.WithEvents(postgres.NewOutboxPublisher(txManager)),
		inventory.WithAuditor(auditor),
		inventory.WithBatchNumberer(batchNumbers),
	}

	// --- Services ---
	deliveryService := inventory.NewDeliveryService(store, patientRepo, cal, txManager, ledgerOpts...)
	stockService := inventory.NewStockService(store, cal, txManager, ledgerOpts...)

	reportService := reports.NewService(reportRepo, store.Deliveries, cal,
		reports.WithThresholds(reports.Thresholds{
			Critical:    cfg.CriticalThreshold,
			Low:         cfg.LowThreshold,
			LowFraction: decimal.NewFromFloat(cfg.LowFraction),
		}),
		reports.WithAbsenceDays(cfg.AbsenceDays),
		reports.WithRenderer(export.XLSX{}),
	)

	rollupOpts := []patients.RollupOption{patients.WithAbsenceDays(cfg.AbsenceDays)}
	if rdb != nil {
		rollupOpts = append(rollupOpts, patients.WithLocker(broker.NewLocker(rdb), 5*time.Minute))
	}
	rollupService := patients.NewRollupService(patientRepo, rollupOpts...)

	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.AccessTokenTTL = cfg.AccessTokenTTL
	jwtService := auth.NewJWTService(jwtConfig)

	authConfig := auth.DefaultServiceConfig()
	authConfig.RefreshTokenExpiry = cfg.RefreshTokenTTL
	authService := auth.NewService(
		auth_repo.NewUserRepo(txManager),
		auth_repo.NewTokenRepo(txManager),
		jwtService,
		authConfig,
	)

	// --- Health checks ---
	checks := map[string]handlers.CheckFunc{
		"database": func(ctx context.Context) error { return pool.Ping(ctx) },
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:             log,
		JWTValidator:       jwtService,
		Calendar:           cal,
		AuthService:        authService,
		DeliveryService:    deliveryService,
		StockService:       stockService,
		ReportService:      reportService,
		Rollup:             rollupService,
		Idempotency:        postgres.NewIdempotencyStore(txManager, 24*time.Hour),
		Version:            version,
		HealthChecks:       checks,
		PoolStats:          func() any { return poolStats(pool) },
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Debug:              cfg.IsDev(),
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func poolStats(pool *postgres.Pool) map[string]any {
	s := pool.Stat()
	return map[string]any{
		"total_conns":    s.TotalConns(),
		"idle_conns":     s.IdleConns(),
		"acquired_conns": s.AcquiredConns(),
		"max_conns":      s.MaxConns(),
	}
}
