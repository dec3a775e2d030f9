// Package main is the entry point for the clinicstock background worker.
// It runs the patient status rollup, relays the outbox and expires
// idempotency keys and refresh tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"clinicstock/internal/config"
	"clinicstock/internal/domain/auth"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/infrastructure/broker"
	"clinicstock/internal/infrastructure/storage/postgres"
	"clinicstock/internal/infrastructure/storage/postgres/auth_repo"
	"clinicstock/internal/infrastructure/storage/postgres/patient_repo"
	"clinicstock/pkg/logger"
)

// outboxRetention is how long published outbox rows are kept.
const outboxRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting clinicstock worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.ApplicationName = "clinicstock-worker"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool, postgres.WithDefaultTimeouts(cfg.StatementTimeout, cfg.LockTimeout))

	worker := &Worker{
		cfg:         cfg,
		log:         log.WithComponent("worker"),
		idempotency: postgres.NewIdempotencyStore(txManager, 0),
		tokens:      auth_repo.NewTokenRepo(txManager),
	}

	rollupOpts := []patients.RollupOption{patients.WithAbsenceDays(cfg.AbsenceDays)}
	var handler postgres.OutboxHandler = postgres.OutboxHandlerFunc(logOutboxMessage)

	if cfg.RedisURL != "" {
		rdb, err := broker.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()

		rollupOpts = append(rollupOpts, patients.WithLocker(broker.NewLocker(rdb), cfg.RollupInterval/2))
		handler = broker.NewPublisher(rdb)
	} else {
		log.Warn("REDIS_URL not set, outbox messages are logged instead of published")
	}

	worker.rollup = patients.NewRollupService(patient_repo.NewPatientRepo(txManager), rollupOpts...)
	worker.outbox = postgres.NewOutboxRelay(txManager, cfg.OutboxBatchSize, handler)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic background jobs.
type Worker struct {
	cfg         *config.Config
	log         *logger.Logger
	rollup      *patients.RollupService
	outbox      *postgres.OutboxRelay
	idempotency *postgres.IdempotencyStore
	tokens      auth.TokenRepository
}

// Run blocks until ctx is cancelled. Every job runs in its own goroutine so a
// slow rollup never delays outbox delivery.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"patient_status_rollup", w.cfg.RollupInterval, w.runRollup},
		{"outbox_relay", w.cfg.OutboxInterval, w.processOutbox},
		{"cleanup", w.cfg.IdempotencyInterval, w.cleanup},
	}

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, job.name, job.interval, job.fn)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		w.log.Warnw("job disabled", "job", name)
		return
	}
	w.log.Infow("job scheduled", "job", name, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runRollup failures are logged and retried on the next tick only.
func (w *Worker) runRollup(ctx context.Context) {
	start := time.Now()
	result, skipped, err := w.rollup.Run(ctx)
	if err != nil {
		w.log.Errorw("patient status rollup failed", "error", err)
		return
	}
	if skipped {
		return
	}
	w.log.Infow("patient status rollup finished",
		"marked_absent", result.MarkedAbsent,
		"marked_active", result.MarkedActive,
		"duration", time.Since(start),
	)
}

func (w *Worker) processOutbox(ctx context.Context) {
	n, err := w.outbox.ProcessBatch(ctx)
	if err != nil {
		w.log.Errorw("outbox batch failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debugw("processed outbox batch", "count", n)
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	if n, err := w.idempotency.CleanupExpired(ctx); err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
	} else if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}

	if n, err := w.tokens.CleanupExpiredTokens(ctx); err != nil {
		w.log.Errorw("token cleanup failed", "error", err)
	} else if n > 0 {
		w.log.Infow("cleaned up expired sessions", "count", n)
	}

	if n, err := w.outbox.PurgePublished(ctx, time.Now().Add(-outboxRetention)); err != nil {
		w.log.Errorw("outbox purge failed", "error", err)
	} else if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}

func logOutboxMessage(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Info(ctx, "outbox event",
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
	)
	return nil
}
