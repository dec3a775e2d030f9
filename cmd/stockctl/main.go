// Package main is stockctl, the operator CLI: schema migrations, one-off
// rollups, ledger reconciliation and demo data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clinicstock/internal/config"
	"clinicstock/internal/infrastructure/storage/postgres"
	"clinicstock/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "stockctl",
		Short:         "clinicstock operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rollupCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: config, a logger in ctx and the database.
type env struct {
	cfg       *config.Config
	log       *logger.Logger
	pool      *postgres.Pool
	txManager *postgres.TxManager
}

func (e *env) Close() {
	e.pool.Close()
	_ = e.log.Sync()
}

func open(ctx context.Context) (context.Context, *env, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return ctx, nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: true})
	if err != nil {
		return ctx, nil, fmt.Errorf("init logger: %w", err)
	}
	ctx = logger.WithLogger(ctx, log)

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.ApplicationName = "stockctl"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return ctx, nil, err
	}

	return ctx, &env{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		txManager: postgres.NewTxManager(pool, postgres.WithDefaultTimeouts(cfg.StatementTimeout, cfg.LockTimeout)),
	}, nil
}
