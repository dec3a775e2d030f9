package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clinicstock/internal/domain/patients"
	"clinicstock/internal/infrastructure/broker"
	"clinicstock/internal/infrastructure/storage/postgres/patient_repo"
)

func rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Patient status rollup",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Recompute active/absent patient statuses once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			opts := []patients.RollupOption{patients.WithAbsenceDays(e.cfg.AbsenceDays)}
			if e.cfg.RedisURL != "" {
				rdb, err := broker.NewClient(ctx, e.cfg.RedisURL)
				if err != nil {
					return err
				}
				defer rdb.Close()
				opts = append(opts, patients.WithLocker(broker.NewLocker(rdb), 10*time.Minute))
			}

			svc := patients.NewRollupService(patient_repo.NewPatientRepo(e.txManager), opts...)
			result, skipped, err := svc.Run(ctx)
			if err != nil {
				return err
			}
			if skipped {
				fmt.Println("Skipped: another worker holds the rollup lock.")
				return nil
			}
			fmt.Printf("Marked absent: %d, marked active: %d\n", result.MarkedAbsent, result.MarkedActive)
			return nil
		},
	}
	cmd.AddCommand(runCmd)

	return cmd
}
