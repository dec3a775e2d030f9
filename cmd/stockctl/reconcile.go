package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/storage/postgres/inventory_repo"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check the transaction log against the monthly records of one drug",
		RunE: func(cmd *cobra.Command, args []string) error {
			centerFlag, _ := cmd.Flags().GetString("center")
			drugFlag, _ := cmd.Flags().GetString("drug")
			asOfFlag, _ := cmd.Flags().GetString("as-of")

			centerID, err := id.Parse(centerFlag)
			if err != nil {
				return fmt.Errorf("invalid --center: %w", err)
			}
			drugID, err := id.Parse(drugFlag)
			if err != nil {
				return fmt.Errorf("invalid --drug: %w", err)
			}
			var through calendar.Period
			if asOfFlag != "" {
				if through, err = calendar.ParsePeriod(asOfFlag); err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
			}

			ctx, e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			loc, _ := e.cfg.Location()
			stock := inventory.NewStockService(inventory_repo.NewStore(e.txManager), calendar.NewJalali(loc), e.txManager)

			report, err := stock.Reconcile(ctx, centerID, drugID, through)
			if err != nil {
				return err
			}

			if !through.IsZero() {
				fmt.Printf("Through period:       %s\n", through)
			}
			fmt.Printf("Sum of logged deltas: %d\n", report.SumDeltas)
			fmt.Printf("Sum of current stock: %d\n", report.SumCurrent)
			fmt.Printf("Latest period stock:  %d\n", report.Latest)
			for _, p := range report.Unbalanced {
				fmt.Printf("Unbalanced period: %s\n", p)
			}
			if !report.Consistent() {
				return fmt.Errorf("ledger out of balance")
			}
			fmt.Println("Ledger is consistent.")
			return nil
		},
	}
	cmd.Flags().String("center", "", "Center id")
	cmd.Flags().String("drug", "", "Drug form id")
	cmd.Flags().String("as-of", "", "Reconcile periods up to and including this one (YYYY/MM)")
	_ = cmd.MarkFlagRequired("center")
	_ = cmd.MarkFlagRequired("drug")

	return cmd
}
