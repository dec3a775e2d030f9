package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/auth"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/infrastructure/storage/postgres"
	"clinicstock/internal/infrastructure/storage/postgres/auth_repo"
	"clinicstock/internal/infrastructure/storage/postgres/inventory_repo"
)

type centerSeed struct {
	ID   id.ID  `db:"id"`
	Name string `db:"name"`
	Code string `db:"code"`
}

type categorySeed struct {
	ID          id.ID  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

// demoCatalog is the reference data of a fresh install.
func demoCatalog() ([]categorySeed, []inventory.DrugForm) {
	methadone := categorySeed{ID: id.New(), Name: "Methadone", Description: "Oral methadone maintenance"}
	buprenorphine := categorySeed{ID: id.New(), Name: "Buprenorphine", Description: "Sublingual buprenorphine"}
	opium := categorySeed{ID: id.New(), Name: "Opium tincture", Description: "Opium tincture (OT)"}

	form := func(c categorySeed, name, strength, unit, dosageUnit string) inventory.DrugForm {
		return inventory.DrugForm{
			ID: id.New(), CategoryID: c.ID, Name: name,
			Strength: strength, Unit: unit, DosageUnit: dosageUnit, IsActive: true,
		}
	}

	return []categorySeed{methadone, buprenorphine, opium}, []inventory.DrugForm{
		form(methadone, "Methadone syrup", "5 mg/ml", "bottle", "ml"),
		form(methadone, "Methadone tablet", "20 mg", "tablet", "mg"),
		form(methadone, "Methadone tablet", "40 mg", "tablet", "mg"),
		form(buprenorphine, "Buprenorphine tablet", "2 mg", "tablet", "mg"),
		form(buprenorphine, "Buprenorphine tablet", "8 mg", "tablet", "mg"),
		form(opium, "Opium tincture", "10 mg/ml", "bottle", "ml"),
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo center, drug catalog, staff accounts and opening balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			adminPassword, _ := cmd.Flags().GetString("admin-password")
			managerPassword, _ := cmd.Flags().GetString("manager-password")
			openingStock, _ := cmd.Flags().GetInt64("opening-stock")
			patientCount, _ := cmd.Flags().GetInt("patients")

			ctx, e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var existing int
			if err := e.pool.QueryRow(ctx, `SELECT COUNT(*) FROM drug_forms`).Scan(&existing); err != nil {
				return fmt.Errorf("check catalog: %w", err)
			}
			if existing > 0 {
				e.log.Infow("catalog already seeded, nothing to do", "drug_forms", existing)
				return nil
			}

			center := centerSeed{ID: id.New(), Name: "Demo Treatment Center", Code: "CTR-001"}
			categories, forms := demoCatalog()

			batch := postgres.NewBatchInserter(e.txManager)
			err = e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
				if _, err := postgres.CopyStructs(ctx, batch, "centers", []centerSeed{center}); err != nil {
					return err
				}
				if _, err := postgres.CopyStructs(ctx, batch, "drug_categories", categories); err != nil {
					return err
				}
				if _, err := postgres.CopyStructs(ctx, batch, "drug_forms", forms, "category_name"); err != nil {
					return err
				}
				_, err := postgres.CopyStructs(ctx, batch, "patients", demoPatients(center.ID, patientCount),
					"last_delivery_date", "deleted_at")
				return err
			})
			if err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			e.log.Infow("catalog seeded",
				"center_id", center.ID,
				"categories", len(categories),
				"drug_forms", len(forms),
				"patients", patientCount,
			)

			users := auth_repo.NewUserRepo(e.txManager)
			if err := seedUser(ctx, users, "admin", "System Admin", appctx.RoleAdmin, nil, adminPassword); err != nil {
				return err
			}
			if err := seedUser(ctx, users, "manager", "Center Manager", appctx.RoleManager, &center.ID, managerPassword); err != nil {
				return err
			}

			if openingStock <= 0 {
				return nil
			}
			loc, _ := e.cfg.Location()
			cal := calendar.NewJalali(loc)
			stock := inventory.NewStockService(inventory_repo.NewStore(e.txManager), cal, e.txManager)
			period := cal.PeriodOf(time.Now())
			for _, f := range forms {
				_, err := stock.RecordInitialStock(ctx, inventory.InitialStockRequest{
					CenterID:   center.ID,
					DrugFormID: f.ID,
					Period:     period,
					Quantity:   openingStock,
					Notes:      "seed",
				})
				if err != nil {
					return fmt.Errorf("opening balance for %s %s: %w", f.Name, f.Strength, err)
				}
			}
			e.log.Infow("opening balances recorded", "period", period.String(), "quantity", openingStock)
			return nil
		},
	}
	cmd.Flags().String("admin-password", "Admin123!", "Password of the admin account")
	cmd.Flags().String("manager-password", "Manager123!", "Password of the manager account")
	cmd.Flags().Int64("opening-stock", 1000, "Opening balance per drug form for the current period (0 skips)")
	cmd.Flags().Int("patients", 20, "Number of demo patients")

	return cmd
}

func demoPatients(centerID id.ID, n int) []patients.Patient {
	now := time.Now().UTC()
	out := make([]patients.Patient, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, patients.Patient{
			ID:        id.New(),
			CenterID:  centerID,
			FirstName: "Patient",
			LastName:  fmt.Sprintf("%03d", i),
			Status:    patients.StatusActive,
			CreatedAt: now,
		})
	}
	return out
}

func seedUser(ctx context.Context, repo *auth_repo.UserRepo, username, name, role string, centerID *id.ID, password string) error {
	if _, err := repo.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !apperror.IsNotFound(err) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &auth.User{
		ID:           id.New(),
		Username:     username,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		CenterID:     centerID,
		IsActive:     true,
	}
	if err := repo.Create(ctx, user); err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	return nil
}
