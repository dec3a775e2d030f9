package reports

import (
	"context"
	"time"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
)

// Repository defines report data access.
type Repository interface {
	// Stock reports

	// DrugStock returns every active drug form with the record of its own
	// latest period (zero values when it has none).
	DrugStock(ctx context.Context, centerID id.ID) ([]StockRow, error)
	// DrugStockByID is DrugStock for one drug form, active or not.
	DrugStockByID(ctx context.Context, centerID, drugID id.ID) (*StockRow, error)
	// PeriodStock returns the records of one period joined with drug names.
	PeriodStock(ctx context.Context, centerID id.ID, period calendar.Period) ([]StockRow, error)
	// LatestPeriod is the center's most recent period with records, nil when none.
	LatestPeriod(ctx context.Context, centerID id.ID) (*calendar.Period, error)

	// Activity

	TransactionHistory(ctx context.Context, centerID id.ID, filter inventory.TransactionFilter) ([]TransactionView, error)
	TopDrugs(ctx context.Context, centerID id.ID, since time.Time, limit int) ([]TopDrug, error)

	// Patients

	PatientStatistics(ctx context.Context, centerID id.ID, asOf time.Time) (PatientStatistics, error)
	CountDeliveries(ctx context.Context, centerID id.ID, from, to time.Time) (int64, error)
	SaveCenterMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period, stats CenterStatistics) error
	// ActivePatientsLastDelivery returns active patients with their latest
	// delivery on or before asOf (nil when none).
	ActivePatientsLastDelivery(ctx context.Context, centerID id.ID, asOf time.Time) ([]patients.Patient, error)
}
