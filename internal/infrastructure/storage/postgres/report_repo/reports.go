// Package report_repo provides the read-only PostgreSQL queries behind
// inventory and patient reports.
package report_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/domain/reports"
	"clinicstock/internal/infrastructure/storage/postgres"
)

// ReportRepo implements reports.Repository.
type ReportRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ reports.Repository = (*ReportRepo)(nil)

// NewReportRepo creates a new report repository.
func NewReportRepo(txm *postgres.TxManager) *ReportRepo {
	return &ReportRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// latestStockSQL joins every drug form with its own latest period record.
// Drugs without records read as zero with a NULL period.
const latestStockSQL = `
	SELECT df.id AS drug_form_id, df.name AS drug_name, df.strength, df.unit, df.dosage_unit,
	       dc.name AS category_name,
	       mi.period_year, mi.period_month,
	       COALESCE(mi.initial_stock, 0)   AS initial_stock,
	       COALESCE(mi.purchased_stock, 0) AS purchased_stock,
	       COALESCE(mi.delivered_stock, 0) AS delivered_stock,
	       COALESCE(mi.current_stock, 0)   AS current_stock
	FROM drug_forms df
	JOIN drug_categories dc ON dc.id = df.category_id
	LEFT JOIN LATERAL (
		SELECT m.period_year, m.period_month, m.initial_stock, m.purchased_stock,
		       m.delivered_stock, m.current_stock
		FROM monthly_inventory m
		WHERE m.center_id = $1 AND m.drug_form_id = df.id
		ORDER BY m.period_year DESC, m.period_month DESC
		LIMIT 1
	) mi ON TRUE`

// DrugStock returns every active drug form with its latest stock.
func (r *ReportRepo) DrugStock(ctx context.Context, centerID id.ID) ([]reports.StockRow, error) {
	var rows []reports.StockRow
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows,
		latestStockSQL+` WHERE df.is_active ORDER BY dc.name, df.name`, centerID)
	if err != nil {
		return nil, fmt.Errorf("query drug stock: %w", err)
	}
	return rows, nil
}

// DrugStockByID returns the latest stock of one drug form.
func (r *ReportRepo) DrugStockByID(ctx context.Context, centerID, drugID id.ID) (*reports.StockRow, error) {
	var row reports.StockRow
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, latestStockSQL+` WHERE df.id = $2`, centerID, drugID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("drug_form", drugID.String())
		}
		return nil, fmt.Errorf("query drug stock: %w", err)
	}
	return &row, nil
}

// PeriodStock returns the records of one period with drug names.
func (r *ReportRepo) PeriodStock(ctx context.Context, centerID id.ID, period calendar.Period) ([]reports.StockRow, error) {
	var rows []reports.StockRow
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, `
		SELECT df.id AS drug_form_id, df.name AS drug_name, df.strength, df.unit, df.dosage_unit,
		       dc.name AS category_name,
		       mi.period_year, mi.period_month,
		       mi.initial_stock, mi.purchased_stock, mi.delivered_stock, mi.current_stock
		FROM monthly_inventory mi
		JOIN drug_forms df ON df.id = mi.drug_form_id
		JOIN drug_categories dc ON dc.id = df.category_id
		WHERE mi.center_id = $1 AND mi.period_year = $2 AND mi.period_month = $3
		ORDER BY dc.name, df.name
	`, centerID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("query period stock: %w", err)
	}
	return rows, nil
}

// LatestPeriod returns the center's most recent period, or nil when the
// center has no records.
func (r *ReportRepo) LatestPeriod(ctx context.Context, centerID id.ID) (*calendar.Period, error) {
	var key *int
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT MAX(period_year * 100 + period_month) FROM monthly_inventory WHERE center_id = $1
	`, centerID).Scan(&key)
	if err != nil {
		return nil, fmt.Errorf("query latest period: %w", err)
	}
	if key == nil {
		return nil, nil
	}
	return &calendar.Period{Year: *key / 100, Month: *key % 100}, nil
}

func (r *ReportRepo) transactionHistoryQuery(centerID id.ID, f inventory.TransactionFilter) squirrel.SelectBuilder {
	q := r.builder.Select(
		"t.id", "t.center_id", "t.drug_form_id", "t.transaction_type", "t.quantity",
		"t.previous_quantity", "t.new_quantity", "t.reference_id", "t.reference_type",
		"t.period_year", "t.period_month", "t.transaction_date", "t.transaction_date_local",
		"t.description", "t.created_by", "t.created_at",
		"df.name AS drug_name", "df.strength", "df.unit",
		"u.name AS created_by_name",
		"p.first_name AS patient_first_name", "p.last_name AS patient_last_name",
	).
		From("inventory_transactions t").
		Join("drug_forms df ON df.id = t.drug_form_id").
		LeftJoin("users u ON u.id = t.created_by").
		LeftJoin("drug_deliveries dd ON t.reference_type = 'delivery' AND dd.id = t.reference_id").
		LeftJoin("patients p ON p.id = dd.patient_id").
		Where(squirrel.Eq{"t.center_id": centerID})

	if f.DrugFormID != nil {
		q = q.Where(squirrel.Eq{"t.drug_form_id": *f.DrugFormID})
	}
	if f.Type != nil {
		q = q.Where(squirrel.Eq{"t.transaction_type": *f.Type})
	}
	if f.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"t.transaction_date": *f.FromDate})
	}
	if f.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"t.transaction_date": *f.ToDate})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.OrderBy("t.transaction_date DESC", "t.created_at DESC")
}

// TransactionHistory returns log entries with display names, newest first.
func (r *ReportRepo) TransactionHistory(ctx context.Context, centerID id.ID, filter inventory.TransactionFilter) ([]reports.TransactionView, error) {
	sql, args, err := r.transactionHistoryQuery(centerID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []reports.TransactionView
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("query transaction history: %w", err)
	}
	return items, nil
}

// TopDrugs ranks drugs by quantity delivered since the given day.
func (r *ReportRepo) TopDrugs(ctx context.Context, centerID id.ID, since time.Time, limit int) ([]reports.TopDrug, error) {
	var items []reports.TopDrug
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, `
		SELECT df.id AS drug_form_id, df.name AS drug_name, dc.name AS category_name,
		       SUM(dd.quantity) AS total_delivered, COUNT(*) AS delivery_count
		FROM drug_deliveries dd
		JOIN drug_forms df ON df.id = dd.drug_form_id
		JOIN drug_categories dc ON dc.id = df.category_id
		WHERE dd.center_id = $1 AND dd.delivery_date >= $2
		GROUP BY df.id, df.name, dc.name
		ORDER BY total_delivered DESC, df.name
		LIMIT $3
	`, centerID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query top drugs: %w", err)
	}
	return items, nil
}

// PatientStatistics counts the center's patients registered by asOf.
func (r *ReportRepo) PatientStatistics(ctx context.Context, centerID id.ID, asOf time.Time) (reports.PatientStatistics, error) {
	var stats reports.PatientStatistics
	err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &stats, `
		SELECT COUNT(*) AS total_patients,
		       COUNT(*) FILTER (WHERE status = 'active')    AS active_patients,
		       COUNT(*) FILTER (WHERE status = 'absent')    AS absent_patients,
		       COUNT(*) FILTER (WHERE status = 'completed') AS completed_patients
		FROM patients
		WHERE center_id = $1 AND deleted_at IS NULL AND created_at < $2::date + 1
	`, centerID, asOf)
	if err != nil {
		return reports.PatientStatistics{}, fmt.Errorf("query patient statistics: %w", err)
	}
	return stats, nil
}

// CountDeliveries counts deliveries dated within [from, to].
func (r *ReportRepo) CountDeliveries(ctx context.Context, centerID id.ID, from, to time.Time) (int64, error) {
	var n int64
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM drug_deliveries
		WHERE center_id = $1 AND delivery_date BETWEEN $2::date AND $3::date
	`, centerID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// SaveCenterMonthlyReport upserts the period's statistics.
func (r *ReportRepo) SaveCenterMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period, stats reports.CenterStatistics) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO monthly_reports (
			center_id, period_year, period_month,
			total_patients, active_patients, absent_patients, completed_patients, total_deliveries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (center_id, period_year, period_month) DO UPDATE SET
			total_patients     = EXCLUDED.total_patients,
			active_patients    = EXCLUDED.active_patients,
			absent_patients    = EXCLUDED.absent_patients,
			completed_patients = EXCLUDED.completed_patients,
			total_deliveries   = EXCLUDED.total_deliveries,
			updated_at         = NOW()
	`, centerID, period.Year, period.Month,
		stats.TotalPatients, stats.ActivePatients, stats.AbsentPatients, stats.CompletedPatients,
		stats.TotalDeliveries)
	if err != nil {
		return fmt.Errorf("upsert monthly report: %w", err)
	}
	return nil
}

// ActivePatientsLastDelivery returns the center's active patients registered
// by asOf, with last_delivery_date recomputed from deliveries up to asOf.
func (r *ReportRepo) ActivePatientsLastDelivery(ctx context.Context, centerID id.ID, asOf time.Time) ([]patients.Patient, error) {
	var items []patients.Patient
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, `
		SELECT p.id, p.center_id, p.first_name, p.last_name, p.status,
		       ld.last_delivery AS last_delivery_date, p.created_at, p.deleted_at
		FROM patients p
		LEFT JOIN LATERAL (
			SELECT MAX(dd.delivery_date) AS last_delivery
			FROM drug_deliveries dd
			WHERE dd.patient_id = p.id AND dd.delivery_date <= $2::date
		) ld ON TRUE
		WHERE p.center_id = $1
		  AND p.status = 'active'
		  AND p.deleted_at IS NULL
		  AND p.created_at < $2::date + 1
		ORDER BY p.last_name, p.first_name
	`, centerID, asOf)
	if err != nil {
		return nil, fmt.Errorf("query active patients: %w", err)
	}
	return items, nil
}
