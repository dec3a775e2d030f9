// Package inventory_repo provides PostgreSQL implementations of the ledger
// repositories: monthly records, the transaction log, lots, deliveries and
// the drug catalog.
package inventory_repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/storage/postgres"
)

const monthlyInventoryTable = "monthly_inventory"

var recordColumns = postgres.ExtractDBColumns[inventory.MonthlyRecord]()

// LedgerRepo implements inventory.LedgerRepository.
type LedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ inventory.LedgerRepository = (*LedgerRepo)(nil)

// NewLedgerRepo creates a new monthly stock ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// latestStockQuery selects current_stock of the most recent period of a pair.
func (r *LedgerRepo) latestStockQuery(centerID, drugID id.ID) squirrel.SelectBuilder {
	return r.builder.Select("current_stock").
		From(monthlyInventoryTable).
		Where(squirrel.Eq{"center_id": centerID, "drug_form_id": drugID}).
		OrderBy("period_year DESC", "period_month DESC").
		Limit(1)
}

// GetCurrentStock returns current_stock of the most recent period.
func (r *LedgerRepo) GetCurrentStock(ctx context.Context, centerID, drugID id.ID) (int64, error) {
	sql, args, err := r.latestStockQuery(centerID, drugID).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	return r.scanStock(ctx, sql, args)
}

// LockStock takes a transaction-scoped advisory lock on the (center, drug)
// pair, then row-locks the latest record and returns its stock.
// The advisory lock also covers pairs that have no record yet, which
// FOR UPDATE alone cannot.
func (r *LedgerRepo) LockStock(ctx context.Context, centerID, drugID id.ID) (int64, error) {
	if r.txm.GetTx(ctx) == nil {
		return 0, fmt.Errorf("LockStock requires transaction context")
	}

	resource := "stock " + lockKey(centerID, drugID)
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", lockKey(centerID, drugID)); err != nil {
		return 0, postgres.MapError(fmt.Errorf("acquire stock lock: %w", err), resource)
	}

	sql, args, err := r.latestStockQuery(centerID, drugID).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	stock, err := r.scanStock(ctx, sql, args)
	if err != nil {
		return 0, postgres.MapError(err, resource)
	}
	return stock, nil
}

func lockKey(centerID, drugID id.ID) string {
	return centerID.String() + ":" + drugID.String()
}

func (r *LedgerRepo) scanStock(ctx context.Context, sql string, args []any) (int64, error) {
	var stock int64
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&stock)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query current stock: %w", err)
	}
	return stock, nil
}

// GetRecord returns the record of one period, or nil when none exists.
func (r *LedgerRepo) GetRecord(ctx context.Context, centerID, drugID id.ID, period calendar.Period) (*inventory.MonthlyRecord, error) {
	q := r.builder.Select(recordColumns...).
		From(monthlyInventoryTable).
		Where(squirrel.Eq{
			"center_id":    centerID,
			"drug_form_id": drugID,
			"period_year":  period.Year,
			"period_month": period.Month,
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec inventory.MonthlyRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get monthly record: %w", err)
	}
	return &rec, nil
}

// applyDeltaQuery builds the additive upsert. A new row takes the deltas as
// absolute values.
func (r *LedgerRepo) applyDeltaQuery(centerID, drugID id.ID, period calendar.Period, delta inventory.Delta, now time.Time) squirrel.InsertBuilder {
	return r.builder.Insert(monthlyInventoryTable).
		Columns(
			"center_id", "drug_form_id", "period_year", "period_month",
			"initial_stock", "purchased_stock", "delivered_stock", "current_stock",
			"created_at", "updated_at",
		).
		Values(
			centerID, drugID, period.Year, period.Month,
			delta.Initial, delta.Purchased, delta.Delivered, delta.Current(),
			now, now,
		).
		Suffix(`ON CONFLICT (center_id, drug_form_id, period_year, period_month) DO UPDATE SET
			initial_stock   = monthly_inventory.initial_stock + EXCLUDED.initial_stock,
			purchased_stock = monthly_inventory.purchased_stock + EXCLUDED.purchased_stock,
			delivered_stock = monthly_inventory.delivered_stock + EXCLUDED.delivered_stock,
			current_stock   = monthly_inventory.current_stock + EXCLUDED.current_stock,
			updated_at      = EXCLUDED.updated_at`).
		Suffix("RETURNING " + strings.Join(recordColumns, ", "))
}

// ApplyDelta upserts the period record inside the caller's transaction.
func (r *LedgerRepo) ApplyDelta(ctx context.Context, centerID, drugID id.ID, period calendar.Period, delta inventory.Delta) (inventory.MonthlyRecord, error) {
	sql, args, err := r.applyDeltaQuery(centerID, drugID, period, delta, time.Now().UTC()).ToSql()
	if err != nil {
		return inventory.MonthlyRecord{}, fmt.Errorf("build upsert: %w", err)
	}

	var rec inventory.MonthlyRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		return inventory.MonthlyRecord{}, postgres.MapError(fmt.Errorf("apply stock delta: %w", err), monthlyInventoryTable)
	}
	return rec, nil
}

// ListRecords returns every period record of (center, drug), oldest first.
func (r *LedgerRepo) ListRecords(ctx context.Context, centerID, drugID id.ID) ([]inventory.MonthlyRecord, error) {
	q := r.builder.Select(recordColumns...).
		From(monthlyInventoryTable).
		Where(squirrel.Eq{"center_id": centerID, "drug_form_id": drugID}).
		OrderBy("period_year", "period_month")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []inventory.MonthlyRecord
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("list monthly records: %w", err)
	}
	return records, nil
}
