package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/storage/postgres"
)

const transactionsTable = "inventory_transactions"

var transactionColumns = postgres.ExtractDBColumns[inventory.Transaction]()

// TransactionLogRepo implements inventory.TransactionLog.
// Rows are only ever inserted; a trigger rejects UPDATE and DELETE.
type TransactionLogRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ inventory.TransactionLog = (*TransactionLogRepo)(nil)

// NewTransactionLogRepo creates a new transaction log repository.
func NewTransactionLogRepo(txm *postgres.TxManager) *TransactionLogRepo {
	return &TransactionLogRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append writes a new entry.
func (r *TransactionLogRepo) Append(ctx context.Context, t *inventory.Transaction) error {
	sql, args, err := r.builder.Insert(transactionsTable).SetMap(postgres.StructToMap(t)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("append inventory transaction: %w", err), transactionsTable)
	}
	return nil
}

// listQuery applies the filter. Dates compare against transaction_date.
func (r *TransactionLogRepo) listQuery(centerID id.ID, f inventory.TransactionFilter) squirrel.SelectBuilder {
	q := r.builder.Select(transactionColumns...).
		From(transactionsTable).
		Where(squirrel.Eq{"center_id": centerID})

	if f.DrugFormID != nil {
		q = q.Where(squirrel.Eq{"drug_form_id": *f.DrugFormID})
	}
	if f.Type != nil {
		q = q.Where(squirrel.Eq{"transaction_type": *f.Type})
	}
	if f.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"transaction_date": *f.FromDate})
	}
	if f.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"transaction_date": *f.ToDate})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.OrderBy("transaction_date DESC", "created_at DESC")
}

// List returns entries newest first.
func (r *TransactionLogRepo) List(ctx context.Context, centerID id.ID, filter inventory.TransactionFilter) ([]inventory.Transaction, error) {
	sql, args, err := r.listQuery(centerID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []inventory.Transaction
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("list inventory transactions: %w", err)
	}
	return items, nil
}

func (r *TransactionLogRepo) sumQuery(centerID, drugID id.ID, through calendar.Period) squirrel.SelectBuilder {
	q := r.builder.Select("COALESCE(SUM(quantity), 0)").
		From(transactionsTable).
		Where(squirrel.Eq{"center_id": centerID, "drug_form_id": drugID})
	if !through.IsZero() {
		q = q.Where(squirrel.Expr("period_year * 100 + period_month <= ?", through.Key()))
	}
	return q
}

// SumDeltas adds up quantity deltas of (center, drug) booked into periods
// up to and including through.
func (r *TransactionLogRepo) SumDeltas(ctx context.Context, centerID, drugID id.ID, through calendar.Period) (int64, error) {
	sql, args, err := r.sumQuery(centerID, drugID, through).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var sum int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum transaction deltas: %w", err)
	}
	return sum, nil
}
