package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/storage/postgres"
)

const lotsTable = "drug_lots"

var lotColumns = postgres.ExtractDBColumns[inventory.Lot]()

// LotRepo implements inventory.LotRepository.
type LotRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ inventory.LotRepository = (*LotRepo)(nil)

// NewLotRepo creates a new lot registry repository.
func NewLotRepo(txm *postgres.TxManager) *LotRepo {
	return &LotRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a lot. A batch number already used in the center maps to
// DUPLICATE_ENTRY.
func (r *LotRepo) Create(ctx context.Context, lot *inventory.Lot) error {
	sql, args, err := r.builder.Insert(lotsTable).SetMap(postgres.StructToMap(lot)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return postgres.MapError(err, lotsTable)
		}
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (r *LotRepo) listQuery(centerID id.ID, f inventory.LotFilter) squirrel.SelectBuilder {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"center_id": centerID})

	if f.DrugFormID != nil {
		q = q.Where(squirrel.Eq{"drug_form_id": *f.DrugFormID})
	}
	if f.Status != nil {
		q = q.Where(squirrel.Eq{"status": *f.Status})
	}
	if f.ExpiringBefore != nil {
		q = q.Where(squirrel.And{
			squirrel.NotEq{"expiry_date": nil},
			squirrel.Lt{"expiry_date": *f.ExpiringBefore},
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.OrderBy("purchase_date DESC", "created_at DESC")
}

// List returns lots, most recent purchase first.
func (r *LotRepo) List(ctx context.Context, centerID id.ID, filter inventory.LotFilter) ([]inventory.Lot, error) {
	sql, args, err := r.listQuery(centerID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []inventory.Lot
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return lots, nil
}
