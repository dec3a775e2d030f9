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

const deliveriesTable = "drug_deliveries"

// DeliveryRepo implements inventory.DeliveryRepository.
type DeliveryRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ inventory.DeliveryRepository = (*DeliveryRepo)(nil)

// NewDeliveryRepo creates a new delivery repository.
func NewDeliveryRepo(txm *postgres.TxManager) *DeliveryRepo {
	return &DeliveryRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a delivery row.
func (r *DeliveryRepo) Create(ctx context.Context, d *inventory.Delivery) error {
	sql, args, err := r.builder.Insert(deliveriesTable).SetMap(postgres.StructToMap(d)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert delivery: %w", err), deliveriesTable)
	}
	return nil
}

func (r *DeliveryRepo) listQuery(centerID id.ID, f inventory.DeliveryFilter) squirrel.SelectBuilder {
	q := r.builder.Select(
		"dd.id", "dd.center_id", "dd.patient_id", "dd.drug_form_id", "dd.quantity",
		"dd.actual_dosage", "dd.delivery_date_local", "dd.delivery_date", "dd.notes",
		"dd.created_by", "dd.created_at",
		"p.first_name", "p.last_name",
		"df.name AS drug_name", "df.strength", "df.unit",
		"dc.name AS category_name",
	).
		From(deliveriesTable + " dd").
		Join("patients p ON p.id = dd.patient_id").
		Join("drug_forms df ON df.id = dd.drug_form_id").
		Join("drug_categories dc ON dc.id = df.category_id").
		Where(squirrel.Eq{"dd.center_id": centerID})

	if f.PatientID != nil {
		q = q.Where(squirrel.Eq{"dd.patient_id": *f.PatientID})
	}
	if f.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"dd.delivery_date": *f.FromDate})
	}
	if f.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"dd.delivery_date": *f.ToDate})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.OrderBy("dd.delivery_date DESC", "dd.created_at DESC")
}

// List returns deliveries joined with patient and drug names, newest first.
func (r *DeliveryRepo) List(ctx context.Context, centerID id.ID, filter inventory.DeliveryFilter) ([]inventory.DeliveryView, error) {
	sql, args, err := r.listQuery(centerID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []inventory.DeliveryView
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return items, nil
}
