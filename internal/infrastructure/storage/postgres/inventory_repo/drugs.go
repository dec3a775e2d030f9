package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/infrastructure/storage/postgres"
)

// DrugRepo implements inventory.DrugCatalog.
type DrugRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ inventory.DrugCatalog = (*DrugRepo)(nil)

// NewDrugRepo creates a new drug catalog repository.
func NewDrugRepo(txm *postgres.TxManager) *DrugRepo {
	return &DrugRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *DrugRepo) baseQuery() squirrel.SelectBuilder {
	return r.builder.Select(
		"df.id", "df.category_id", "dc.name AS category_name", "df.name",
		"df.strength", "df.unit", "df.dosage_unit", "df.is_active",
	).
		From("drug_forms df").
		Join("drug_categories dc ON dc.id = df.category_id")
}

// GetDrugForm returns a drug form, active or not.
func (r *DrugRepo) GetDrugForm(ctx context.Context, drugID id.ID) (*inventory.DrugForm, error) {
	sql, args, err := r.baseQuery().Where(squirrel.Eq{"df.id": drugID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var d inventory.DrugForm
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &d, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("drug_form", drugID.String())
		}
		return nil, fmt.Errorf("get drug form: %w", err)
	}
	return &d, nil
}

// ListActive returns active drug forms ordered by category and name.
func (r *DrugRepo) ListActive(ctx context.Context) ([]inventory.DrugForm, error) {
	sql, args, err := r.baseQuery().
		Where(squirrel.Eq{"df.is_active": true}).
		OrderBy("dc.name", "df.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var drugs []inventory.DrugForm
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &drugs, sql, args...); err != nil {
		return nil, fmt.Errorf("list drug forms: %w", err)
	}
	return drugs, nil
}

// NewStore wires all ledger repositories on one transaction manager.
func NewStore(txm *postgres.TxManager) inventory.Store {
	return inventory.Store{
		Ledger:     NewLedgerRepo(txm),
		Log:        NewTransactionLogRepo(txm),
		Lots:       NewLotRepo(txm),
		Deliveries: NewDeliveryRepo(txm),
		Drugs:      NewDrugRepo(txm),
	}
}
