package report_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
)

func TestTransactionHistoryQuery(t *testing.T) {
	r := NewReportRepo(nil)
	centerID, drugID := id.New(), id.New()
	purchase := inventory.TransactionPurchase
	from := time.Date(2023, 3, 21, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   inventory.TransactionFilter
		contains []string
		args     []any
	}{
		{
			name:   "defaults",
			filter: inventory.TransactionFilter{Limit: 100},
			contains: []string{
				"FROM inventory_transactions t JOIN drug_forms df ON df.id = t.drug_form_id",
				"LEFT JOIN drug_deliveries dd ON t.reference_type = 'delivery' AND dd.id = t.reference_id",
				"WHERE t.center_id = $1",
				"ORDER BY t.transaction_date DESC, t.created_at DESC LIMIT 100",
			},
			args: []any{centerID.String()},
		},
		{
			name:   "drug type and start date",
			filter: inventory.TransactionFilter{DrugFormID: &drugID, Type: &purchase, FromDate: &from, Offset: 20},
			contains: []string{
				"t.drug_form_id = $2",
				"t.transaction_type = $3",
				"t.transaction_date >= $4",
				"OFFSET 20",
			},
			args: []any{centerID.String(), drugID.String(), purchase, from},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := r.transactionHistoryQuery(centerID, tt.filter).ToSql()
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, sql, c)
			}
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestLatestStockSQL_PerDrugLatestPeriod(t *testing.T) {
	assert.Contains(t, latestStockSQL, "LEFT JOIN LATERAL")
	assert.Contains(t, latestStockSQL, "ORDER BY m.period_year DESC, m.period_month DESC")
	assert.Contains(t, latestStockSQL, "COALESCE(mi.current_stock, 0)")
}
