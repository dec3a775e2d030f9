package patient_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/id"
)

func TestPatientColumns(t *testing.T) {
	assert.Equal(t, []string{
		"id", "center_id", "first_name", "last_name", "status",
		"last_delivery_date", "created_at", "deleted_at",
	}, patientColumns)
}

func TestGetByIDQuery(t *testing.T) {
	r := NewPatientRepo(nil)
	centerID, patientID := id.New(), id.New()

	sql, args, err := r.getQuery(centerID, patientID).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, center_id, first_name, last_name, status, last_delivery_date, created_at, deleted_at "+
			"FROM patients WHERE center_id = $1 AND deleted_at IS NULL AND id = $2", sql)
	assert.Equal(t, []any{centerID.String(), patientID.String()}, args)
}

func TestRefreshStatusesSQL(t *testing.T) {
	assert.Contains(t, refreshStatusesSQL, "status <> 'completed'")
	assert.Contains(t, refreshStatusesSQL, "deleted_at IS NULL")
	assert.Contains(t, refreshStatusesSQL, "p.status <> c.new_status")
}
