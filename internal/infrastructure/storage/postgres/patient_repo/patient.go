// Package patient_repo provides the PostgreSQL patient directory.
package patient_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/infrastructure/storage/postgres"
)

const patientsTable = "patients"

var patientColumns = postgres.ExtractDBColumns[patients.Patient]()

// PatientRepo implements patients.Repository.
type PatientRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ patients.Repository = (*PatientRepo)(nil)

// NewPatientRepo creates a new patient repository.
func NewPatientRepo(txm *postgres.TxManager) *PatientRepo {
	return &PatientRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *PatientRepo) getQuery(centerID, patientID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(patientColumns...).
		From(patientsTable).
		Where(squirrel.Eq{"id": patientID, "center_id": centerID, "deleted_at": nil})
}

// GetByID returns a non-deleted patient of the center.
func (r *PatientRepo) GetByID(ctx context.Context, centerID, patientID id.ID) (*patients.Patient, error) {
	sql, args, err := r.getQuery(centerID, patientID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p patients.Patient
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("patient", patientID.String())
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

// AdvanceLastDelivery moves last_delivery_date forward only.
// GREATEST ignores NULL, so the first delivery simply sets the marker.
func (r *PatientRepo) AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE patients
		SET last_delivery_date = GREATEST(last_delivery_date, $2::date),
		    updated_at = NOW()
		WHERE id = $1
	`, patientID, at)
	if err != nil {
		return postgres.MapError(fmt.Errorf("advance last delivery: %w", err), patientsTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("patient", patientID.String())
	}
	return nil
}

// refreshStatusesSQL writes only rows whose status changes, so a repeated
// run without new deliveries updates nothing.
const refreshStatusesSQL = `
	WITH computed AS (
		SELECT id,
		       CASE WHEN $1::date - GREATEST(last_delivery_date, created_at::date) > $2
		            THEN 'absent' ELSE 'active' END AS new_status
		FROM patients
		WHERE deleted_at IS NULL AND status <> 'completed'
	), changed AS (
		UPDATE patients p
		SET status = c.new_status, updated_at = NOW()
		FROM computed c
		WHERE p.id = c.id AND p.status <> c.new_status
		RETURNING p.status
	)
	SELECT COUNT(*) FILTER (WHERE status = 'absent') AS marked_absent,
	       COUNT(*) FILTER (WHERE status = 'active') AS marked_active
	FROM changed`

// RefreshStatuses recomputes active/absent for every open patient.
func (r *PatientRepo) RefreshStatuses(ctx context.Context, params patients.RollupParams) (patients.RollupResult, error) {
	var res patients.RollupResult
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return r.txm.GetQuerier(ctx).
			QueryRow(ctx, refreshStatusesSQL, params.Now.UTC(), params.AbsenceDays).
			Scan(&res.MarkedAbsent, &res.MarkedActive)
	})
	if err != nil {
		return patients.RollupResult{}, fmt.Errorf("refresh patient statuses: %w", err)
	}
	return res, nil
}
