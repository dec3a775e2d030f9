package patients

import (
	"context"
	"time"

	"clinicstock/internal/core/id"
)

// Repository is the persistence contract for the patient directory.
type Repository interface {
	// GetByID returns a non-deleted patient of the center.
	// Returns apperror NotFound when the patient is missing, deleted or
	// belongs to another center.
	GetByID(ctx context.Context, centerID, patientID id.ID) (*Patient, error)

	// AdvanceLastDelivery moves the last-delivery marker to at, but never backward.
	AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error

	// RefreshStatuses recomputes active/absent for every non-deleted,
	// non-completed patient and writes only rows whose status changes.
	RefreshStatuses(ctx context.Context, params RollupParams) (RollupResult, error)
}

// RollupParams drives one status recomputation.
type RollupParams struct {
	Now         time.Time
	AbsenceDays int
}

// RollupResult counts the rows changed by a rollup run.
type RollupResult struct {
	MarkedAbsent int64 `json:"markedAbsent"`
	MarkedActive int64 `json:"markedActive"`
}

// Changed is the total number of updated patients.
func (r RollupResult) Changed() int64 {
	return r.MarkedAbsent + r.MarkedActive
}
