package security

import (
	"context"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
)

// PeriodPolicy decides whether ledger periods may still be mutated.
// Deliveries, purchases and corrections all check the period they write to.
type PeriodPolicy interface {
	// CanMutate checks if the period may receive new ledger entries.
	CanMutate(ctx context.Context, p calendar.Period) error

	// ClosedThrough returns the last closed period (zero when none).
	ClosedThrough(ctx context.Context) calendar.Period
}

// ClosedPeriodPolicy forbids any change to periods up to and including closedThrough.
// Used once a month has been reconciled and reported.
type ClosedPeriodPolicy struct {
	closedThrough calendar.Period
}

// NewClosedPeriodPolicy creates policy that forbids changes through closedThrough.
func NewClosedPeriodPolicy(closedThrough calendar.Period) *ClosedPeriodPolicy {
	return &ClosedPeriodPolicy{closedThrough: closedThrough}
}

func (p *ClosedPeriodPolicy) CanMutate(ctx context.Context, period calendar.Period) error {
	if p.closedThrough.IsZero() {
		return nil
	}
	if !p.closedThrough.Before(period) {
		return apperror.NewPeriodClosed(period.String()).
			WithDetail("closed_through", p.closedThrough.String())
	}
	return nil
}

func (p *ClosedPeriodPolicy) ClosedThrough(ctx context.Context) calendar.Period {
	return p.closedThrough
}

// OpenPolicy allows all periods (default, development and tests).
type OpenPolicy struct{}

func (OpenPolicy) CanMutate(ctx context.Context, p calendar.Period) error { return nil }
func (OpenPolicy) ClosedThrough(ctx context.Context) calendar.Period   { return calendar.Period{} }
