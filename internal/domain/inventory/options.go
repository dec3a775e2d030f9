package inventory

import (
	"context"
	"time"

	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/event"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/security"
)

// Option configures DeliveryService and StockService.
type Option func(*options)

type options struct {
	policy   security.PeriodPolicy
	events   event.Publisher
	auditor  CorrectionAuditor
	numberer BatchNumberer
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		policy: security.OpenPolicy{},
		events: event.Discard{},
		now:    time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPeriodPolicy rejects writes into closed periods.
func WithPeriodPolicy(p security.PeriodPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithEvents sets the outbox publisher.
func WithEvents(p event.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithAuditor records snapshots of initial-stock corrections.
func WithAuditor(a CorrectionAuditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithBatchNumberer generates batch numbers for lots purchased without one.
func WithBatchNumberer(n BatchNumberer) Option {
	return func(o *options) { o.numberer = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// actorID returns the authenticated user as the created_by value.
func actorID(ctx context.Context) *id.ID {
	uid := appctx.GetUserID(ctx)
	if uid == "" {
		return nil
	}
	v, err := id.Parse(uid)
	if err != nil {
		return nil
	}
	return &v
}
