// Package event defines domain events written to the transactional outbox.
package event

import (
	"context"

	"clinicstock/internal/core/id"
)

// Event types emitted by the ledger.
const (
	TypeDeliveryRecorded   = "inventory.delivery_recorded"
	TypePurchaseRecorded   = "inventory.purchase_recorded"
	TypeInitialStockSet    = "inventory.initial_stock_set"
	TypeAdjustmentRecorded = "inventory.adjustment_recorded"
	TypeStockDepleted      = "inventory.stock_depleted"
)

// Event is a fact about a committed ledger change.
type Event struct {
	AggregateType string // "delivery", "lot", "monthly_inventory"
	AggregateID   id.ID
	CenterID      id.ID
	EventType     string
	Payload       any
}

// Publisher writes events inside the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
