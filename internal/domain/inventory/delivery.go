package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/event"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/tx"
	"clinicstock/pkg/logger"
)

var tracer = otel.Tracer("clinicstock/inventory")

// DeliveryRequest asks the coordinator to dispense a drug to a patient.
type DeliveryRequest struct {
	CenterID     id.ID
	PatientID    id.ID
	DrugFormID   id.ID
	Quantity     int64
	ActualDosage string
	DeliveryDate string // local calendar, YYYY/MM/DD
	Notes        string
}

// Validate checks the request before any transaction begins.
func (r DeliveryRequest) Validate() error {
	if id.IsNil(r.CenterID) {
		return apperror.NewValidation("center_id is required").WithDetail("field", "center_id")
	}
	if id.IsNil(r.PatientID) {
		return apperror.NewValidation("patient_id is required").WithDetail("field", "patient_id")
	}
	if id.IsNil(r.DrugFormID) {
		return apperror.NewValidation("drug_form_id is required").WithDetail("field", "drug_form_id")
	}
	if r.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity").
			WithDetail("value", r.Quantity)
	}
	if strings.TrimSpace(r.DeliveryDate) == "" {
		return apperror.NewValidation("delivery_date is required").WithDetail("field", "delivery_date")
	}
	return nil
}

// DeliveryResult is the committed outcome of a delivery.
type DeliveryResult struct {
	Delivery      Delivery      `json:"delivery"`
	Record        MonthlyRecord `json:"record"`
	Transaction   Transaction   `json:"transaction"`
	PreviousStock int64         `json:"previousStock"`
	NewStock      int64         `json:"newStock"`
}

// DeliveryService is the delivery transaction coordinator. It is the only
// writer of delivered_stock.
type DeliveryService struct {
	store     Store
	patients  PatientDirectory
	calendar  calendar.Adapter
	txManager tx.Manager
	opts      options
}

// NewDeliveryService creates the coordinator.
func NewDeliveryService(
	store Store,
	patients PatientDirectory,
	cal calendar.Adapter,
	txManager tx.Manager,
	opts ...Option,
) *DeliveryService {
	return &DeliveryService{
		store:     store,
		patients:  patients,
		calendar:  cal,
		txManager: txManager,
		opts:      buildOptions(opts),
	}
}

// Deliver records a dispensation in one atomic unit: the delivery row, the
// decrement of the delivery date's period, the patient's last-delivery
// marker and the log entry are committed together or not at all.
//
// The stock check and the decrement are serialized per (center, drug), so
// of two racing requests that only fit one at a time, the second observes
// the first's result and fails with INSUFFICIENT_STOCK. A lock that cannot
// be acquired in time fails with LOCK_TIMEOUT; the call is never retried here.
func (s *DeliveryService) Deliver(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("center_id", req.CenterID.String()),
		attribute.String("drug_form_id", req.DrugFormID.String()),
		attribute.Int64("quantity", req.Quantity),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	deliveryDate, err := s.calendar.ToUniversal(req.DeliveryDate)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidDate) {
			return nil, apperror.NewInvalidDate("delivery_date", req.DeliveryDate)
		}
		return nil, err
	}
	period := s.calendar.PeriodOf(deliveryDate)

	if _, err := s.store.Drugs.GetDrugForm(ctx, req.DrugFormID); err != nil {
		return nil, err
	}
	patient, err := s.patients.GetByID(ctx, req.CenterID, req.PatientID)
	if err != nil {
		return nil, err
	}
	if err := s.opts.policy.CanMutate(ctx, period); err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	createdBy := actorID(ctx)
	var result DeliveryResult

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.store.Ledger.LockStock(ctx, req.CenterID, req.DrugFormID)
		if err != nil {
			return err
		}
		if stock < req.Quantity {
			return apperror.NewInsufficientStock(req.DrugFormID.String(), stock, req.Quantity)
		}
		// A period is opened by an initial-stock entry or a purchase. Without
		// a record the delivery would create one with negative stock.
		target, err := s.store.Ledger.GetRecord(ctx, req.CenterID, req.DrugFormID, period)
		if err != nil {
			return fmt.Errorf("read target period: %w", err)
		}
		if target == nil {
			return apperror.NewInsufficientStock(req.DrugFormID.String(), 0, req.Quantity).
				WithDetail("period", period.String())
		}

		delivery := Delivery{
			ID:                id.New(),
			CenterID:          req.CenterID,
			PatientID:         req.PatientID,
			DrugFormID:        req.DrugFormID,
			Quantity:          req.Quantity,
			ActualDosage:      req.ActualDosage,
			DeliveryDateLocal: s.calendar.ToLocal(deliveryDate, calendar.LayoutDate),
			DeliveryDate:      deliveryDate,
			Notes:             req.Notes,
			CreatedBy:         createdBy,
			CreatedAt:         now,
		}
		if err := s.store.Deliveries.Create(ctx, &delivery); err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}

		record, err := s.store.Ledger.ApplyDelta(ctx, req.CenterID, req.DrugFormID, period, Delta{Delivered: req.Quantity})
		if err != nil {
			return fmt.Errorf("decrement ledger: %w", err)
		}

		if err := s.patients.AdvanceLastDelivery(ctx, req.PatientID, deliveryDate); err != nil {
			return fmt.Errorf("advance last delivery: %w", err)
		}

		entry := Transaction{
			ID:                   id.New(),
			CenterID:             req.CenterID,
			DrugFormID:           req.DrugFormID,
			Type:                 TransactionDelivery,
			Quantity:             -req.Quantity,
			PreviousQuantity:     stock,
			NewQuantity:          stock - req.Quantity,
			ReferenceID:          &delivery.ID,
			ReferenceType:        string(TransactionDelivery),
			PeriodKey:            KeyOf(period),
			TransactionDate:      now,
			TransactionDateLocal: s.calendar.ToLocal(now, calendar.LayoutDate),
			Description:          "delivery to " + patient.FullName(),
			CreatedBy:            createdBy,
			CreatedAt:            now,
		}
		if err := s.store.Log.Append(ctx, &entry); err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}

		if err := s.publishDelivery(ctx, delivery, entry, period); err != nil {
			return err
		}

		result = DeliveryResult{
			Delivery:      delivery,
			Record:        record,
			Transaction:   entry,
			PreviousStock: stock,
			NewStock:      entry.NewQuantity,
		}
		return nil
	})
	if err != nil {
		if apperror.IsInsufficientStock(err) || apperror.IsLockTimeout(err) {
			logger.Warn(ctx, "delivery rejected",
				"drug_form_id", req.DrugFormID,
				"quantity", req.Quantity,
				"error", err,
			)
		}
		return nil, err
	}

	logger.Info(ctx, "delivery recorded",
		"delivery_id", result.Delivery.ID,
		"patient_id", req.PatientID,
		"drug_form_id", req.DrugFormID,
		"period", period.String(),
		"previous_stock", result.PreviousStock,
		"new_stock", result.NewStock,
	)
	return &result, nil
}

func (s *DeliveryService) publishDelivery(ctx context.Context, d Delivery, entry Transaction, period calendar.Period) error {
	err := s.opts.events.Publish(ctx, event.Event{
		AggregateType: "delivery",
		AggregateID:   d.ID,
		CenterID:      d.CenterID,
		EventType:     event.TypeDeliveryRecorded,
		Payload: map[string]any{
			"deliveryId":    d.ID,
			"patientId":     d.PatientID,
			"drugFormId":    d.DrugFormID,
			"quantity":      d.Quantity,
			"deliveryDate":  d.DeliveryDateLocal,
			"period":        period.String(),
			"previousStock": entry.PreviousQuantity,
			"newStock":      entry.NewQuantity,
		},
	})
	if err != nil {
		return fmt.Errorf("publish delivery event: %w", err)
	}
	if entry.NewQuantity > 0 {
		return nil
	}
	err = s.opts.events.Publish(ctx, event.Event{
		AggregateType: "monthly_inventory",
		AggregateID:   d.DrugFormID,
		CenterID:      d.CenterID,
		EventType:     event.TypeStockDepleted,
		Payload: map[string]any{
			"drugFormId":   d.DrugFormID,
			"currentStock": entry.NewQuantity,
			"period":       period.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("publish depletion event: %w", err)
	}
	return nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ParseLocalRange converts optional local from/to dates into a universal
// range. The upper bound is extended to the end of its day.
func ParseLocalRange(cal calendar.Adapter, from, to string) (*time.Time, *time.Time, error) {
	var fromT, toT *time.Time
	if from != "" {
		t, err := cal.ToUniversal(from)
		if err != nil {
			return nil, nil, apperror.NewInvalidDate("start_date", from)
		}
		fromT = &t
	}
	if to != "" {
		t, err := cal.ToUniversal(to)
		if err != nil {
			return nil, nil, apperror.NewInvalidDate("end_date", to)
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		toT = &end
	}
	return fromT, toT, nil
}
