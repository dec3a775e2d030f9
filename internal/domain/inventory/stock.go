package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/event"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/tx"
	"clinicstock/internal/core/types"
	"clinicstock/pkg/logger"
)

// PurchaseRequest registers a purchased lot.
type PurchaseRequest struct {
	CenterID          id.ID
	DrugFormID        id.ID
	BatchNumber       string
	Quantity          int64
	UnitCost          types.Money
	Supplier          string
	PurchaseDate      string // local calendar
	ExpiryDate        string // local calendar, optional
	StorageConditions string
	Notes             string
}

func (r PurchaseRequest) Validate() error {
	if id.IsNil(r.CenterID) {
		return apperror.NewValidation("center_id is required").WithDetail("field", "center_id")
	}
	if id.IsNil(r.DrugFormID) {
		return apperror.NewValidation("drug_form_id is required").WithDetail("field", "drug_form_id")
	}
	if r.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity").
			WithDetail("value", r.Quantity)
	}
	if r.UnitCost.IsNegative() {
		return apperror.NewValidation("unit_cost cannot be negative").WithDetail("field", "unit_cost")
	}
	if strings.TrimSpace(r.PurchaseDate) == "" {
		return apperror.NewValidation("purchase_date is required").WithDetail("field", "purchase_date")
	}
	return nil
}

// PurchaseResult is the committed outcome of a purchase.
type PurchaseResult struct {
	Lot         Lot           `json:"lot"`
	Record      MonthlyRecord `json:"record"`
	Transaction Transaction   `json:"transaction"`
}

// InitialStockRequest sets the opening balance of a period.
type InitialStockRequest struct {
	CenterID   id.ID
	DrugFormID id.ID
	Period     calendar.Period
	Quantity   int64
	Notes      string
}

func (r InitialStockRequest) Validate() error {
	if id.IsNil(r.CenterID) {
		return apperror.NewValidation("center_id is required").WithDetail("field", "center_id")
	}
	if id.IsNil(r.DrugFormID) {
		return apperror.NewValidation("drug_form_id is required").WithDetail("field", "drug_form_id")
	}
	if _, err := calendar.NewPeriod(r.Period.Year, r.Period.Month); err != nil {
		return apperror.NewValidation("invalid period").
			WithDetail("field", "period").
			WithDetail("value", r.Period.String())
	}
	if r.Quantity < 0 {
		return apperror.NewValidation("quantity cannot be negative").
			WithDetail("field", "quantity").
			WithDetail("value", r.Quantity)
	}
	return nil
}

// InitialStockResult carries the corrected record and the applied delta.
type InitialStockResult struct {
	Record          MonthlyRecord `json:"record"`
	Transaction     Transaction   `json:"transaction"`
	PreviousInitial int64         `json:"previousInitial"`
	Created         bool          `json:"created"`
}

// AdjustmentRequest is a signed manual correction (breakage, count error).
type AdjustmentRequest struct {
	CenterID   id.ID
	DrugFormID id.ID
	Period     calendar.Period
	Delta      int64
	Reason     string
}

func (r AdjustmentRequest) Validate() error {
	if id.IsNil(r.CenterID) {
		return apperror.NewValidation("center_id is required").WithDetail("field", "center_id")
	}
	if id.IsNil(r.DrugFormID) {
		return apperror.NewValidation("drug_form_id is required").WithDetail("field", "drug_form_id")
	}
	if _, err := calendar.NewPeriod(r.Period.Year, r.Period.Month); err != nil {
		return apperror.NewValidation("invalid period").
			WithDetail("field", "period").
			WithDetail("value", r.Period.String())
	}
	if r.Delta == 0 {
		return apperror.NewValidation("delta must not be zero").WithDetail("field", "delta")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return apperror.NewValidation("reason is required").WithDetail("field", "reason")
	}
	return nil
}

// AdjustmentResult is the committed outcome of an adjustment.
type AdjustmentResult struct {
	Record      MonthlyRecord `json:"record"`
	Transaction Transaction   `json:"transaction"`
}

// StockService records purchases, opening balances and manual corrections.
// Every write holds the same per-(center, drug) lock as deliveries.
type StockService struct {
	store     Store
	calendar  calendar.Adapter
	txManager tx.Manager
	opts      options
}

// NewStockService creates a StockService.
func NewStockService(store Store, cal calendar.Adapter, txManager tx.Manager, opts ...Option) *StockService {
	return &StockService{
		store:     store,
		calendar:  cal,
		txManager: txManager,
		opts:      buildOptions(opts),
	}
}

// RecordPurchase creates a lot and adds its quantity to the purchase date's period.
func (s *StockService) RecordPurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.RecordPurchase")
	defer span.End()
	span.SetAttributes(attribute.String("drug_form_id", req.DrugFormID.String()))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	purchaseDate, err := s.parseDate("purchase_date", req.PurchaseDate)
	if err != nil {
		return nil, err
	}
	var expiry *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		t, err := s.parseDate("expiry_date", req.ExpiryDate)
		if err != nil {
			return nil, err
		}
		if t.Before(purchaseDate) {
			return nil, apperror.NewValidation("expiry_date is before purchase_date").
				WithDetail("field", "expiry_date")
		}
		expiry = &t
	}
	period := s.calendar.PeriodOf(purchaseDate)

	drug, err := s.store.Drugs.GetDrugForm(ctx, req.DrugFormID)
	if err != nil {
		return nil, err
	}
	if !drug.IsActive {
		return nil, apperror.NewBusinessRule(apperror.CodeInactiveDrug, "drug form is not active").
			WithDetail("drug_form_id", req.DrugFormID)
	}
	if err := s.opts.policy.CanMutate(ctx, period); err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	createdBy := actorID(ctx)
	var result PurchaseResult

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.store.Ledger.LockStock(ctx, req.CenterID, req.DrugFormID)
		if err != nil {
			return err
		}

		batch := strings.TrimSpace(req.BatchNumber)
		if batch == "" && s.opts.numberer != nil {
			batch, err = s.opts.numberer.NextBatchNumber(ctx, req.CenterID, period)
			if err != nil {
				return fmt.Errorf("generate batch number: %w", err)
			}
		}

		lot := Lot{
			ID:                id.New(),
			CenterID:          req.CenterID,
			DrugFormID:        req.DrugFormID,
			BatchNumber:       batch,
			Quantity:          req.Quantity,
			RemainingQuantity: req.Quantity,
			UnitCost:          req.UnitCost,
			Supplier:          req.Supplier,
			PurchaseDate:      purchaseDate,
			PurchaseDateLocal: s.calendar.ToLocal(purchaseDate, calendar.LayoutDate),
			ExpiryDate:        expiry,
			StorageConditions: req.StorageConditions,
			Status:            LotActive,
			PeriodKey:         KeyOf(period),
			Notes:             req.Notes,
			CreatedBy:         createdBy,
			CreatedAt:         now,
		}
		if err := s.store.Lots.Create(ctx, &lot); err != nil {
			return fmt.Errorf("create lot: %w", err)
		}

		record, err := s.store.Ledger.ApplyDelta(ctx, req.CenterID, req.DrugFormID, period, Delta{Purchased: req.Quantity})
		if err != nil {
			return fmt.Errorf("apply purchase: %w", err)
		}

		entry := s.newEntry(req.CenterID, req.DrugFormID, TransactionPurchase, req.Quantity, stock, period, now, createdBy)
		entry.ReferenceID = &lot.ID
		entry.ReferenceType = "lot"
		entry.Description = "purchase " + batch
		if err := s.store.Log.Append(ctx, &entry); err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}

		err = s.opts.events.Publish(ctx, event.Event{
			AggregateType: "lot",
			AggregateID:   lot.ID,
			CenterID:      lot.CenterID,
			EventType:     event.TypePurchaseRecorded,
			Payload: map[string]any{
				"lotId":       lot.ID,
				"drugFormId":  lot.DrugFormID,
				"batchNumber": lot.BatchNumber,
				"quantity":    lot.Quantity,
				"unitCost":    lot.UnitCost.String(),
				"period":      period.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("publish purchase event: %w", err)
		}

		result = PurchaseResult{Lot: lot, Record: record, Transaction: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "purchase recorded",
		"lot_id", result.Lot.ID,
		"batch_number", result.Lot.BatchNumber,
		"drug_form_id", req.DrugFormID,
		"quantity", req.Quantity,
		"period", period.String(),
	)
	return &result, nil
}

// RecordInitialStock sets a period's opening balance. On an existing record
// the current stock is corrected by the difference between the new and the
// old opening balance, so the identity holds without touching purchases or
// deliveries. No lot is created.
func (s *StockService) RecordInitialStock(ctx context.Context, req InitialStockRequest) (*InitialStockResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.RecordInitialStock")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Drugs.GetDrugForm(ctx, req.DrugFormID); err != nil {
		return nil, err
	}
	if err := s.opts.policy.CanMutate(ctx, req.Period); err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	createdBy := actorID(ctx)
	var result InitialStockResult

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.store.Ledger.LockStock(ctx, req.CenterID, req.DrugFormID)
		if err != nil {
			return err
		}
		existing, err := s.store.Ledger.GetRecord(ctx, req.CenterID, req.DrugFormID, req.Period)
		if err != nil {
			return err
		}

		var previous int64
		if existing != nil {
			previous = existing.InitialStock
		}
		delta := req.Quantity - previous

		record, err := s.store.Ledger.ApplyDelta(ctx, req.CenterID, req.DrugFormID, req.Period, Delta{Initial: delta})
		if err != nil {
			return fmt.Errorf("apply initial stock: %w", err)
		}

		entry := s.newEntry(req.CenterID, req.DrugFormID, TransactionInitial, delta, stock, req.Period, now, createdBy)
		entry.ReferenceType = "monthly_inventory"
		entry.Description = fmt.Sprintf("initial stock %s: %d -> %d", req.Period, previous, req.Quantity)
		if req.Notes != "" {
			entry.Description += " (" + req.Notes + ")"
		}
		if err := s.store.Log.Append(ctx, &entry); err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}

		if existing != nil && s.opts.auditor != nil {
			if err := s.opts.auditor.RecordCorrection(ctx, existing, record); err != nil {
				return fmt.Errorf("audit correction: %w", err)
			}
		}

		err = s.opts.events.Publish(ctx, event.Event{
			AggregateType: "monthly_inventory",
			AggregateID:   req.DrugFormID,
			CenterID:      req.CenterID,
			EventType:     event.TypeInitialStockSet,
			Payload: map[string]any{
				"drugFormId":      req.DrugFormID,
				"period":          req.Period.String(),
				"initialStock":    req.Quantity,
				"previousInitial": previous,
				"currentStock":    record.CurrentStock,
			},
		})
		if err != nil {
			return fmt.Errorf("publish initial stock event: %w", err)
		}

		result = InitialStockResult{
			Record:          record,
			Transaction:     entry,
			PreviousInitial: previous,
			Created:         existing == nil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "initial stock set",
		"drug_form_id", req.DrugFormID,
		"period", req.Period.String(),
		"initial_stock", req.Quantity,
		"previous_initial", result.PreviousInitial,
	)
	return &result, nil
}

// RecordAdjustment applies a signed correction. Positive deltas are booked
// as purchased stock and negative ones as delivered stock. An adjustment
// that would take the latest stock below zero fails with INSUFFICIENT_STOCK.
func (s *StockService) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (*AdjustmentResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.RecordAdjustment")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Drugs.GetDrugForm(ctx, req.DrugFormID); err != nil {
		return nil, err
	}
	if err := s.opts.policy.CanMutate(ctx, req.Period); err != nil {
		return nil, err
	}

	now := s.opts.now().UTC()
	createdBy := actorID(ctx)
	var result AdjustmentResult

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		stock, err := s.store.Ledger.LockStock(ctx, req.CenterID, req.DrugFormID)
		if err != nil {
			return err
		}
		if stock+req.Delta < 0 {
			return apperror.NewInsufficientStock(req.DrugFormID.String(), stock, -req.Delta)
		}

		d := Delta{Purchased: req.Delta}
		if req.Delta < 0 {
			d = Delta{Delivered: -req.Delta}
		}
		record, err := s.store.Ledger.ApplyDelta(ctx, req.CenterID, req.DrugFormID, req.Period, d)
		if err != nil {
			return fmt.Errorf("apply adjustment: %w", err)
		}

		entry := s.newEntry(req.CenterID, req.DrugFormID, TransactionAdjustment, req.Delta, stock, req.Period, now, createdBy)
		entry.ReferenceType = "adjustment"
		entry.Description = req.Reason
		if err := s.store.Log.Append(ctx, &entry); err != nil {
			return fmt.Errorf("append transaction log: %w", err)
		}

		err = s.opts.events.Publish(ctx, event.Event{
			AggregateType: "monthly_inventory",
			AggregateID:   req.DrugFormID,
			CenterID:      req.CenterID,
			EventType:     event.TypeAdjustmentRecorded,
			Payload: map[string]any{
				"drugFormId": req.DrugFormID,
				"period":     req.Period.String(),
				"delta":      req.Delta,
				"reason":     req.Reason,
			},
		})
		if err != nil {
			return fmt.Errorf("publish adjustment event: %w", err)
		}

		result = AdjustmentResult{Record: record, Transaction: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "adjustment recorded",
		"drug_form_id", req.DrugFormID,
		"period", req.Period.String(),
		"delta", req.Delta,
	)
	return &result, nil
}

// ReconcileReport compares the transaction log against the monthly records.
type ReconcileReport struct {
	CenterID   id.ID             `json:"centerId"`
	DrugFormID id.ID             `json:"drugFormId"`
	Through    calendar.Period   `json:"through"`
	SumDeltas  int64             `json:"sumDeltas"`
	SumCurrent int64             `json:"sumCurrent"`
	Latest     int64             `json:"latestStock"`
	Unbalanced []calendar.Period `json:"unbalanced,omitempty"`
}

// Consistent reports whether the log and the records agree.
func (r ReconcileReport) Consistent() bool {
	return r.SumDeltas == r.SumCurrent && len(r.Unbalanced) == 0
}

// Reconcile checks that every record satisfies the ledger identity and that
// the sum of logged deltas equals the sum of current stock over the periods
// up to and including through. A zero through covers all periods.
func (s *StockService) Reconcile(ctx context.Context, centerID, drugID id.ID, through calendar.Period) (*ReconcileReport, error) {
	report := &ReconcileReport{CenterID: centerID, DrugFormID: drugID, Through: through}

	read := s.txManager.RunInTransaction
	if ro, ok := s.txManager.(tx.ReadOnlyManager); ok {
		read = ro.ReadOnly
	}

	err := read(ctx, func(ctx context.Context) error {
		records, err := s.store.Ledger.ListRecords(ctx, centerID, drugID)
		if err != nil {
			return err
		}
		for _, r := range records {
			if !through.IsZero() && through.Before(r.Period()) {
				continue
			}
			report.SumCurrent += r.CurrentStock
			if !r.Balanced() {
				report.Unbalanced = append(report.Unbalanced, r.Period())
			}
		}
		report.SumDeltas, err = s.store.Log.SumDeltas(ctx, centerID, drugID, through)
		if err != nil {
			return err
		}
		report.Latest, err = s.store.Ledger.GetCurrentStock(ctx, centerID, drugID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent() {
		logger.Warn(ctx, "ledger out of balance",
			"center_id", centerID,
			"drug_form_id", drugID,
			"through", through.String(),
			"sum_deltas", report.SumDeltas,
			"sum_current", report.SumCurrent,
			"unbalanced_periods", len(report.Unbalanced),
		)
	}
	return report, nil
}

// Lots returns the lot registry of a center.
func (s *StockService) Lots(ctx context.Context, centerID id.ID, filter LotFilter) ([]Lot, error) {
	filter.Limit = clampLimit(filter.Limit)
	return s.store.Lots.List(ctx, centerID, filter)
}

func (s *StockService) parseDate(field, value string) (time.Time, error) {
	t, err := s.calendar.ToUniversal(value)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidDate) {
			return time.Time{}, apperror.NewInvalidDate(field, value)
		}
		return time.Time{}, err
	}
	return t, nil
}

// newEntry builds a log entry. previous is the latest stock read under the
// lock; new_quantity is previous plus the signed delta.
func (s *StockService) newEntry(
	centerID, drugID id.ID,
	typ TransactionType,
	delta, previous int64,
	period calendar.Period,
	now time.Time,
	createdBy *id.ID,
) Transaction {
	return Transaction{
		ID:                   id.New(),
		CenterID:             centerID,
		DrugFormID:           drugID,
		Type:                 typ,
		Quantity:             delta,
		PreviousQuantity:     previous,
		NewQuantity:          previous + delta,
		PeriodKey:            KeyOf(period),
		TransactionDate:      now,
		TransactionDateLocal: s.calendar.ToLocal(now, calendar.LayoutDate),
		CreatedBy:            createdBy,
		CreatedAt:            now,
	}
}
