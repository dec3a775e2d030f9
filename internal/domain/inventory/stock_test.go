package inventory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/event"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/tx"
	"clinicstock/internal/core/types"
)

type stubNumberer struct{ n int }

func (s *stubNumberer) NextBatchNumber(ctx context.Context, centerID id.ID, p calendar.Period) (string, error) {
	s.n++
	return fmt.Sprintf("LOT-%d-%05d", p.Year, s.n), nil
}

type captureAuditor struct {
	before *MonthlyRecord
	after  MonthlyRecord
	calls  int
}

func (a *captureAuditor) RecordCorrection(ctx context.Context, before *MonthlyRecord, after MonthlyRecord) error {
	a.before, a.after = before, after
	a.calls++
	return nil
}

func newStockService(mem *memStore, opts ...Option) *StockService {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithEvents(memEvents{mem})}, opts...)
	return NewStockService(mem.store(), calendar.NewJalali(nil), tx.Func(mem.txManager()), opts...)
}

func TestRecordPurchase_CreatesRecordForNewPeriod(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	svc := newStockService(mem)

	res, err := svc.RecordPurchase(context.Background(), PurchaseRequest{
		CenterID:     center,
		DrugFormID:   drug,
		BatchNumber:  "B-17",
		Quantity:     500,
		UnitCost:     types.MustMoney("12.50"),
		Supplier:     "Darou Pakhsh",
		PurchaseDate: "1402/02/03",
		ExpiryDate:   "1404/02/03",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Record.InitialStock)
	assert.Equal(t, int64(500), res.Record.PurchasedStock)
	assert.Equal(t, int64(500), res.Record.CurrentStock)
	assert.Equal(t, ordibehesht1402, res.Record.Period())

	assert.Equal(t, "B-17", res.Lot.BatchNumber)
	assert.Equal(t, int64(500), res.Lot.RemainingQuantity)
	assert.Equal(t, LotActive, res.Lot.Status)
	assert.True(t, types.MustMoney("6250").Equal(res.Lot.TotalCost()))
	require.NotNil(t, res.Lot.ExpiryDate)

	assert.Equal(t, TransactionPurchase, res.Transaction.Type)
	assert.Equal(t, int64(500), res.Transaction.Quantity)
	assert.Equal(t, int64(0), res.Transaction.PreviousQuantity)
	assert.Equal(t, int64(500), res.Transaction.NewQuantity)

	require.Len(t, mem.state.events, 1)
	assert.Equal(t, event.TypePurchaseRecorded, mem.state.events[0].EventType)
}

func TestRecordPurchase_AddsToExistingRecord(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	mem.setRecord(center, drug, farvardin1402, 1000, 0, 200)
	svc := newStockService(mem)

	res, err := svc.RecordPurchase(context.Background(), PurchaseRequest{
		CenterID: center, DrugFormID: drug, BatchNumber: "X", Quantity: 300, PurchaseDate: "1402/01/10",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Record.InitialStock)
	assert.Equal(t, int64(300), res.Record.PurchasedStock)
	assert.Equal(t, int64(1100), res.Record.CurrentStock)
	assert.True(t, res.Record.Balanced())
}

func TestRecordPurchase_GeneratesBatchNumber(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	svc := newStockService(mem, WithBatchNumberer(&stubNumberer{}))

	res, err := svc.RecordPurchase(context.Background(), PurchaseRequest{
		CenterID: center, DrugFormID: drug, Quantity: 10, PurchaseDate: "1402/01/10",
	})
	require.NoError(t, err)
	assert.Equal(t, "LOT-1402-00001", res.Lot.BatchNumber)
}

func TestRecordPurchase_Rejects(t *testing.T) {
	mem := newMemStore()
	center := id.New()
	active, inactive := mem.addDrug(true), mem.addDrug(false)
	svc := newStockService(mem)

	tests := []struct {
		name string
		req  PurchaseRequest
		code string
	}{
		{"zero quantity", PurchaseRequest{CenterID: center, DrugFormID: active, PurchaseDate: "1402/01/10"}, apperror.CodeValidation},
		{"negative cost", PurchaseRequest{CenterID: center, DrugFormID: active, Quantity: 1, UnitCost: types.MustMoney("-1"), PurchaseDate: "1402/01/10"}, apperror.CodeValidation},
		{"invalid date", PurchaseRequest{CenterID: center, DrugFormID: active, Quantity: 1, PurchaseDate: "1402/12/30"}, apperror.CodeValidation},
		{"expiry before purchase", PurchaseRequest{CenterID: center, DrugFormID: active, Quantity: 1, PurchaseDate: "1402/05/10", ExpiryDate: "1402/01/10"}, apperror.CodeValidation},
		{"unknown drug", PurchaseRequest{CenterID: center, DrugFormID: id.New(), Quantity: 1, PurchaseDate: "1402/01/10"}, apperror.CodeNotFound},
		{"inactive drug", PurchaseRequest{CenterID: center, DrugFormID: inactive, Quantity: 1, PurchaseDate: "1402/01/10"}, apperror.CodeInactiveDrug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPurchase(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
	assert.Empty(t, mem.state.lots)
	assert.Empty(t, mem.state.records)
}

func TestRecordInitialStock_CreatesRecord(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	auditor := &captureAuditor{}
	svc := newStockService(mem, WithAuditor(auditor))

	res, err := svc.RecordInitialStock(context.Background(), InitialStockRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Quantity: 1000,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(1000), res.Record.InitialStock)
	assert.Equal(t, int64(1000), res.Record.CurrentStock)
	assert.Equal(t, int64(1000), res.Transaction.Quantity)
	assert.Equal(t, 0, auditor.calls)
}

func TestRecordInitialStock_CorrectsExistingRecord(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	mem.setRecord(center, drug, farvardin1402, 1000, 300, 200) // current 1100
	auditor := &captureAuditor{}
	svc := newStockService(mem, WithAuditor(auditor))

	res, err := svc.RecordInitialStock(context.Background(), InitialStockRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Quantity: 800,
	})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, int64(1000), res.PreviousInitial)
	assert.Equal(t, int64(800), res.Record.InitialStock)
	assert.Equal(t, int64(300), res.Record.PurchasedStock)
	assert.Equal(t, int64(200), res.Record.DeliveredStock)
	assert.Equal(t, int64(900), res.Record.CurrentStock)
	assert.True(t, res.Record.Balanced())

	assert.Equal(t, int64(-200), res.Transaction.Quantity)
	assert.Equal(t, int64(1100), res.Transaction.PreviousQuantity)
	assert.Equal(t, int64(900), res.Transaction.NewQuantity)

	require.Equal(t, 1, auditor.calls)
	require.NotNil(t, auditor.before)
	assert.Equal(t, int64(1000), auditor.before.InitialStock)
	assert.Equal(t, int64(800), auditor.after.InitialStock)
}

func TestRecordInitialStock_Validation(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	svc := newStockService(mem)

	_, err := svc.RecordInitialStock(context.Background(), InitialStockRequest{
		CenterID: center, DrugFormID: drug, Period: calendar.Period{Year: 1402, Month: 13}, Quantity: 1,
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.RecordInitialStock(context.Background(), InitialStockRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Quantity: -1,
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestRecordAdjustment(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	mem.setRecord(center, drug, farvardin1402, 100, 0, 0)
	svc := newStockService(mem)
	ctx := context.Background()

	res, err := svc.RecordAdjustment(ctx, AdjustmentRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Delta: -30, Reason: "broken vials",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.Record.DeliveredStock)
	assert.Equal(t, int64(70), res.Record.CurrentStock)
	assert.Equal(t, "broken vials", res.Transaction.Description)

	res, err = svc.RecordAdjustment(ctx, AdjustmentRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Delta: 5, Reason: "recount",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Record.PurchasedStock)
	assert.Equal(t, int64(75), res.Record.CurrentStock)

	_, err = svc.RecordAdjustment(ctx, AdjustmentRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Delta: -76, Reason: "too much",
	})
	assert.True(t, apperror.IsInsufficientStock(err))

	_, err = svc.RecordAdjustment(ctx, AdjustmentRequest{
		CenterID: center, DrugFormID: drug, Period: farvardin1402, Delta: -1,
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestReconcile(t *testing.T) {
	mem := newMemStore()
	center := id.New()
	drug := mem.addDrug(true)
	patient := mem.addPatient(center, fixedNow.AddDate(0, -3, 0))
	ctx := context.Background()

	stock := newStockService(mem)
	deliveries := NewDeliveryService(mem.store(), memPatients{mem}, calendar.NewJalali(nil), tx.Func(mem.txManager()),
		WithClock(func() time.Time { return fixedNow }))

	_, err := stock.RecordInitialStock(ctx, InitialStockRequest{CenterID: center, DrugFormID: drug, Period: farvardin1402, Quantity: 1000})
	require.NoError(t, err)
	_, err = stock.RecordPurchase(ctx, PurchaseRequest{CenterID: center, DrugFormID: drug, BatchNumber: "A", Quantity: 500, PurchaseDate: "1402/02/03"})
	require.NoError(t, err)
	_, err = deliveries.Deliver(ctx, DeliveryRequest{CenterID: center, PatientID: patient, DrugFormID: drug, Quantity: 120, DeliveryDate: "1402/01/20"})
	require.NoError(t, err)
	_, err = stock.RecordInitialStock(ctx, InitialStockRequest{CenterID: center, DrugFormID: drug, Period: farvardin1402, Quantity: 900})
	require.NoError(t, err)
	_, err = stock.RecordAdjustment(ctx, AdjustmentRequest{CenterID: center, DrugFormID: drug, Period: ordibehesht1402, Delta: -10, Reason: "expired"})
	require.NoError(t, err)

	report, err := stock.Reconcile(ctx, center, drug, calendar.Period{})
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, int64(900-120+500-10), report.SumCurrent)
	assert.Equal(t, report.SumCurrent, report.SumDeltas)
	assert.Equal(t, int64(500-10), report.Latest)

	// Through the first period only the opening balance and the delivery count.
	report, err = stock.Reconcile(ctx, center, drug, farvardin1402)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, int64(900-120), report.SumCurrent)
	assert.Equal(t, report.SumCurrent, report.SumDeltas)

	// Tamper with a record behind the service's back.
	key := recordKey{center, drug, farvardin1402}
	r := mem.state.records[key]
	r.CurrentStock++
	mem.state.records[key] = r

	report, err = stock.Reconcile(ctx, center, drug, calendar.Period{})
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []calendar.Period{farvardin1402}, report.Unbalanced)
}

type readOnlyTx struct {
	tx.Func
	readOnly int
}

func (r *readOnlyTx) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	r.readOnly++
	return r.Func(ctx, fn)
}

func TestReconcile_ReadsInReadOnlyTransaction(t *testing.T) {
	mem := newMemStore()
	center, drug := id.New(), mem.addDrug(true)
	mem.setRecord(center, drug, farvardin1402, 0, 0, 0)

	txm := &readOnlyTx{Func: tx.Func(mem.txManager())}
	svc := NewStockService(mem.store(), calendar.NewJalali(nil), txm, WithClock(func() time.Time { return fixedNow }))

	report, err := svc.Reconcile(context.Background(), center, drug, calendar.Period{})
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, txm.readOnly)
}
