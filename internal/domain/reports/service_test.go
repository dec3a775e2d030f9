package reports

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
)

type mockRepo struct{ mock.Mock }

func (m *mockRepo) DrugStock(ctx context.Context, centerID id.ID) ([]StockRow, error) {
	args := m.Called(ctx, centerID)
	return args.Get(0).([]StockRow), args.Error(1)
}

func (m *mockRepo) DrugStockByID(ctx context.Context, centerID, drugID id.ID) (*StockRow, error) {
	args := m.Called(ctx, centerID, drugID)
	row, _ := args.Get(0).(*StockRow)
	return row, args.Error(1)
}

func (m *mockRepo) PeriodStock(ctx context.Context, centerID id.ID, period calendar.Period) ([]StockRow, error) {
	args := m.Called(ctx, centerID, period)
	return args.Get(0).([]StockRow), args.Error(1)
}

func (m *mockRepo) LatestPeriod(ctx context.Context, centerID id.ID) (*calendar.Period, error) {
	args := m.Called(ctx, centerID)
	p, _ := args.Get(0).(*calendar.Period)
	return p, args.Error(1)
}

func (m *mockRepo) TransactionHistory(ctx context.Context, centerID id.ID, filter inventory.TransactionFilter) ([]TransactionView, error) {
	args := m.Called(ctx, centerID, filter)
	return args.Get(0).([]TransactionView), args.Error(1)
}

func (m *mockRepo) TopDrugs(ctx context.Context, centerID id.ID, since time.Time, limit int) ([]TopDrug, error) {
	args := m.Called(ctx, centerID, since, limit)
	return args.Get(0).([]TopDrug), args.Error(1)
}

func (m *mockRepo) PatientStatistics(ctx context.Context, centerID id.ID, asOf time.Time) (PatientStatistics, error) {
	args := m.Called(ctx, centerID, asOf)
	return args.Get(0).(PatientStatistics), args.Error(1)
}

func (m *mockRepo) CountDeliveries(ctx context.Context, centerID id.ID, from, to time.Time) (int64, error) {
	args := m.Called(ctx, centerID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) SaveCenterMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period, stats CenterStatistics) error {
	return m.Called(ctx, centerID, period, stats).Error(0)
}

func (m *mockRepo) ActivePatientsLastDelivery(ctx context.Context, centerID id.ID, asOf time.Time) ([]patients.Patient, error) {
	args := m.Called(ctx, centerID, asOf)
	return args.Get(0).([]patients.Patient), args.Error(1)
}

type mockDeliveries struct{ mock.Mock }

func (m *mockDeliveries) Create(ctx context.Context, d *inventory.Delivery) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDeliveries) List(ctx context.Context, centerID id.ID, filter inventory.DeliveryFilter) ([]inventory.DeliveryView, error) {
	args := m.Called(ctx, centerID, filter)
	return args.Get(0).([]inventory.DeliveryView), args.Error(1)
}

func sameTime(want time.Time) any {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}

var reportNow = time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC) // 1402/02/11

func newTestService(repo *mockRepo, deliveries *mockDeliveries, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return reportNow })}, opts...)
	return NewService(repo, deliveries, calendar.NewJalali(nil), opts...)
}

func row(name string, initial, purchased, delivered int64) StockRow {
	y, m := 1402, 2
	return StockRow{
		DrugFormID:     id.New(),
		DrugName:       name,
		PeriodYear:     &y,
		PeriodMonth:    &m,
		InitialStock:   initial,
		PurchasedStock: purchased,
		DeliveredStock: delivered,
		CurrentStock:   initial + purchased - delivered,
	}
}

func TestThresholds_AlertLevel(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		current int64
		want    AlertLevel
	}{
		{-5, AlertOutOfStock},
		{0, AlertOutOfStock},
		{1, AlertCritical},
		{99, AlertCritical},
		{100, AlertLow},
		{499, AlertLow},
		{500, AlertSufficient},
		{10000, AlertSufficient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.AlertLevel(tt.current), "current=%d", tt.current)
	}
}

func TestThresholds_MonthlyStatus(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, StatusOutOfStock, th.MonthlyStatus(0, 100, 0))
	assert.Equal(t, StatusLow, th.MonthlyStatus(19, 100, 0))
	assert.Equal(t, StatusSufficient, th.MonthlyStatus(20, 100, 0))
	assert.Equal(t, StatusLow, th.MonthlyStatus(199, 500, 500))
	assert.Equal(t, StatusSufficient, th.MonthlyStatus(5, 0, 0))
}

func TestCurrentInventory_GradesRows(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	noRecord := StockRow{DrugFormID: id.New(), DrugName: "Buprenorphine"}
	repo.On("DrugStock", mock.Anything, center).Return([]StockRow{row("Methadone", 1000, 0, 200), noRecord}, nil)

	inv, err := newTestService(repo, dels).CurrentInventory(context.Background(), center)
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, 2, inv.TotalDrugs)

	first := inv.Items[0]
	assert.Equal(t, AlertSufficient, first.AlertLevel)
	require.NotNil(t, first.RemainingPercentage)
	assert.True(t, decimal.NewFromInt(80).Equal(*first.RemainingPercentage))

	second := inv.Items[1]
	assert.Equal(t, AlertOutOfStock, second.AlertLevel)
	assert.Nil(t, second.RemainingPercentage)
	assert.Nil(t, second.Period())
	assert.Equal(t, "1402/02/11 08:00", inv.GeneratedAt)
}

func TestMonthlyReport_Summary(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	period := calendar.Period{Year: 1402, Month: 2}
	repo.On("PeriodStock", mock.Anything, center, period).Return([]StockRow{
		row("A", 1000, 0, 200), // sufficient
		row("B", 100, 0, 90),   // low (10 < 20)
		row("C", 50, 0, 50),    // out of stock
	}, nil)

	rep, err := newTestService(repo, dels).MonthlyReport(context.Background(), center, period)
	require.NoError(t, err)

	assert.Equal(t, "Ordibehesht", rep.MonthName)
	require.Len(t, rep.Items, 3)
	assert.Equal(t, StatusSufficient, rep.Items[0].Status)
	assert.Equal(t, StatusLow, rep.Items[1].Status)
	assert.Equal(t, StatusOutOfStock, rep.Items[2].Status)

	assert.Equal(t, MonthlySummary{
		TotalDrugs:      3,
		TotalInitial:    1150,
		TotalPurchased:  0,
		TotalDelivered:  340,
		TotalCurrent:    810,
		OutOfStockCount: 1,
		LowStockCount:   1,
	}, rep.Summary)
}

func TestMonthlyReport_EmptyPeriod(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	period := calendar.Period{Year: 1401, Month: 12}
	repo.On("PeriodStock", mock.Anything, center, period).Return([]StockRow(nil), nil)

	rep, err := newTestService(repo, dels).MonthlyReport(context.Background(), center, period)
	require.NoError(t, err)
	assert.Empty(t, rep.Items)
	assert.NotNil(t, rep.Items)
	assert.Equal(t, MonthlySummary{}, rep.Summary)
}

func TestMonthlyReport_InvalidPeriod(t *testing.T) {
	_, err := newTestService(&mockRepo{}, &mockDeliveries{}).
		MonthlyReport(context.Background(), id.New(), calendar.Period{Year: 1402, Month: 0})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestLowStockAlerts(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	latest := &calendar.Period{Year: 1402, Month: 2}
	repo.On("LatestPeriod", mock.Anything, center).Return(latest, nil)
	repo.On("PeriodStock", mock.Anything, center, *latest).Return([]StockRow{
		row("low", 400, 0, 0),
		row("fine", 900, 0, 0),
		row("critical", 50, 0, 0),
		row("empty", 10, 0, 10),
	}, nil)

	res, err := newTestService(repo, dels).LowStockAlerts(context.Background(), center)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 3)
	assert.Equal(t, "empty", res.Alerts[0].DrugName)
	assert.Equal(t, "critical", res.Alerts[1].DrugName)
	assert.Equal(t, "low", res.Alerts[2].DrugName)
	assert.Equal(t, 3, res.TotalAlerts)
	assert.Equal(t, 2, res.CriticalAlerts)
}

func TestLowStockAlerts_NoRecords(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	repo.On("LatestPeriod", mock.Anything, center).Return(nil, nil)

	res, err := newTestService(repo, dels).LowStockAlerts(context.Background(), center)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Nil(t, res.Period)
	repo.AssertNotCalled(t, "PeriodStock", mock.Anything, mock.Anything, mock.Anything)
}

func TestDashboard(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	latest := &calendar.Period{Year: 1402, Month: 2}
	repo.On("LatestPeriod", mock.Anything, center).Return(latest, nil)
	repo.On("PeriodStock", mock.Anything, center, *latest).Return([]StockRow{
		row("a", 1000, 0, 0),
		row("b", 300, 0, 0),
		row("c", 20, 0, 0),
		row("d", 0, 0, 0),
	}, nil)
	since := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	top := []TopDrug{{DrugName: "a", TotalDelivered: 300, DeliveryCount: 12}}
	repo.On("TopDrugs", mock.Anything, center, sameTime(since), 10).Return(top, nil)

	dash, err := newTestService(repo, dels).Dashboard(context.Background(), center)
	require.NoError(t, err)
	assert.Equal(t, DashboardStatistics{
		TotalDrugTypes:     4,
		TotalCurrentStock:  1320,
		OutOfStockCount:    1,
		CriticalStockCount: 1,
		LowStockCount:      1,
	}, dash.Statistics)
	assert.Equal(t, top, dash.TopDrugs)
	assert.Equal(t, "1402/02", dash.CurrentMonth)
}

func TestTransactionHistory(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	first, last := "Sara", "Ahmadi"
	views := []TransactionView{
		{Transaction: inventory.Transaction{Type: inventory.TransactionDelivery, TransactionDate: reportNow}, PatientFirstName: &first, PatientLastName: &last},
		{Transaction: inventory.Transaction{Type: inventory.TransactionAdjustment, Description: "broken vials"}},
	}
	repo.On("TransactionHistory", mock.Anything, center, mock.MatchedBy(func(f inventory.TransactionFilter) bool {
		return f.FromDate != nil && f.ToDate == nil && f.Limit == 100
	})).Return(views, nil)

	hist, err := newTestService(repo, dels).TransactionHistory(context.Background(), center, TransactionFilter{StartDate: "1402/01/01"})
	require.NoError(t, err)
	require.Len(t, hist.Items, 2)
	assert.Equal(t, "Delivery to patient Sara Ahmadi", hist.Items[0].DisplayText)
	assert.Equal(t, "1402/02/11", hist.Items[0].TransactionDateLocal)
	assert.Equal(t, "broken vials", hist.Items[1].DisplayText)
}

func TestTransactionHistory_RejectsBadInput(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockDeliveries{})
	bad := inventory.TransactionType("refund")

	_, err := svc.TransactionHistory(context.Background(), id.New(), TransactionFilter{Type: &bad})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.TransactionHistory(context.Background(), id.New(), TransactionFilter{EndDate: "1402/07/31"})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestDeliveryHistory(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	dels.On("List", mock.Anything, center, mock.MatchedBy(func(f inventory.DeliveryFilter) bool {
		return f.Limit == 1000 && f.Offset == 0
	})).Return([]inventory.DeliveryView(nil), nil)

	hist, err := newTestService(repo, dels).DeliveryHistory(context.Background(), center, DeliveryFilter{Limit: 5000, Offset: -3})
	require.NoError(t, err)
	assert.NotNil(t, hist.Items)
	assert.Equal(t, 0, hist.Total)
}

func TestCenterMonthlyReport(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	period := calendar.Period{Year: 1402, Month: 1}
	start := time.Date(2023, 3, 21, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 4, 20, 0, 0, 0, 0, time.UTC)

	ps := PatientStatistics{TotalPatients: 10, ActivePatients: 7, AbsentPatients: 2, CompletedPatients: 1}
	repo.On("PatientStatistics", mock.Anything, center, sameTime(end)).Return(ps, nil)
	repo.On("CountDeliveries", mock.Anything, center, sameTime(start), sameTime(end)).Return(int64(42), nil)
	want := CenterStatistics{PatientStatistics: ps, TotalDeliveries: 42}
	repo.On("SaveCenterMonthlyReport", mock.Anything, center, period, want).Return(nil)

	rep, err := newTestService(repo, dels).CenterMonthlyReport(context.Background(), center, period)
	require.NoError(t, err)
	assert.Equal(t, want, rep.Statistics)
	assert.Equal(t, "Farvardin", rep.MonthName)
	assert.Equal(t, 31, rep.DaysInMonth)
	repo.AssertExpectations(t)
}

func TestAbsentPatients(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	period := calendar.Period{Year: 1402, Month: 1}
	end := time.Date(2023, 4, 20, 0, 0, 0, 0, time.UTC)

	recent := end.AddDate(0, 0, -3)
	old := end.AddDate(0, 0, -20)
	boundary := end.AddDate(0, 0, -14)
	list := []patients.Patient{
		{ID: id.New(), FirstName: "recent", CreatedAt: old, LastDeliveryDate: &recent},
		{ID: id.New(), FirstName: "old", CreatedAt: old.AddDate(0, -1, 0), LastDeliveryDate: &old},
		{ID: id.New(), FirstName: "boundary", CreatedAt: old, LastDeliveryDate: &boundary},
		{ID: id.New(), FirstName: "never", CreatedAt: old},
		{ID: id.New(), FirstName: "new", CreatedAt: end.AddDate(0, 0, -1)},
	}
	repo.On("ActivePatientsLastDelivery", mock.Anything, center, sameTime(end)).Return(list, nil)

	rep, err := newTestService(repo, dels).AbsentPatients(context.Background(), center, period)
	require.NoError(t, err)
	require.Equal(t, 2, rep.AbsentCount)
	assert.Equal(t, "old", rep.Patients[0].FirstName)
	assert.Equal(t, 20, rep.Patients[0].DaysAbsent)
	assert.NotEmpty(t, rep.Patients[0].LastDeliveryLocal)
	assert.Equal(t, "never", rep.Patients[1].FirstName)
	assert.Empty(t, rep.Patients[1].LastDeliveryLocal)
}

type stubRenderer struct{ got *MonthlyReport }

func (r *stubRenderer) RenderMonthlyReport(w io.Writer, rep *MonthlyReport) error {
	r.got = rep
	_, err := w.Write([]byte("xlsx"))
	return err
}
func (r *stubRenderer) ContentType() string { return "application/octet-stream" }
func (r *stubRenderer) Extension() string   { return ".bin" }

func TestExportMonthlyReport(t *testing.T) {
	repo, dels := &mockRepo{}, &mockDeliveries{}
	center := id.New()
	period := calendar.Period{Year: 1402, Month: 2}
	repo.On("PeriodStock", mock.Anything, center, period).Return([]StockRow{row("A", 10, 0, 0)}, nil)

	r := &stubRenderer{}
	var buf bytes.Buffer
	err := newTestService(repo, dels, WithRenderer(r)).ExportMonthlyReport(context.Background(), center, period, &buf)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", buf.String())
	require.NotNil(t, r.got)
	assert.Len(t, r.got.Items, 1)

	err = newTestService(repo, dels).ExportMonthlyReport(context.Background(), center, period, &buf)
	assert.Error(t, err)
}
