package reports

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/types"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/pkg/logger"
)

const (
	topDrugsLimit  = 10
	topDrugsWindow = 30 * 24 * time.Hour
)

// Renderer writes a monthly report in a file format.
type Renderer interface {
	RenderMonthlyReport(w io.Writer, r *MonthlyReport) error
	ContentType() string
	Extension() string
}

// Option configures Service.
type Option func(*Service)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// WithAbsenceDays overrides patients.DefaultAbsenceDays.
func WithAbsenceDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.absenceDays = days
		}
	}
}

// WithRenderer enables ExportMonthlyReport.
func WithRenderer(r Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service provides report generation operations.
type Service struct {
	repo        Repository
	deliveries  inventory.DeliveryRepository
	calendar    calendar.Adapter
	thresholds  Thresholds
	absenceDays int
	renderer    Renderer
	now         func() time.Time
}

// NewService creates a new reports service.
func NewService(repo Repository, deliveries inventory.DeliveryRepository, cal calendar.Adapter, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		deliveries:  deliveries,
		calendar:    cal,
		thresholds:  DefaultThresholds(),
		absenceDays: patients.DefaultAbsenceDays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) generatedAt() string {
	return s.calendar.ToLocal(s.now(), calendar.LayoutDateTime)
}

func (s *Service) grade(row StockRow) StockItem {
	return StockItem{
		StockRow:            row,
		AlertLevel:          s.thresholds.AlertLevel(row.CurrentStock),
		RemainingPercentage: types.Percentage(row.CurrentStock, row.InitialStock+row.PurchasedStock),
	}
}

// CurrentStock returns the latest stock of one drug.
func (s *Service) CurrentStock(ctx context.Context, centerID, drugID id.ID) (*DrugStock, error) {
	row, err := s.repo.DrugStockByID(ctx, centerID, drugID)
	if err != nil {
		return nil, fmt.Errorf("get drug stock: %w", err)
	}
	return &DrugStock{StockItem: s.grade(*row), GeneratedAt: s.generatedAt()}, nil
}

// CurrentInventory lists all active drug forms with their latest stock.
func (s *Service) CurrentInventory(ctx context.Context, centerID id.ID) (*CurrentInventory, error) {
	rows, err := s.repo.DrugStock(ctx, centerID)
	if err != nil {
		return nil, fmt.Errorf("get current inventory: %w", err)
	}
	items := make([]StockItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.grade(r))
	}
	return &CurrentInventory{Items: items, TotalDrugs: len(items), GeneratedAt: s.generatedAt()}, nil
}

// MonthlyReport returns the per-drug records of a period with a summary.
func (s *Service) MonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period) (*MonthlyReport, error) {
	if _, err := calendar.NewPeriod(period.Year, period.Month); err != nil {
		return nil, apperror.NewValidation("invalid period").WithDetail("period", period.String())
	}
	rows, err := s.repo.PeriodStock(ctx, centerID, period)
	if err != nil {
		return nil, fmt.Errorf("get period stock: %w", err)
	}

	report := &MonthlyReport{
		Period:      period,
		MonthName:   s.calendar.MonthName(period.Month),
		Items:       make([]MonthlyReportItem, 0, len(rows)),
		GeneratedAt: s.generatedAt(),
	}
	for _, r := range rows {
		item := MonthlyReportItem{
			StockRow:            r,
			CalculatedStock:     r.InitialStock + r.PurchasedStock - r.DeliveredStock,
			Status:              s.thresholds.MonthlyStatus(r.CurrentStock, r.InitialStock, r.PurchasedStock),
			RemainingPercentage: types.Percentage(r.CurrentStock, r.InitialStock+r.PurchasedStock),
		}
		report.Items = append(report.Items, item)

		sum := &report.Summary
		sum.TotalDrugs++
		sum.TotalInitial += r.InitialStock
		sum.TotalPurchased += r.PurchasedStock
		sum.TotalDelivered += r.DeliveredStock
		sum.TotalCurrent += r.CurrentStock
		switch item.Status {
		case StatusOutOfStock:
			sum.OutOfStockCount++
		case StatusLow:
			sum.LowStockCount++
		}
		if item.CalculatedStock != r.CurrentStock {
			logger.Warn(ctx, "monthly record out of balance",
				"drug_form_id", r.DrugFormID,
				"period", period.String(),
				"current_stock", r.CurrentStock,
				"calculated_stock", item.CalculatedStock,
			)
		}
	}
	return report, nil
}

// ExportMonthlyReport renders MonthlyReport with the configured renderer.
func (s *Service) ExportMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period, w io.Writer) error {
	if s.renderer == nil {
		return apperror.NewInternal(fmt.Errorf("no report renderer configured"))
	}
	report, err := s.MonthlyReport(ctx, centerID, period)
	if err != nil {
		return err
	}
	if err := s.renderer.RenderMonthlyReport(w, report); err != nil {
		return fmt.Errorf("render monthly report: %w", err)
	}
	return nil
}

// ExportFormat returns the content type and file extension of exports.
func (s *Service) ExportFormat() (contentType, ext string) {
	if s.renderer == nil {
		return "", ""
	}
	return s.renderer.ContentType(), s.renderer.Extension()
}

// latestRows returns the records of the center's latest period.
func (s *Service) latestRows(ctx context.Context, centerID id.ID) (*calendar.Period, []StockRow, error) {
	period, err := s.repo.LatestPeriod(ctx, centerID)
	if err != nil {
		return nil, nil, fmt.Errorf("get latest period: %w", err)
	}
	if period == nil {
		return nil, nil, nil
	}
	rows, err := s.repo.PeriodStock(ctx, centerID, *period)
	if err != nil {
		return nil, nil, fmt.Errorf("get period stock: %w", err)
	}
	return period, rows, nil
}

// LowStockAlerts returns drugs of the latest period below the low
// threshold, lowest stock first.
func (s *Service) LowStockAlerts(ctx context.Context, centerID id.ID) (*LowStockAlerts, error) {
	period, rows, err := s.latestRows(ctx, centerID)
	if err != nil {
		return nil, err
	}

	res := &LowStockAlerts{Period: period, Alerts: []StockItem{}, GeneratedAt: s.generatedAt()}
	for _, r := range rows {
		item := s.grade(r)
		switch item.AlertLevel {
		case AlertOutOfStock, AlertCritical:
			res.CriticalAlerts++
		case AlertSufficient:
			continue
		}
		res.Alerts = append(res.Alerts, item)
	}
	sort.SliceStable(res.Alerts, func(i, j int) bool {
		return res.Alerts[i].CurrentStock < res.Alerts[j].CurrentStock
	})
	res.TotalAlerts = len(res.Alerts)
	return res, nil
}

// TransactionHistory returns the log newest first.
func (s *Service) TransactionHistory(ctx context.Context, centerID id.ID, filter TransactionFilter) (*TransactionHistory, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, apperror.NewValidation("unknown transaction type").
			WithDetail("field", "transaction_type").
			WithDetail("value", string(*filter.Type))
	}
	from, to, err := inventory.ParseLocalRange(s.calendar, filter.StartDate, filter.EndDate)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.TransactionHistory(ctx, centerID, inventory.TransactionFilter{
		DrugFormID: filter.DrugFormID,
		Type:       filter.Type,
		FromDate:   from,
		ToDate:     to,
		Limit:      clampLimit(filter.Limit),
		Offset:     max(filter.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction history: %w", err)
	}
	for i := range items {
		items[i].DisplayText = describe(items[i])
		items[i].TransactionDateLocal = s.calendar.ToLocal(items[i].TransactionDate, calendar.LayoutDate)
	}
	return &TransactionHistory{Items: items, Total: len(items), GeneratedAt: s.generatedAt()}, nil
}

func describe(t TransactionView) string {
	switch t.Type {
	case inventory.TransactionDelivery:
		if t.PatientFirstName != nil {
			name := *t.PatientFirstName
			if t.PatientLastName != nil && *t.PatientLastName != "" {
				name += " " + *t.PatientLastName
			}
			return "Delivery to patient " + name
		}
		return "Delivery"
	case inventory.TransactionPurchase:
		return "Drug purchase"
	case inventory.TransactionInitial:
		return "Initial stock"
	}
	return t.Description
}

// Dashboard summarizes the latest period and the most delivered drugs of
// the last 30 days.
func (s *Service) Dashboard(ctx context.Context, centerID id.ID) (*Dashboard, error) {
	period, rows, err := s.latestRows(ctx, centerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	dash := &Dashboard{
		Period:       period,
		CurrentMonth: s.calendar.ToLocal(now, calendar.LayoutMonth),
		GeneratedAt:  s.generatedAt(),
	}
	for _, r := range rows {
		st := &dash.Statistics
		st.TotalDrugTypes++
		st.TotalCurrentStock += r.CurrentStock
		switch s.thresholds.AlertLevel(r.CurrentStock) {
		case AlertOutOfStock:
			st.OutOfStockCount++
		case AlertCritical:
			st.CriticalStockCount++
		case AlertLow:
			st.LowStockCount++
		}
	}

	dash.TopDrugs, err = s.repo.TopDrugs(ctx, centerID, dayStart(now.Add(-topDrugsWindow)), topDrugsLimit)
	if err != nil {
		return nil, fmt.Errorf("get top drugs: %w", err)
	}
	if dash.TopDrugs == nil {
		dash.TopDrugs = []TopDrug{}
	}
	return dash, nil
}

// DeliveryHistory returns the deliveries of a center newest first.
func (s *Service) DeliveryHistory(ctx context.Context, centerID id.ID, filter DeliveryFilter) (*DeliveryHistory, error) {
	from, to, err := inventory.ParseLocalRange(s.calendar, filter.StartDate, filter.EndDate)
	if err != nil {
		return nil, err
	}
	items, err := s.deliveries.List(ctx, centerID, inventory.DeliveryFilter{
		PatientID: filter.PatientID,
		FromDate:  from,
		ToDate:    to,
		Limit:     clampLimit(filter.Limit),
		Offset:    max(filter.Offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("get delivery history: %w", err)
	}
	if items == nil {
		items = []inventory.DeliveryView{}
	}
	return &DeliveryHistory{Items: items, Total: len(items)}, nil
}

// CenterMonthlyReport counts patients by status and the period's
// deliveries, and stores the result in monthly_reports.
func (s *Service) CenterMonthlyReport(ctx context.Context, centerID id.ID, period calendar.Period) (*CenterMonthlyReport, error) {
	info, err := s.calendar.PeriodInfo(period)
	if err != nil {
		return nil, apperror.NewValidation("invalid period").WithDetail("period", period.String())
	}

	patientStats, err := s.repo.PatientStatistics(ctx, centerID, info.EndDate)
	if err != nil {
		return nil, fmt.Errorf("get patient statistics: %w", err)
	}
	deliveries, err := s.repo.CountDeliveries(ctx, centerID, info.StartDate, info.EndDate)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	stats := CenterStatistics{PatientStatistics: patientStats, TotalDeliveries: deliveries}
	if err := s.repo.SaveCenterMonthlyReport(ctx, centerID, period, stats); err != nil {
		return nil, fmt.Errorf("save monthly report: %w", err)
	}

	return &CenterMonthlyReport{PeriodInfo: info, Statistics: stats}, nil
}

// AbsentPatients lists active patients whose last delivery (or registration
// when they never received one) is more than the absence threshold before
// the period's end.
func (s *Service) AbsentPatients(ctx context.Context, centerID id.ID, period calendar.Period) (*AbsentPatientsReport, error) {
	info, err := s.calendar.PeriodInfo(period)
	if err != nil {
		return nil, apperror.NewValidation("invalid period").WithDetail("period", period.String())
	}

	candidates, err := s.repo.ActivePatientsLastDelivery(ctx, centerID, info.EndDate)
	if err != nil {
		return nil, fmt.Errorf("get active patients: %w", err)
	}

	report := &AbsentPatientsReport{
		Period:    period,
		MonthName: info.MonthName,
		Patients:  []AbsentPatient{},
	}
	for _, p := range candidates {
		days := patients.DaysBetween(p.ReferenceDate(), info.EndDate)
		if days <= s.absenceDays {
			continue
		}
		ap := AbsentPatient{
			Patient:        p,
			CreatedAtLocal: s.calendar.ToLocal(p.CreatedAt, calendar.LayoutDate),
			DaysAbsent:     days,
		}
		if p.LastDeliveryDate != nil {
			ap.LastDeliveryLocal = s.calendar.ToLocal(*p.LastDeliveryDate, calendar.LayoutDate)
		}
		report.Patients = append(report.Patients, ap)
	}
	report.AbsentCount = len(report.Patients)
	return report, nil
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
