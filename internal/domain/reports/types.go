// Package reports provides the read-only alerting and reporting engine over
// the stock ledger. Absent data renders as empty or zero, never as an error.
package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
)

// AlertLevel grades the latest stock of a drug.
type AlertLevel string

const (
	AlertOutOfStock AlertLevel = "out_of_stock"
	AlertCritical   AlertLevel = "critical"
	AlertLow        AlertLevel = "low"
	AlertSufficient AlertLevel = "sufficient"
)

// StockStatus grades a monthly record against what the month received.
type StockStatus string

const (
	StatusOutOfStock StockStatus = "out_of_stock"
	StatusLow        StockStatus = "low"
	StatusSufficient StockStatus = "sufficient"
)

// Thresholds are the alerting cut-offs.
type Thresholds struct {
	Critical    int64           // current below this is critical
	Low         int64           // current below this is low
	LowFraction decimal.Decimal // monthly status is low below this share of initial+purchased
}

// DefaultThresholds returns 100 / 500 / 20%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical:    100,
		Low:         500,
		LowFraction: decimal.NewFromFloat(0.2),
	}
}

// AlertLevel classifies a current stock value.
func (t Thresholds) AlertLevel(current int64) AlertLevel {
	switch {
	case current <= 0:
		return AlertOutOfStock
	case current < t.Critical:
		return AlertCritical
	case current < t.Low:
		return AlertLow
	default:
		return AlertSufficient
	}
}

// MonthlyStatus classifies a monthly record.
func (t Thresholds) MonthlyStatus(current, initial, purchased int64) StockStatus {
	if current <= 0 {
		return StatusOutOfStock
	}
	received := decimal.NewFromInt(initial + purchased)
	if decimal.NewFromInt(current).LessThan(received.Mul(t.LowFraction)) {
		return StatusLow
	}
	return StatusSufficient
}

// StockRow is a drug form joined with one of its monthly records. Period
// columns are nil when the drug has no record.
type StockRow struct {
	DrugFormID     id.ID  `db:"drug_form_id" json:"drugFormId"`
	DrugName       string `db:"drug_name" json:"drugName"`
	Strength       string `db:"strength" json:"strength"`
	Unit           string `db:"unit" json:"unit"`
	DosageUnit     string `db:"dosage_unit" json:"dosageUnit,omitempty"`
	CategoryName   string `db:"category_name" json:"categoryName"`
	PeriodYear     *int   `db:"period_year" json:"periodYear,omitempty"`
	PeriodMonth    *int   `db:"period_month" json:"periodMonth,omitempty"`
	InitialStock   int64  `db:"initial_stock" json:"initialStock"`
	PurchasedStock int64  `db:"purchased_stock" json:"purchasedStock"`
	DeliveredStock int64  `db:"delivered_stock" json:"deliveredStock"`
	CurrentStock   int64  `db:"current_stock" json:"currentStock"`
}

// Period returns the row's period, nil when the drug has no record.
func (r StockRow) Period() *calendar.Period {
	if r.PeriodYear == nil || r.PeriodMonth == nil {
		return nil
	}
	return &calendar.Period{Year: *r.PeriodYear, Month: *r.PeriodMonth}
}

// StockItem is a StockRow graded for alerting.
type StockItem struct {
	StockRow
	AlertLevel          AlertLevel       `json:"alertLevel"`
	RemainingPercentage *decimal.Decimal `json:"remainingPercentage"`
}

// CurrentInventory lists every active drug form with its latest stock.
type CurrentInventory struct {
	Items       []StockItem `json:"items"`
	TotalDrugs  int         `json:"totalDrugs"`
	GeneratedAt string      `json:"generatedAt"`
}

// DrugStock is the latest stock of one drug.
type DrugStock struct {
	StockItem
	GeneratedAt string `json:"generatedAt"`
}

// MonthlyReportItem is one drug's record for the requested period.
type MonthlyReportItem struct {
	StockRow
	CalculatedStock     int64            `json:"calculatedStock"`
	Status              StockStatus      `json:"status"`
	RemainingPercentage *decimal.Decimal `json:"remainingPercentage"`
}

// MonthlySummary aggregates a monthly report.
type MonthlySummary struct {
	TotalDrugs      int   `json:"totalDrugs"`
	TotalInitial    int64 `json:"totalInitial"`
	TotalPurchased  int64 `json:"totalPurchased"`
	TotalDelivered  int64 `json:"totalDelivered"`
	TotalCurrent    int64 `json:"totalCurrent"`
	OutOfStockCount int   `json:"outOfStockCount"`
	LowStockCount   int   `json:"lowStockCount"`
}

// MonthlyReport is the per-drug stock report of one period.
type MonthlyReport struct {
	Period      calendar.Period     `json:"period"`
	MonthName   string              `json:"monthName"`
	Items       []MonthlyReportItem `json:"items"`
	Summary     MonthlySummary      `json:"summary"`
	GeneratedAt string              `json:"generatedAt"`
}

// LowStockAlerts lists drugs below the low threshold in the latest period,
// lowest stock first.
type LowStockAlerts struct {
	Period         *calendar.Period `json:"period,omitempty"`
	Alerts         []StockItem      `json:"alerts"`
	TotalAlerts    int              `json:"totalAlerts"`
	CriticalAlerts int              `json:"criticalAlerts"`
	GeneratedAt    string           `json:"generatedAt"`
}

// TransactionView is a log entry joined with names for display.
type TransactionView struct {
	inventory.Transaction
	DrugName         string  `db:"drug_name" json:"drugName"`
	Strength         string  `db:"strength" json:"strength"`
	Unit             string  `db:"unit" json:"unit"`
	CreatedByName    *string `db:"created_by_name" json:"createdByName,omitempty"`
	PatientFirstName *string `db:"patient_first_name" json:"-"`
	PatientLastName  *string `db:"patient_last_name" json:"-"`
	DisplayText      string  `db:"-" json:"displayText"`
}

// TransactionHistory is a page of the transaction log, newest first.
type TransactionHistory struct {
	Items       []TransactionView `json:"items"`
	Total       int               `json:"total"`
	GeneratedAt string            `json:"generatedAt"`
}

// DashboardStatistics summarizes the latest period.
type DashboardStatistics struct {
	TotalDrugTypes     int   `json:"totalDrugTypes"`
	TotalCurrentStock  int64 `json:"totalCurrentStock"`
	OutOfStockCount    int   `json:"outOfStockCount"`
	CriticalStockCount int   `json:"criticalStockCount"`
	LowStockCount      int   `json:"lowStockCount"`
}

// TopDrug is a drug ranked by quantity delivered.
type TopDrug struct {
	DrugFormID     id.ID  `db:"drug_form_id" json:"drugFormId"`
	DrugName       string `db:"drug_name" json:"drugName"`
	CategoryName   string `db:"category_name" json:"categoryName"`
	TotalDelivered int64  `db:"total_delivered" json:"totalDelivered"`
	DeliveryCount  int64  `db:"delivery_count" json:"deliveryCount"`
}

// Dashboard is the inventory overview of a center.
type Dashboard struct {
	Period       *calendar.Period    `json:"period,omitempty"`
	Statistics   DashboardStatistics `json:"statistics"`
	TopDrugs     []TopDrug           `json:"topDrugs"`
	CurrentMonth string              `json:"currentMonth"`
	GeneratedAt  string              `json:"generatedAt"`
}

// DeliveryHistory is a page of deliveries, newest first.
type DeliveryHistory struct {
	Items []inventory.DeliveryView `json:"items"`
	Total int                      `json:"total"`
}

// PatientStatistics counts patients by status.
type PatientStatistics struct {
	TotalPatients     int64 `db:"total_patients" json:"totalPatients"`
	ActivePatients    int64 `db:"active_patients" json:"activePatients"`
	AbsentPatients    int64 `db:"absent_patients" json:"absentPatients"`
	CompletedPatients int64 `db:"completed_patients" json:"completedPatients"`
}

// CenterStatistics is PatientStatistics plus the period's delivery count.
type CenterStatistics struct {
	PatientStatistics
	TotalDeliveries int64 `json:"totalDeliveries"`
}

// CenterMonthlyReport is the patient/delivery summary of one period.
type CenterMonthlyReport struct {
	calendar.PeriodInfo
	Statistics CenterStatistics `json:"statistics"`
}

// AbsentPatient is an active patient without a recent delivery.
type AbsentPatient struct {
	patients.Patient
	LastDeliveryLocal string `json:"lastDeliveryLocal,omitempty"`
	CreatedAtLocal    string `json:"createdAtLocal"`
	DaysAbsent        int    `json:"daysAbsent"` // counted from registration when there was no delivery
}

// AbsentPatientsReport lists absent patients as of a period's end.
type AbsentPatientsReport struct {
	Period      calendar.Period `json:"period"`
	MonthName   string          `json:"monthName"`
	AbsentCount int             `json:"absentCount"`
	Patients    []AbsentPatient `json:"patients"`
}

// TransactionFilter narrows TransactionHistory. Dates are local.
type TransactionFilter struct {
	DrugFormID *id.ID
	Type       *inventory.TransactionType
	StartDate  string
	EndDate    string
	Limit      int
	Offset     int
}

// DeliveryFilter narrows DeliveryHistory. Dates are local.
type DeliveryFilter struct {
	PatientID *id.ID
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// dayStart truncates t to midnight UTC.
func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
