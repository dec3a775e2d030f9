package dto

import (
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/domain/reports"
)

// TransactionsQuery filters GET /inventory/transactions. Dates are local.
type TransactionsQuery struct {
	CenterQuery
	PageQuery
	DrugFormID string `form:"drug_form_id"`
	Type       string `form:"type" binding:"omitempty,oneof=purchase delivery initial adjustment"`
	StartDate  string `form:"start_date"`
	EndDate    string `form:"end_date"`
}

// ToFilter converts to the reports filter.
func (q *TransactionsQuery) ToFilter() (reports.TransactionFilter, error) {
	drugID, err := parseOptionalID("drug_form_id", q.DrugFormID)
	if err != nil {
		return reports.TransactionFilter{}, err
	}
	f := reports.TransactionFilter{
		DrugFormID: drugID,
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	if q.Type != "" {
		t := inventory.TransactionType(q.Type)
		f.Type = &t
	}
	return f, nil
}

// DeliveriesQuery filters GET /deliveries. Dates are local.
type DeliveriesQuery struct {
	CenterQuery
	PageQuery
	PatientID string `form:"patient_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

// ToFilter converts to the reports filter.
func (q *DeliveriesQuery) ToFilter() (reports.DeliveryFilter, error) {
	patientID, err := parseOptionalID("patient_id", q.PatientID)
	if err != nil {
		return reports.DeliveryFilter{}, err
	}
	return reports.DeliveryFilter{
		PatientID: patientID,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}, nil
}

// RollupResponse reports an on-demand status rollup.
type RollupResponse struct {
	Skipped bool `json:"skipped"`
	patients.RollupResult
}

// ParseDrugID parses the :drugId path parameter.
func ParseDrugID(value string) (id.ID, error) {
	return parseID("drugId", value)
}
