package dto

import (
	"github.com/shopspring/decimal"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/inventory"
)

// DeliveryRequest records a dispensation. Dates are local (YYYY/MM/DD).
type DeliveryRequest struct {
	CenterID     string `json:"centerId"`
	PatientID    string `json:"patientId" binding:"required"`
	DrugFormID   string `json:"drugFormId" binding:"required"`
	Quantity     int64  `json:"quantity" binding:"required"`
	ActualDosage string `json:"actualDosage"`
	DeliveryDate string `json:"deliveryDate" binding:"required"`
	Notes        string `json:"notes"`
}

// ToDomain converts to the coordinator request for centerID.
func (r *DeliveryRequest) ToDomain(centerID id.ID) (inventory.DeliveryRequest, error) {
	patientID, err := parseID("patientId", r.PatientID)
	if err != nil {
		return inventory.DeliveryRequest{}, err
	}
	drugID, err := parseID("drugFormId", r.DrugFormID)
	if err != nil {
		return inventory.DeliveryRequest{}, err
	}
	return inventory.DeliveryRequest{
		CenterID:     centerID,
		PatientID:    patientID,
		DrugFormID:   drugID,
		Quantity:     r.Quantity,
		ActualDosage: r.ActualDosage,
		DeliveryDate: r.DeliveryDate,
		Notes:        r.Notes,
	}, nil
}

// PurchaseRequest records a purchased lot.
type PurchaseRequest struct {
	CenterID          string          `json:"centerId"`
	DrugFormID        string          `json:"drugFormId" binding:"required"`
	BatchNumber       string          `json:"batchNumber"`
	Quantity          int64           `json:"quantity" binding:"required"`
	UnitCost          decimal.Decimal `json:"unitCost"`
	Supplier          string          `json:"supplier"`
	PurchaseDate      string          `json:"purchaseDate" binding:"required"`
	ExpiryDate        string          `json:"expiryDate"`
	StorageConditions string          `json:"storageConditions"`
	Notes             string          `json:"notes"`
}

// ToDomain converts to the domain request for centerID.
func (r *PurchaseRequest) ToDomain(centerID id.ID) (inventory.PurchaseRequest, error) {
	drugID, err := parseID("drugFormId", r.DrugFormID)
	if err != nil {
		return inventory.PurchaseRequest{}, err
	}
	return inventory.PurchaseRequest{
		CenterID:          centerID,
		DrugFormID:        drugID,
		BatchNumber:       r.BatchNumber,
		Quantity:          r.Quantity,
		UnitCost:          r.UnitCost,
		Supplier:          r.Supplier,
		PurchaseDate:      r.PurchaseDate,
		ExpiryDate:        r.ExpiryDate,
		StorageConditions: r.StorageConditions,
		Notes:             r.Notes,
	}, nil
}

// InitialStockRequest sets a period's opening balance.
type InitialStockRequest struct {
	CenterID   string `json:"centerId"`
	DrugFormID string `json:"drugFormId" binding:"required"`
	Year       int    `json:"year" binding:"required"`
	Month      int    `json:"month" binding:"required"`
	Quantity   int64  `json:"quantity"`
	Notes      string `json:"notes"`
}

// ToDomain converts to the domain request for centerID.
func (r *InitialStockRequest) ToDomain(centerID id.ID) (inventory.InitialStockRequest, error) {
	drugID, err := parseID("drugFormId", r.DrugFormID)
	if err != nil {
		return inventory.InitialStockRequest{}, err
	}
	return inventory.InitialStockRequest{
		CenterID:   centerID,
		DrugFormID: drugID,
		Period:     calendar.Period{Year: r.Year, Month: r.Month},
		Quantity:   r.Quantity,
		Notes:      r.Notes,
	}, nil
}

// AdjustmentRequest is a signed manual correction.
type AdjustmentRequest struct {
	CenterID   string `json:"centerId"`
	DrugFormID string `json:"drugFormId" binding:"required"`
	Year       int    `json:"year" binding:"required"`
	Month      int    `json:"month" binding:"required"`
	Delta      int64  `json:"delta" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

// ToDomain converts to the domain request for centerID.
func (r *AdjustmentRequest) ToDomain(centerID id.ID) (inventory.AdjustmentRequest, error) {
	drugID, err := parseID("drugFormId", r.DrugFormID)
	if err != nil {
		return inventory.AdjustmentRequest{}, err
	}
	return inventory.AdjustmentRequest{
		CenterID:   centerID,
		DrugFormID: drugID,
		Period:     calendar.Period{Year: r.Year, Month: r.Month},
		Delta:      r.Delta,
		Reason:     r.Reason,
	}, nil
}

// LotsQuery filters GET /inventory/lots.
type LotsQuery struct {
	CenterQuery
	PageQuery
	DrugFormID     string `form:"drug_form_id"`
	Status         string `form:"status" binding:"omitempty,oneof=active depleted expired"`
	ExpiringBefore string `form:"expiring_before"` // local date
}

// DrugFormFilter returns the parsed drug filter.
func (q *LotsQuery) DrugFormFilter() (*id.ID, error) {
	return parseOptionalID("drug_form_id", q.DrugFormID)
}
