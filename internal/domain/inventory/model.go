// Package inventory implements the per-center drug stock ledger: monthly
// stock records, the append-only transaction log, purchased lots and the
// delivery coordinator that ties them together in one atomic unit.
package inventory

import (
	"time"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/core/types"
)

// TransactionType classifies ledger log entries.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionDelivery   TransactionType = "delivery"
	TransactionInitial    TransactionType = "initial"
	TransactionAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionDelivery, TransactionInitial, TransactionAdjustment:
		return true
	}
	return false
}

// LotStatus is the lifecycle state of a purchased lot.
type LotStatus string

const (
	LotActive   LotStatus = "active"
	LotDepleted LotStatus = "depleted"
	LotExpired  LotStatus = "expired"
)

// DrugForm is reference data for a deliverable drug.
type DrugForm struct {
	ID           id.ID  `db:"id" json:"id"`
	CategoryID   id.ID  `db:"category_id" json:"categoryId"`
	CategoryName string `db:"category_name" json:"categoryName"`
	Name         string `db:"name" json:"name"`
	Strength     string `db:"strength" json:"strength"`
	Unit         string `db:"unit" json:"unit"`
	DosageUnit   string `db:"dosage_unit" json:"dosageUnit"`
	IsActive     bool   `db:"is_active" json:"isActive"`
}

// PeriodKey is the flattened (year, month) columns of a period-keyed row.
type PeriodKey struct {
	PeriodYear  int `db:"period_year" json:"periodYear"`
	PeriodMonth int `db:"period_month" json:"periodMonth"`
}

// KeyOf converts a calendar period to its column form.
func KeyOf(p calendar.Period) PeriodKey {
	return PeriodKey{PeriodYear: p.Year, PeriodMonth: p.Month}
}

// Period returns the structured period.
func (k PeriodKey) Period() calendar.Period {
	return calendar.Period{Year: k.PeriodYear, Month: k.PeriodMonth}
}

// MonthlyRecord is the mutable stock counter set of one (center, drug, period).
// After every committed mutation Current == Initial + Purchased - Delivered.
type MonthlyRecord struct {
	CenterID   id.ID `db:"center_id" json:"centerId"`
	DrugFormID id.ID `db:"drug_form_id" json:"drugFormId"`
	PeriodKey
	InitialStock   int64     `db:"initial_stock" json:"initialStock"`
	PurchasedStock int64     `db:"purchased_stock" json:"purchasedStock"`
	DeliveredStock int64     `db:"delivered_stock" json:"deliveredStock"`
	CurrentStock   int64     `db:"current_stock" json:"currentStock"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Balanced checks the ledger identity.
func (r MonthlyRecord) Balanced() bool {
	return r.CurrentStock == r.InitialStock+r.PurchasedStock-r.DeliveredStock
}

// Delta is a signed change applied to a monthly record.
// Current stock moves by Initial + Purchased - Delivered.
type Delta struct {
	Initial   int64
	Purchased int64
	Delivered int64
}

// Current is the change to current_stock implied by the delta.
func (d Delta) Current() int64 {
	return d.Initial + d.Purchased - d.Delivered
}

// Apply returns r with the delta added. A zero-value r stands for a record
// that does not exist yet, in which case the deltas become the absolute values.
func (d Delta) Apply(r MonthlyRecord) MonthlyRecord {
	r.InitialStock += d.Initial
	r.PurchasedStock += d.Purchased
	r.DeliveredStock += d.Delivered
	r.CurrentStock += d.Current()
	return r
}

// Lot is one purchased batch. Its quantity is folded into exactly one
// monthly record when it is created.
type Lot struct {
	ID                id.ID       `db:"id" json:"id"`
	CenterID          id.ID       `db:"center_id" json:"centerId"`
	DrugFormID        id.ID       `db:"drug_form_id" json:"drugFormId"`
	BatchNumber       string      `db:"batch_number" json:"batchNumber"`
	Quantity          int64       `db:"quantity" json:"quantity"`
	RemainingQuantity int64       `db:"remaining_quantity" json:"remainingQuantity"`
	UnitCost          types.Money `db:"unit_cost" json:"unitCost"`
	Supplier          string      `db:"supplier" json:"supplier"`
	PurchaseDate      time.Time   `db:"purchase_date" json:"purchaseDate"`
	PurchaseDateLocal string      `db:"purchase_date_local" json:"purchaseDateLocal"`
	ExpiryDate        *time.Time  `db:"expiry_date" json:"expiryDate,omitempty"`
	StorageConditions string      `db:"storage_conditions" json:"storageConditions,omitempty"`
	Status            LotStatus   `db:"status" json:"status"`
	PeriodKey
	Notes     string    `db:"notes" json:"notes,omitempty"`
	CreatedBy *id.ID    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TotalCost is quantity * unit cost.
func (l Lot) TotalCost() types.Money {
	return types.LotValue(l.Quantity, l.UnitCost)
}

// IsExpiredAt reports whether the lot's expiry date is before t.
func (l Lot) IsExpiredAt(t time.Time) bool {
	return l.ExpiryDate != nil && l.ExpiryDate.Before(t)
}

// Transaction is an immutable ledger log entry.
type Transaction struct {
	ID               id.ID           `db:"id" json:"id"`
	CenterID         id.ID           `db:"center_id" json:"centerId"`
	DrugFormID       id.ID           `db:"drug_form_id" json:"drugFormId"`
	Type             TransactionType `db:"transaction_type" json:"type"`
	Quantity         int64           `db:"quantity" json:"quantity"`
	PreviousQuantity int64           `db:"previous_quantity" json:"previousQuantity"`
	NewQuantity      int64           `db:"new_quantity" json:"newQuantity"`
	ReferenceID      *id.ID          `db:"reference_id" json:"referenceId,omitempty"`
	ReferenceType    string          `db:"reference_type" json:"referenceType,omitempty"`
	PeriodKey
	TransactionDate      time.Time `db:"transaction_date" json:"transactionDate"`
	TransactionDateLocal string    `db:"transaction_date_local" json:"transactionDateLocal"`
	Description          string    `db:"description" json:"description,omitempty"`
	CreatedBy            *id.ID    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"createdAt"`
}

// Delivery is one dispensation to a patient. Never mutated after creation.
type Delivery struct {
	ID                id.ID     `db:"id" json:"id"`
	CenterID          id.ID     `db:"center_id" json:"centerId"`
	PatientID         id.ID     `db:"patient_id" json:"patientId"`
	DrugFormID        id.ID     `db:"drug_form_id" json:"drugFormId"`
	Quantity          int64     `db:"quantity" json:"quantity"`
	ActualDosage      string    `db:"actual_dosage" json:"actualDosage,omitempty"`
	DeliveryDateLocal string    `db:"delivery_date_local" json:"deliveryDateLocal"`
	DeliveryDate      time.Time `db:"delivery_date" json:"deliveryDate"`
	Notes             string    `db:"notes" json:"notes,omitempty"`
	CreatedBy         *id.ID    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}
