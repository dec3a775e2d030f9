package inventory

import (
	"context"
	"time"

	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/patients"
)

// LedgerRepository stores monthly stock records.
// Methods run inside the caller's transaction when one is present in ctx;
// none of them opens its own.
type LedgerRepository interface {
	// GetCurrentStock returns current_stock of the most recent period of
	// (center, drug). A pair without records reads as zero.
	GetCurrentStock(ctx context.Context, centerID, drugID id.ID) (int64, error)

	// LockStock serializes mutations of (center, drug) for the rest of the
	// enclosing transaction and returns the latest current_stock read under
	// that lock. Waiting is bounded by the transaction's lock timeout.
	LockStock(ctx context.Context, centerID, drugID id.ID) (int64, error)

	// GetRecord returns the record of one period, or nil when none exists.
	GetRecord(ctx context.Context, centerID, drugID id.ID, period calendar.Period) (*MonthlyRecord, error)

	// ApplyDelta upserts the period record: a missing record is created
	// with the delta as absolute values, an existing one is updated additively.
	ApplyDelta(ctx context.Context, centerID, drugID id.ID, period calendar.Period, delta Delta) (MonthlyRecord, error)

	// ListRecords returns every period record of (center, drug), oldest first.
	ListRecords(ctx context.Context, centerID, drugID id.ID) ([]MonthlyRecord, error)
}

// TransactionLog is the append-only ledger audit trail.
type TransactionLog interface {
	// Append writes a new entry. Entries are never updated or deleted.
	Append(ctx context.Context, t *Transaction) error

	// List returns entries newest first.
	List(ctx context.Context, centerID id.ID, filter TransactionFilter) ([]Transaction, error)

	// SumDeltas adds up the quantity deltas of (center, drug) booked into
	// periods up to and including through (all entries when zero).
	SumDeltas(ctx context.Context, centerID, drugID id.ID, through calendar.Period) (int64, error)
}

// LotRepository is the purchased lot registry.
type LotRepository interface {
	Create(ctx context.Context, lot *Lot) error
	List(ctx context.Context, centerID id.ID, filter LotFilter) ([]Lot, error)
}

// DeliveryRepository stores dispensation rows.
type DeliveryRepository interface {
	Create(ctx context.Context, d *Delivery) error
	List(ctx context.Context, centerID id.ID, filter DeliveryFilter) ([]DeliveryView, error)
}

// DrugCatalog is the read-only drug form reference.
type DrugCatalog interface {
	// GetDrugForm returns apperror NotFound for unknown ids.
	GetDrugForm(ctx context.Context, drugID id.ID) (*DrugForm, error)
	ListActive(ctx context.Context) ([]DrugForm, error)
}

// PatientDirectory is the slice of the patient registry the coordinator needs.
type PatientDirectory interface {
	GetByID(ctx context.Context, centerID, patientID id.ID) (*patients.Patient, error)
	AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error
}

// CorrectionAuditor keeps before/after snapshots of initial-stock corrections.
type CorrectionAuditor interface {
	RecordCorrection(ctx context.Context, before *MonthlyRecord, after MonthlyRecord) error
}

// BatchNumberer generates lot batch numbers when the supplier gave none.
type BatchNumberer interface {
	NextBatchNumber(ctx context.Context, centerID id.ID, period calendar.Period) (string, error)
}

// Store groups the ledger repositories.
type Store struct {
	Ledger     LedgerRepository
	Log        TransactionLog
	Lots       LotRepository
	Deliveries DeliveryRepository
	Drugs      DrugCatalog
}

// TransactionFilter narrows TransactionLog.List.
type TransactionFilter struct {
	DrugFormID *id.ID
	Type       *TransactionType
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

// LotFilter narrows LotRepository.List.
type LotFilter struct {
	DrugFormID     *id.ID
	Status         *LotStatus
	ExpiringBefore *time.Time
	Limit          int
	Offset         int
}

// DeliveryFilter narrows DeliveryRepository.List.
type DeliveryFilter struct {
	PatientID *id.ID
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// DeliveryView is a delivery joined with patient and drug names.
type DeliveryView struct {
	Delivery
	PatientFirstName string `db:"first_name" json:"firstName"`
	PatientLastName  string `db:"last_name" json:"lastName"`
	DrugName         string `db:"drug_name" json:"drugName"`
	Strength         string `db:"strength" json:"strength"`
	Unit             string `db:"unit" json:"unit"`
	CategoryName     string `db:"category_name" json:"categoryName"`
}
