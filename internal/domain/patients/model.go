// Package patients holds the patient directory consumed by the delivery
// coordinator and the periodic status rollup.
package patients

import (
	"time"

	"clinicstock/internal/core/id"
)

// Status is the presence status of a patient.
type Status string

const (
	StatusActive    Status = "active"
	StatusAbsent    Status = "absent"
	StatusCompleted Status = "completed"
)

// DefaultAbsenceDays is the number of days without a delivery after which a
// patient is considered absent.
const DefaultAbsenceDays = 14

// Patient is the directory view of a patient. Demographics live elsewhere.
type Patient struct {
	ID               id.ID      `db:"id" json:"id"`
	CenterID         id.ID      `db:"center_id" json:"centerId"`
	FirstName        string     `db:"first_name" json:"firstName"`
	LastName         string     `db:"last_name" json:"lastName"`
	Status           Status     `db:"status" json:"status"`
	LastDeliveryDate *time.Time `db:"last_delivery_date" json:"lastDeliveryDate,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// IsDeleted reports whether the patient was soft-deleted.
func (p Patient) IsDeleted() bool {
	return p.DeletedAt != nil
}

// ReferenceDate is the later of the last delivery and the registration date.
func (p Patient) ReferenceDate() time.Time {
	if p.LastDeliveryDate != nil && p.LastDeliveryDate.After(p.CreatedAt) {
		return *p.LastDeliveryDate
	}
	return p.CreatedAt
}

// EvaluateStatus returns the status the rollup assigns to p at now.
// Completed and deleted patients keep their status.
func EvaluateStatus(p Patient, now time.Time, absenceDays int) Status {
	if p.IsDeleted() || p.Status == StatusCompleted {
		return p.Status
	}
	if DaysBetween(p.ReferenceDate(), now) > absenceDays {
		return StatusAbsent
	}
	return StatusActive
}

// DaysBetween counts calendar days from a to b, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
