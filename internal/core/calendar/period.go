// Package calendar converts between the local (Jalali) calendar used by
// clinic staff and universal dates stored in the database, and derives the
// (year, month) period that buckets ledger records.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned for local dates that do not exist or cannot be parsed.
var ErrInvalidDate = errors.New("invalid local date")

// Period is a (year, month) bucket in the local calendar.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewPeriod validates and creates a Period.
func NewPeriod(year, month int) (Period, error) {
	if year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalidDate, year)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range", ErrInvalidDate, month)
	}
	return Period{Year: year, Month: month}, nil
}

// ParsePeriod parses "YYYY/MM" or "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	parts := splitDate(s)
	if len(parts) != 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	y, errY := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errY != nil || errM != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return NewPeriod(y, m)
}

// Key encodes the period as year*100+month. Ordering by Key is the
// period ordering used by "latest period" queries.
func (p Period) Key() int {
	return p.Year*100 + p.Month
}

// Before reports whether p is earlier than o.
func (p Period) Before(o Period) bool {
	return p.Key() < o.Key()
}

// Next returns the following period.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Prev returns the preceding period.
func (p Period) Prev() Period {
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

func (p Period) String() string {
	return fmt.Sprintf("%04d/%02d", p.Year, p.Month)
}

// PeriodInfo describes the universal date range covered by a period.
type PeriodInfo struct {
	Period      Period    `json:"period"`
	MonthName   string    `json:"monthName"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	DaysInMonth int       `json:"daysInMonth"`
}

// Adapter is the calendar contract consumed by the ledger.
type Adapter interface {
	// ToUniversal converts a local date string ("YYYY/MM/DD") to a universal
	// date at midnight. Invalid input returns an error wrapping ErrInvalidDate.
	ToUniversal(local string) (time.Time, error)

	// ToLocal renders t in the local calendar. layout understands the
	// tokens jYYYY, jMM and jDD.
	ToLocal(t time.Time, layout string) string

	// PeriodOf returns the local period containing t.
	PeriodOf(t time.Time) Period

	// PeriodInfo returns the universal start/end dates of a period.
	PeriodInfo(p Period) (PeriodInfo, error)

	// MonthName returns the month's name, or "" when out of range.
	MonthName(month int) string
}

// Common layouts for ToLocal.
const (
	LayoutDate     = "jYYYY/jMM/jDD"
	LayoutMonth    = "jYYYY/jMM"
	LayoutDateTime = "jYYYY/jMM/jDD 15:04"
)

func splitDate(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' })
}

func parseLocal(s string) (y, m, d int, err error) {
	parts := splitDate(s)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
