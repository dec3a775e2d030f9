package calendar

import (
	"fmt"
	"strings"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"
)

var monthNames = [...]string{
	"Farvardin", "Ordibehesht", "Khordad",
	"Tir", "Mordad", "Shahrivar",
	"Mehr", "Aban", "Azar",
	"Dey", "Bahman", "Esfand",
}

// Jalali implements Adapter for the Solar Hijri calendar.
type Jalali struct {
	loc *time.Location
}

var _ Adapter = (*Jalali)(nil)

// NewJalali creates the adapter. Universal dates are produced in loc
// (UTC when nil), truncated to midnight.
func NewJalali(loc *time.Location) *Jalali {
	if loc == nil {
		loc = time.UTC
	}
	return &Jalali{loc: loc}
}

func (j *Jalali) firstOf(p Period) time.Time {
	return ptime.Date(p.Year, ptime.Month(p.Month), 1, 0, 0, 0, 0, j.loc).Time()
}

// daysIn returns the length of a month. The first six months have 31 days,
// the next five 30, and Esfand 29 or 30 depending on the leap cycle.
func (j *Jalali) daysIn(p Period) int {
	switch {
	case p.Month <= 6:
		return 31
	case p.Month <= 11:
		return 30
	}
	start := j.firstOf(p)
	next := j.firstOf(p.Next())
	return int(next.Sub(start).Hours()/24 + 0.5)
}

func (j *Jalali) date(y, m, d int) (time.Time, bool) {
	p, err := NewPeriod(y, m)
	if err != nil || d < 1 || d > j.daysIn(p) {
		return time.Time{}, false
	}
	return j.firstOf(p).AddDate(0, 0, d-1), true
}

// ToUniversal implements Adapter.
func (j *Jalali) ToUniversal(local string) (time.Time, error) {
	y, m, d, err := parseLocal(local)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := j.date(y, m, d)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, local)
	}
	return t, nil
}

// IsValid reports whether local is an existing local date.
func (j *Jalali) IsValid(local string) bool {
	_, err := j.ToUniversal(local)
	return err == nil
}

// ToLocal implements Adapter.
func (j *Jalali) ToLocal(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	lt := t.In(j.loc)
	pt := ptime.New(lt)
	r := strings.NewReplacer(
		"jYYYY", fmt.Sprintf("%04d", pt.Year()),
		"jMM", fmt.Sprintf("%02d", int(pt.Month())),
		"jDD", fmt.Sprintf("%02d", pt.Day()),
		"15:04", lt.Format("15:04"),
	)
	return r.Replace(layout)
}

// PeriodOf implements Adapter.
func (j *Jalali) PeriodOf(t time.Time) Period {
	pt := ptime.New(t.In(j.loc))
	return Period{Year: pt.Year(), Month: int(pt.Month())}
}

// PeriodInfo implements Adapter.
func (j *Jalali) PeriodInfo(p Period) (PeriodInfo, error) {
	if _, err := NewPeriod(p.Year, p.Month); err != nil {
		return PeriodInfo{}, err
	}
	start := j.firstOf(p)
	days := j.daysIn(p)
	return PeriodInfo{
		Period:      p,
		MonthName:   j.MonthName(p.Month),
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, days-1),
		DaysInMonth: days,
	}, nil
}

// MonthName implements Adapter.
func (j *Jalali) MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}
