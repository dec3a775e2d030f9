// Package types provides common value types shared by the ledger and reports.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// LotValue is quantity * unit cost, rounded to 2 places.
func LotValue(quantity int64, unitCost Money) Money {
	return unitCost.Mul(decimal.NewFromInt(quantity)).Round(2)
}

// Percentage returns part/whole*100 rounded half-up to 2 decimals.
// Returns nil when whole is zero, since the ratio is undefined.
func Percentage(part, whole int64) *decimal.Decimal {
	if whole == 0 {
		return nil
	}
	p := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(whole), 8).
		Round(2)
	return &p
}

// BelowFraction compares part with fraction*whole without floating point.
// It reports whether part < whole*fraction.
func BelowFraction(part, whole int64, fraction decimal.Decimal) bool {
	return decimal.NewFromInt(part).LessThan(decimal.NewFromInt(whole).Mul(fraction))
}
