// Package money holds the monetary conventions used across the network:
// two fractional digits and a fixed comparison tolerance of 0.01.
package money

import "github.com/shopspring/decimal"

// Tolerance is the maximum difference at which two monetary values are
// still considered equal.
var Tolerance = decimal.New(1, -2)

// FromFloat converts a float into a monetary decimal rounded to cents.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// FromInt converts a whole-dollar amount.
func FromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// Round normalizes an amount to two fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Equal reports whether a and b differ by at most the tolerance.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// IsZero reports whether d is zero within the tolerance.
func IsZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Tolerance)
}

// Mul multiplies and re-rounds to cents.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(2)
}
