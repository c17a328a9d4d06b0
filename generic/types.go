/*
Package generic provides the domain-agnostic building blocks of the leave engine.

PURPOSE:
  This package contains the quantities, calendar math and error taxonomy that
  the leave domain is built on. Nothing here knows about requests, approvers
  or workflows: it answers "how many working days are in this range?" and
  "how do fractional day counts add up?".

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A day quantity (0.5 granularity for requests, arbitrary precision
    for pro-rata entitlements)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift when half
     days are added and subtracted thousands of times on a balance row
  2. Purity: Calendar functions take every input explicitly (no hidden clock)

USAGE:
  half := generic.HalfDay()
  total := generic.Days(4).Add(half) // 4.5 days

SEE ALSO:
  - time.go: TimePoint, WorkWeek and holiday calendar
  - workdays.go: Working-time calculator
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity of days
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

var half = decimal.NewFromFloat(0.5)

func Days(n int) Amount                  { return Amount{Value: decimal.NewFromInt(int64(n))} }
func DaysFloat(f float64) Amount         { return Amount{Value: decimal.NewFromFloat(f)} }
func HalfDay() Amount                    { return Amount{Value: half} }
func ZeroDays() Amount                   { return Amount{Value: decimal.Zero} }
func NewAmount(d decimal.Decimal) Amount { return Amount{Value: d} }

// ParseAmount parses a decimal string such as "2.5". Used by storage adapters
// that persist amounts as text.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return ZeroDays(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: amount %q", ErrInvalidInput, s)
	}
	return Amount{Value: d}, nil
}

// MustParseAmount is ParseAmount for literals in tests and fixtures.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) String() string               { return a.Value.String() }
func (a Amount) Float64() float64             { f, _ := a.Value.Float64(); return f }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// RoundToHalf rounds to the nearest 0.5 day, halves rounding up.
func (a Amount) RoundToHalf() Amount {
	doubled := a.Value.Mul(decimal.NewFromInt(2)).Round(0)
	return Amount{Value: doubled.Div(decimal.NewFromInt(2))}
}

// IsHalfStep reports whether the amount is a whole multiple of 0.5.
func (a Amount) IsHalfStep() bool {
	return a.Value.Mul(decimal.NewFromInt(2)).IsInteger()
}
