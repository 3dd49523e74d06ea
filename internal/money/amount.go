// Package money provides a fixed-precision decimal representation for
// prices and sizes, so that profit-threshold comparisons and executed P/L
// use the exact arithmetic the exchange publishes precision for, not
// floating point.
package money

import (
	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal. Add, Sub and Mul are exact; Div rounds to
// the decimal package's division precision; nothing else rounds until
// Round is called explicitly with a target scale.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// One is the multiplicative identity.
var One = Amount{d: decimal.NewFromInt(1)}

// NewFromFloat builds an Amount from a float64 literal (config defaults,
// test fixtures). Never use this for values parsed off the wire — use
// NewFromString so no base-2 rounding is introduced.
func NewFromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// NewFromString parses an exchange-supplied decimal string exactly.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d: d}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }

// Div panics on divide-by-zero just like decimal.Decimal; callers must
// guard against a zero divisor (e.g. zero depth) before calling.
func (a Amount) Div(b Amount) Amount { return Amount{d: a.d.Div(b.d)} }

func (a Amount) IsZero() bool                     { return a.d.IsZero() }
func (a Amount) IsPositive() bool                 { return a.d.IsPositive() }
func (a Amount) IsNegative() bool                 { return a.d.IsNegative() }
func (a Amount) LessThan(b Amount) bool           { return a.d.LessThan(b.d) }
func (a Amount) GreaterThan(b Amount) bool        { return a.d.GreaterThan(b.d) }
func (a Amount) Equal(b Amount) bool              { return a.d.Equal(b.d) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThanOrEqual(b Amount) bool    { return a.d.LessThanOrEqual(b.d) }

// Float64 is for display and metrics export only — never for comparisons
// gating execution.
func (a Amount) Float64() float64 { return a.d.InexactFloat64() }

func (a Amount) String() string { return a.d.String() }

// Round to the given number of decimal places (e.g. a pair's price
// precision). Uses banker-agnostic half-away-from-zero rounding, matching
// exchange tick/lot rounding conventions.
func (a Amount) Round(places int32) Amount { return Amount{d: a.d.Round(places)} }

// Pct interprets the receiver as a percentage (e.g. 0.05 meaning 0.05%)
// and returns it as a multiplier fraction (0.0005).
func (a Amount) Pct() Amount {
	return Amount{d: a.d.Div(decimal.NewFromInt(100))}
}
