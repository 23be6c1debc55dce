// Package money provides an exact decimal currency amount. All arithmetic
// delegates to shopspring/decimal; binary floats never enter the picture.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a string does not parse as a decimal
// amount, or when a caller-supplied amount fails validation.
var ErrInvalidAmount = errors.New("invalid amount")

// Money is an arbitrary-precision decimal amount. The zero value is zero
// currency units and is ready to use.
type Money struct {
	d decimal.Decimal
}

var Zero = Money{}

// FromDecimal wraps an existing decimal value.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// FromInt builds an amount from whole currency units.
func FromInt(n int64) Money {
	return Money{d: decimal.NewFromInt(n)}
}

// Parse converts a decimal string ("1234.56") into Money.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for test fixtures and constants; it panics on bad input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money    { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money    { return Money{d: m.d.Sub(o.d)} }
func (m Money) MulInt(n int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(n))} }

// DivInt divides by a whole number, keeping decimal precision
// (decimal's default division precision, 16 places).
func (m Money) DivInt(n int64) Money {
	return Money{d: m.d.Div(decimal.NewFromInt(n))}
}

// FloorDiv returns floor(m / o) as an integer count. Used for converting a
// paid total into a number of whole installments. A zero or negative divisor
// yields zero rather than a division error.
func (m Money) FloorDiv(o Money) int64 {
	if !o.d.IsPositive() {
		return 0
	}
	return m.d.Div(o.d).Floor().IntPart()
}

func (m Money) Cmp(o Money) int           { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool        { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool  { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool     { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool              { return m.d.IsZero() }
func (m Money) IsPositive() bool          { return m.d.IsPositive() }
func (m Money) IsNegative() bool          { return m.d.IsNegative() }

// ClampZero floors a negative amount at zero. Callers that model a remaining
// balance apply this explicitly after subtraction; the arithmetic methods
// themselves never clamp.
func (m Money) ClampZero() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

// String renders the full-precision value.
func (m Money) String() string { return m.d.String() }

// Display renders the value rounded to two places for user-facing output.
func (m Money) Display() string { return m.d.StringFixed(2) }

func (m Money) MarshalJSON() ([]byte, error) { return m.d.MarshalJSON() }

func (m *Money) UnmarshalJSON(b []byte) error {
	if err := m.d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, b)
	}
	return nil
}

// Value stores the amount as its decimal string so SQLite TEXT columns keep
// full precision.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		m.d = decimal.Decimal{}
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidAmount, v)
		}
		m.d = d
		return nil
	case []byte:
		return m.Scan(string(v))
	case int64:
		m.d = decimal.NewFromInt(v)
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidAmount, src)
	}
}
