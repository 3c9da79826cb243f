package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Cents: fixed-point currency amount
// ============================================================================
//
// All ledger arithmetic is done on integer cents. decimal.Decimal only appears
// at the boundary (request parsing, display formatting) and for the few
// computations that need a fractional factor (interest, percentage penalty),
// which are rounded back to cents immediately.
//
// ============================================================================

// Cents is an amount of currency in minor units (1/100).
type Cents int64

const Zero Cents = 0

var (
	ErrTooPrecise = errors.New("amount has more than 2 fractional digits")
	ErrOverflow   = errors.New("amount out of range")
)

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a decimal amount (e.g. 12.34) to cents. Sub-cent
// precision is rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if !scaled.BigInt().IsInt64() {
		return 0, ErrOverflow
	}
	return Cents(scaled.IntPart()), nil
}

// Parse reads a decimal string such as "150", "150.5" or "150.50".
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// RoundDecimal rounds a decimal amount expressed in currency units to the
// nearest cent (half away from zero).
func RoundDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) Int64() int64 { return int64(c) }

func (c Cents) IsPositive() bool { return c > 0 }

// Percent returns pct percent of c, rounded to the nearest cent.
func (c Cents) Percent(pct decimal.Decimal) Cents {
	return RoundDecimal(c.Decimal().Mul(pct).Div(hundred))
}

func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON renders the amount as a fixed two-digit string ("150.00").
func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value stores cents as a plain integer column.
func (c Cents) Value() (driver.Value, error) {
	return int64(c), nil
}

func (c *Cents) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = 0
	case int64:
		*c = Cents(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		*c = Cents(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*c = Cents(n)
	default:
		return fmt.Errorf("money: cannot scan %T into Cents", src)
	}
	return nil
}
