// Package fee implements the brokerage fee model: a flat rate on trade
// notional, clamped to a configurable floor and ceiling.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fee

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeNotional is returned when the notional is negative.
	ErrNegativeNotional = errors.New("fee: notional must not be negative")

	// ErrInvalidConfig is returned when rate or bounds are malformed.
	ErrInvalidConfig = errors.New("fee: invalid calculator configuration")
)

// Scale is the number of decimal places fees are rounded to.
const Scale int32 = 8

// Calculator computes brokerage fees. It is stateless and safe for
// concurrent use.
type Calculator struct {
	rate decimal.Decimal // fraction of notional, e.g. 0.001 = 0.1%
	min  decimal.Decimal // fee floor
	max  decimal.Decimal // fee ceiling
}

// NewCalculator creates a fee calculator. Rate must be non-negative and
// 0 <= min <= max.
func NewCalculator(rate, min, max decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || min.IsNegative() || max.LessThan(min) {
		return nil, ErrInvalidConfig
	}
	return &Calculator{rate: rate, min: min, max: max}, nil
}

// Default returns a calculator with the standard schedule: 0.1% of
// notional, floor 10, ceiling 1000.
func Default() *Calculator {
	return &Calculator{
		rate: decimal.NewFromFloat(0.001),
		min:  decimal.NewFromInt(10),
		max:  decimal.NewFromInt(1000),
	}
}

// Rate returns the proportional fee rate.
func (c *Calculator) Rate() decimal.Decimal { return c.rate }

// Min returns the fee floor.
func (c *Calculator) Min() decimal.Decimal { return c.min }

// Max returns the fee ceiling.
func (c *Calculator) Max() decimal.Decimal { return c.max }

// Fee returns the brokerage fee for a trade of the given notional:
// clamp(notional × rate, min, max). Pure, no I/O.
func (c *Calculator) Fee(notional decimal.Decimal) (decimal.Decimal, error) {
	if notional.IsNegative() {
		return decimal.Zero, ErrNegativeNotional
	}
	f := notional.Mul(c.rate).Round(Scale)
	if f.LessThan(c.min) {
		return c.min, nil
	}
	if f.GreaterThan(c.max) {
		return c.max, nil
	}
	return f, nil
}
