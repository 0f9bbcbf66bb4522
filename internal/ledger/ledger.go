// Package ledger implements the position-ledger arithmetic: balance
// validation and the weighted-average cost-basis update applied on every
// buy and sell.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Binary floating point drifts the cost basis across many small trades;
// fixed-scale decimal does not.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when available cash cannot cover a
	// buy's notional plus fee.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell exceeds the held
	// quantity. Over-sells are always rejected, never clamped.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")

	// ErrOversell reports a contract violation: a sell larger than the held
	// quantity reached the updater. The validator must reject it upstream.
	ErrOversell = errors.New("ledger: oversell reached cost-basis updater")
)

// Scale is the number of decimal places money amounts are rounded to when
// a division is involved (weighted-average cost).
const Scale int32 = 8

// ValidateBuy checks that available cash covers notional plus fee.
func ValidateBuy(available, notional, fee decimal.Decimal) error {
	required := notional.Add(fee)
	if available.LessThan(required) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, required, available)
	}
	return nil
}

// ValidateSell checks that the held quantity covers the quantity being sold.
func ValidateSell(held, quantity decimal.Decimal) error {
	if held.LessThan(quantity) {
		return fmt.Errorf("%w: selling %s, holding %s", ErrInsufficientHoldings, quantity, held)
	}
	return nil
}

// ApplyTrade computes the post-trade holding state and the realized P&L
// delta for a buy or sell at the given execution price.
//
// Buys move the weighted-average cost; sells never do — the remaining lot
// keeps its basis, and realized P&L is quantity × (price − averageCost).
// A full close zeroes the holding; Closed() on the result reports it.
//
// existing may be nil (first buy). The caller must have validated the
// trade; a sell exceeding the held quantity returns ErrOversell.
func ApplyTrade(existing *model.Holding, side model.Side, quantity, price decimal.Decimal) (model.Holding, decimal.Decimal, error) {
	now := time.Now().UTC()

	if side == model.SideBuy {
		if existing == nil {
			h := model.Holding{
				Quantity:      quantity,
				AverageCost:   price,
				TotalInvested: quantity.Mul(price),
				CurrentPrice:  price,
				UpdatedAt:     now,
			}
			return h, decimal.Zero, nil
		}

		h := *existing
		h.Quantity = existing.Quantity.Add(quantity)
		h.TotalInvested = existing.TotalInvested.Add(quantity.Mul(price))
		h.AverageCost = h.TotalInvested.Div(h.Quantity).Round(Scale)
		h.CurrentPrice = price
		h.UpdatedAt = now
		return h, decimal.Zero, nil
	}

	// Sell.
	if existing == nil || existing.Quantity.LessThan(quantity) {
		held := decimal.Zero
		if existing != nil {
			held = existing.Quantity
		}
		return model.Holding{}, decimal.Zero,
			fmt.Errorf("%w: selling %s, holding %s", ErrOversell, quantity, held)
	}

	realized := quantity.Mul(price.Sub(existing.AverageCost))

	h := *existing
	h.Quantity = existing.Quantity.Sub(quantity)
	h.CurrentPrice = price
	h.UpdatedAt = now

	if h.Quantity.IsZero() {
		// Full close.
		h.AverageCost = decimal.Zero
		h.TotalInvested = decimal.Zero
		return h, realized, nil
	}

	// Partial sell: remaining lot keeps its basis.
	h.AverageCost = existing.AverageCost
	h.TotalInvested = h.Quantity.Mul(existing.AverageCost)
	return h, realized, nil
}

// Closed reports whether a post-trade holding has been fully exited and
// should be removed from the active set.
func Closed(h *model.Holding) bool {
	return h.Quantity.IsZero()
}
