package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/ledger"
	"github.com/foliodesk/settlement-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// epsilon for comparing amounts that went through a rounded division.
var epsilon = decimal.New(1, -6)

func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

func TestApplyTrade_FirstBuy(t *testing.T) {
	h, pnl, err := ledger.ApplyTrade(nil, model.SideBuy, d(1), d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h.Quantity.Equal(d(1)) {
		t.Errorf("quantity: expected 1, got %s", h.Quantity)
	}
	if !h.AverageCost.Equal(d(100)) {
		t.Errorf("average cost: expected 100, got %s", h.AverageCost)
	}
	if !h.TotalInvested.Equal(d(100)) {
		t.Errorf("total invested: expected 100, got %s", h.TotalInvested)
	}
	if !pnl.IsZero() {
		t.Errorf("buy must not realize P&L, got %s", pnl)
	}
}

func TestApplyTrade_BuyAveragesCost(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(1), d(100))
	h2, pnl, err := ledger.ApplyTrade(&h, model.SideBuy, d(1), d(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h2.Quantity.Equal(d(2)) {
		t.Errorf("quantity: expected 2, got %s", h2.Quantity)
	}
	if !h2.AverageCost.Equal(d(150)) {
		t.Errorf("average cost: expected 150, got %s", h2.AverageCost)
	}
	if !h2.TotalInvested.Equal(d(300)) {
		t.Errorf("total invested: expected 300, got %s", h2.TotalInvested)
	}
	if !pnl.IsZero() {
		t.Errorf("buy must not realize P&L, got %s", pnl)
	}
}

func TestApplyTrade_PartialSellKeepsBasis(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(1), d(100))
	h, _, _ = ledger.ApplyTrade(&h, model.SideBuy, d(1), d(200))

	h2, pnl, err := ledger.ApplyTrade(&h, model.SideSell, d(1), d(250))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h2.Quantity.Equal(d(1)) {
		t.Errorf("quantity: expected 1, got %s", h2.Quantity)
	}
	if !h2.AverageCost.Equal(d(150)) {
		t.Errorf("sell must not change average cost: expected 150, got %s", h2.AverageCost)
	}
	if !h2.TotalInvested.Equal(d(150)) {
		t.Errorf("total invested: expected 150, got %s", h2.TotalInvested)
	}
	if !pnl.Equal(d(100)) {
		t.Errorf("realized P&L: expected 100, got %s", pnl)
	}
}

func TestApplyTrade_FullCloseAtBasis(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(1), d(150))

	h2, pnl, err := ledger.ApplyTrade(&h, model.SideSell, d(1), d(150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ledger.Closed(&h2) {
		t.Error("holding should be closed")
	}
	if !h2.Quantity.IsZero() || !h2.AverageCost.IsZero() || !h2.TotalInvested.IsZero() {
		t.Errorf("closed holding should be zeroed: qty=%s avg=%s invested=%s",
			h2.Quantity, h2.AverageCost, h2.TotalInvested)
	}
	if !pnl.IsZero() {
		t.Errorf("selling at basis realizes zero P&L, got %s", pnl)
	}
}

func TestApplyTrade_OversellIsContractViolation(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(1), d(100))

	_, _, err := ledger.ApplyTrade(&h, model.SideSell, d(5), d(100))
	if !errors.Is(err, ledger.ErrOversell) {
		t.Errorf("expected ErrOversell, got %v", err)
	}

	_, _, err = ledger.ApplyTrade(nil, model.SideSell, d(1), d(100))
	if !errors.Is(err, ledger.ErrOversell) {
		t.Errorf("sell with no holding: expected ErrOversell, got %v", err)
	}
}

// TestApplyTrade_InvestedEqualsQuantityTimesCost runs a long mixed
// sequence of buys and partial sells and checks the ledger invariant
// after every step. Fractional prices exercise the rounded division in
// the weighted average.
func TestApplyTrade_InvestedEqualsQuantityTimesCost(t *testing.T) {
	steps := []struct {
		side  model.Side
		qty   float64
		price float64
	}{
		{model.SideBuy, 0.3, 101.37},
		{model.SideBuy, 1.7, 99.02},
		{model.SideSell, 0.5, 104.5},
		{model.SideBuy, 2.25, 97.77},
		{model.SideSell, 1.1, 95.01},
		{model.SideBuy, 0.01, 103.333},
		{model.SideSell, 0.86, 108.2},
		{model.SideBuy, 4.44, 100.001},
	}

	var h model.Holding
	var have bool

	for i, step := range steps {
		var cur *model.Holding
		if have {
			cur = &h
		}
		next, _, err := ledger.ApplyTrade(cur, step.side, d(step.qty), d(step.price))
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		h = next
		have = true

		want := h.Quantity.Mul(h.AverageCost)
		if !approxEqual(h.TotalInvested, want) {
			t.Fatalf("step %d: invariant broken: invested=%s, qty×avg=%s",
				i, h.TotalInvested, want)
		}
		if h.Quantity.IsNegative() {
			t.Fatalf("step %d: negative quantity %s", i, h.Quantity)
		}
	}
}

// TestApplyTrade_SellNeverMovesBasis sells off a position in many small
// pieces and checks the remaining lot keeps its cost basis throughout.
func TestApplyTrade_SellNeverMovesBasis(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(10), d(123.456))
	basis := h.AverageCost

	for i := 0; i < 9; i++ {
		next, _, err := ledger.ApplyTrade(&h, model.SideSell, d(1), d(200))
		if err != nil {
			t.Fatalf("sell %d: unexpected error: %v", i, err)
		}
		h = next
		if !h.AverageCost.Equal(basis) {
			t.Fatalf("sell %d moved basis from %s to %s", i, basis, h.AverageCost)
		}
	}
}

// TestApplyTrade_RoundTripRealizesZero buys and fully sells at the same
// price; accumulated realized P&L must be exactly zero (fees are tracked
// separately by the orchestrator).
func TestApplyTrade_RoundTripRealizesZero(t *testing.T) {
	h, _, _ := ledger.ApplyTrade(nil, model.SideBuy, d(3.5), d(42.42))

	h2, pnl, err := ledger.ApplyTrade(&h, model.SideSell, d(3.5), d(42.42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pnl.IsZero() {
		t.Errorf("round trip should realize exactly 0, got %s", pnl)
	}
	if !ledger.Closed(&h2) {
		t.Error("position should be fully closed")
	}
}

func TestValidateBuy(t *testing.T) {
	if err := ledger.ValidateBuy(d(110), d(100), d(10)); err != nil {
		t.Errorf("exact cover should pass, got %v", err)
	}
	if err := ledger.ValidateBuy(d(109.99), d(100), d(10)); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestValidateSell(t *testing.T) {
	if err := ledger.ValidateSell(d(1), d(1)); err != nil {
		t.Errorf("selling entire position should pass, got %v", err)
	}
	if err := ledger.ValidateSell(d(1), d(5)); !errors.Is(err, ledger.ErrInsufficientHoldings) {
		t.Errorf("expected ErrInsufficientHoldings, got %v", err)
	}
}
