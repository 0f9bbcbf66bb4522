// Package portfolio derives read-side aggregates from a user's holdings:
// totals, P&L, allocation breakdown, and an advisory risk score.
//
// Price staleness is the caller's concern: quotes are passed in, the
// aggregator only consumes them.
package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
	"github.com/foliodesk/settlement-engine/internal/pricing"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Summarize refreshes each holding's current price from the supplied quote
// map, then aggregates totals. Holdings with no quote keep their last
// settlement-time price. TotalPnLPercent is zero when nothing is invested.
func Summarize(userID string, holdings []model.Holding, quotes map[string]pricing.Quote) model.PortfolioSummary {
	summary := model.PortfolioSummary{
		UserID:          userID,
		TotalValue:      decimal.Zero,
		TotalInvested:   decimal.Zero,
		TotalPnL:        decimal.Zero,
		TotalPnLPercent: decimal.Zero,
		RiskScore:       decimal.Zero,
		Allocations:     []model.Allocation{},
		HoldingsCount:   len(holdings),
	}

	refreshed := make([]model.Holding, len(holdings))
	for i, h := range holdings {
		if q, ok := quotes[h.Symbol]; ok {
			h.CurrentPrice = q.Price
		}
		refreshed[i] = h
		summary.TotalValue = summary.TotalValue.Add(h.CurrentValue())
		summary.TotalInvested = summary.TotalInvested.Add(h.TotalInvested)
	}

	summary.TotalPnL = summary.TotalValue.Sub(summary.TotalInvested)
	if summary.TotalInvested.IsPositive() {
		summary.TotalPnLPercent = summary.TotalPnL.Div(summary.TotalInvested).Mul(hundred)
	}

	summary.Allocations = allocations(refreshed, summary.TotalValue)
	summary.RiskScore = riskScore(refreshed, quotes, summary.TotalValue)
	return summary
}

// allocations computes each holding's share of total value, sorted
// largest first.
func allocations(holdings []model.Holding, totalValue decimal.Decimal) []model.Allocation {
	allocs := make([]model.Allocation, 0, len(holdings))
	for _, h := range holdings {
		a := model.Allocation{
			Symbol:    h.Symbol,
			AssetType: h.AssetType,
			Value:     h.CurrentValue(),
			Percent:   decimal.Zero,
		}
		if totalValue.IsPositive() {
			a.Percent = a.Value.Div(totalValue).Mul(hundred)
		}
		allocs = append(allocs, a)
	}

	sort.Slice(allocs, func(i, j int) bool {
		if allocs[i].Value.Equal(allocs[j].Value) {
			return allocs[i].Symbol < allocs[j].Symbol
		}
		return allocs[i].Value.GreaterThan(allocs[j].Value)
	})
	return allocs
}

// riskScore blends two 0–100 signals and averages them:
//
//   - volatility: value-weighted mean of |24h move| per holding, capped
//     at 100 (a holding without a quote contributes zero);
//   - concentration: Herfindahl index over allocation weights, scaled
//     to 0–100 (single-holding portfolio → 100).
//
// Advisory only — never used for trade validation.
func riskScore(holdings []model.Holding, quotes map[string]pricing.Quote, totalValue decimal.Decimal) decimal.Decimal {
	if len(holdings) == 0 || !totalValue.IsPositive() {
		return decimal.Zero
	}

	volatility := decimal.Zero
	herfindahl := decimal.Zero

	for _, h := range holdings {
		weight := h.CurrentValue().Div(totalValue)
		herfindahl = herfindahl.Add(weight.Mul(weight))

		if q, ok := quotes[h.Symbol]; ok {
			move := q.Change24hPct.Abs()
			if move.GreaterThan(hundred) {
				move = hundred
			}
			volatility = volatility.Add(weight.Mul(move))
		}
	}

	score := volatility.Add(herfindahl.Mul(hundred)).Div(two).Round(2)
	if score.GreaterThan(hundred) {
		return hundred
	}
	return score
}
