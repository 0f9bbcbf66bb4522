// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetType classifies the instrument a holding refers to.
type AssetType string

const (
	AssetCrypto     AssetType = "crypto"
	AssetStock      AssetType = "stock"
	AssetCommodity  AssetType = "commodity"
	AssetMutualFund AssetType = "mutual_fund"
	AssetBond       AssetType = "bond"
)

// ErrUnknownAssetType is returned by ParseAssetType for unrecognized values.
var ErrUnknownAssetType = errors.New("model: unknown asset type")

// ParseAssetType validates an asset type string.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(s) {
	case AssetCrypto, AssetStock, AssetCommodity, AssetMutualFund, AssetBond:
		return AssetType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, s)
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ErrUnknownSide is returned by ParseSide for values other than buy/sell.
var ErrUnknownSide = errors.New("model: side must be buy or sell")

// ParseSide validates a trade side string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
}

// TradeStatus tracks the settlement state machine. Settlement is currently
// synchronous, so a trade moves pending → completed within one call, but the
// state machine is kept so an asynchronous routing path can be introduced
// without changing the public contract.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// Holding is a user's position in one tradable asset. Identity is
// (UserID, Symbol, AssetType), plus WalletAddress for on-chain holdings.
// Invariant maintained by the ledger: TotalInvested = Quantity × AverageCost.
type Holding struct {
	UserID        string          `json:"user_id" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	AssetType     AssetType       `json:"asset_type" db:"asset_type"`
	WalletAddress string          `json:"wallet_address,omitempty" db:"wallet_address"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost" db:"average_cost"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	Version       int64           `json:"-" db:"version"` // optimistic concurrency check
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the storage identity key for this holding.
func (h *Holding) Key() string {
	return HoldingKey(h.UserID, h.Symbol, h.AssetType, h.WalletAddress)
}

// HoldingKey builds the composite identity key for a holding.
func HoldingKey(userID, symbol string, assetType AssetType, wallet string) string {
	if wallet == "" {
		return fmt.Sprintf("%s|%s|%s", userID, symbol, assetType)
	}
	return fmt.Sprintf("%s|%s|%s|%s", userID, symbol, assetType, wallet)
}

// CurrentValue is the mark-to-market value of the holding.
func (h *Holding) CurrentValue() decimal.Decimal {
	return h.Quantity.Mul(h.CurrentPrice)
}

// UnrealizedPnL is the paper profit/loss against the cost basis.
func (h *Holding) UnrealizedPnL() decimal.Decimal {
	return h.CurrentValue().Sub(h.TotalInvested)
}

// UnrealizedPnLPercent is the unrealized P&L as a percentage of invested
// capital. Zero when nothing is invested.
func (h *Holding) UnrealizedPnLPercent() decimal.Decimal {
	if h.TotalInvested.IsZero() {
		return decimal.Zero
	}
	return h.UnrealizedPnL().Div(h.TotalInvested).Mul(decimal.NewFromInt(100))
}

// Trade is an immutable record of a settled trade. Once Status is completed
// the record is never altered; corrections happen via new offsetting trades.
type Trade struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	AssetType        AssetType       `json:"asset_type" db:"asset_type"`
	Side             Side            `json:"side" db:"side"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	PriceAtExecution decimal.Decimal `json:"price_at_execution" db:"price_at_execution"`
	GrossAmount      decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	Fee              decimal.Decimal `json:"fee" db:"fee"`
	NetAmount        decimal.Decimal `json:"net_amount" db:"net_amount"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Status           TradeStatus     `json:"status" db:"status"`
	ExecutedAt       time.Time       `json:"executed_at" db:"executed_at"`
}

// CashBalance is the single-currency wallet balance for a user. Available
// must never go negative; Locked is reserved by out-of-band flows and is
// not spendable.
type CashBalance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Currency  string          `json:"currency" db:"currency"`
	Available decimal.Decimal `json:"available" db:"available"`
	Locked    decimal.Decimal `json:"locked" db:"locked"`
	Version   int64           `json:"-" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Allocation is one holding's share of the portfolio by current value.
type Allocation struct {
	Symbol    string          `json:"symbol"`
	AssetType AssetType       `json:"asset_type"`
	Value     decimal.Decimal `json:"value"`
	Percent   decimal.Decimal `json:"percent"`
}

// PortfolioSummary aggregates all holdings for a user. Derived on read,
// never persisted as source of truth.
type PortfolioSummary struct {
	UserID          string          `json:"user_id"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalPnLPercent decimal.Decimal `json:"total_pnl_percent"`
	HoldingsCount   int             `json:"holdings_count"`
	RiskScore       decimal.Decimal `json:"risk_score"` // 0–100, advisory
	Allocations     []Allocation    `json:"allocations"`
}
