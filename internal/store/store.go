// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a holding or balance does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic version check fails
	// during ApplySettlement. The caller should re-read and retry the
	// whole settlement.
	ErrConflict = errors.New("store: version conflict")
)

// SettlementWrite is the atomic unit of work produced by one settlement:
// the post-trade holding state, the post-trade cash balance, and the
// immutable trade record. All three commit together or not at all.
//
// Holding.Version and Cash.Version carry the versions the orchestrator
// read; the store rejects the write with ErrConflict when the stored
// versions no longer match. HoldingExisted distinguishes first-buy insert
// from update; DeleteHolding removes a fully closed position.
type SettlementWrite struct {
	Holding        model.Holding
	HoldingExisted bool
	DeleteHolding  bool
	Cash           model.CashBalance
	Trade          model.Trade
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The settlement orchestrator
// is the only writer of holding and cash state.
type Store interface {
	// --- Holdings ---

	// GetHolding retrieves one holding by identity, or ErrNotFound.
	GetHolding(ctx context.Context, userID, symbol string, assetType model.AssetType, wallet string) (*model.Holding, error)

	// GetHoldings returns all of a user's open holdings.
	GetHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Cash ---

	// GetCashBalance retrieves the user's wallet balance, or ErrNotFound.
	GetCashBalance(ctx context.Context, userID string) (*model.CashBalance, error)

	// Deposit credits available cash, creating the balance on first use.
	Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal) (*model.CashBalance, error)

	// --- Settlement ---

	// ApplySettlement commits one settlement atomically: holding
	// upsert/delete, cash adjustment, and trade append. Returns
	// ErrConflict when a version check fails; on any error nothing is
	// applied.
	ApplySettlement(ctx context.Context, w SettlementWrite) error

	// --- Immutable trade history ---

	// GetTrades returns a user's trades ordered by execution time.
	GetTrades(ctx context.Context, userID string) ([]model.Trade, error)
}
