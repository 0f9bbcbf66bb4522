package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cached JSON drops the Version field, so holdings read through the cache
// must not be fed back into a settlement. The orchestrator reads via
// GetHolding/GetCashBalance, which bypass the cache for that reason.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Pass-through reads used inside settlement (must be current) ---

func (s *CachedStore) GetHolding(ctx context.Context, userID, symbol string, assetType model.AssetType, wallet string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, symbol, assetType, wallet)
}

func (s *CachedStore) GetCashBalance(ctx context.Context, userID string) (*model.CashBalance, error) {
	return s.primary.GetCashBalance(ctx, userID)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(userID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	// Cache miss: read from primary.
	holdings, err := s.primary.GetHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(userID), data, s.ttl)
	}
	return holdings, nil
}

func (s *CachedStore) GetTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.GetTrades(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

// --- Writes (apply to primary, invalidate cache) ---

func (s *CachedStore) Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal) (*model.CashBalance, error) {
	return s.primary.Deposit(ctx, userID, currency, amount)
}

func (s *CachedStore) ApplySettlement(ctx context.Context, w SettlementWrite) error {
	if err := s.primary.ApplySettlement(ctx, w); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, holdingsKey(w.Trade.UserID), tradesKey(w.Trade.UserID))
	return nil
}

func holdingsKey(uid string) string { return fmt.Sprintf("holdings:%s", uid) }
func tradesKey(uid string) string   { return fmt.Sprintf("trades:%s", uid) }
