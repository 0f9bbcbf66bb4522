package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	holdings map[string]*model.Holding     // keyed by Holding.Key()
	cash     map[string]*model.CashBalance // keyed by userID
	trades   []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[string]*model.Holding),
		cash:     make(map[string]*model.CashBalance),
	}
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, symbol string, assetType model.AssetType, wallet string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[model.HoldingKey(userID, symbol, assetType, wallet)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) GetHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetCashBalance(_ context.Context, userID string) (*model.CashBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.cash[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) Deposit(_ context.Context, userID, currency string, amount decimal.Decimal) (*model.CashBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.cash[userID]
	if !ok {
		b = &model.CashBalance{
			UserID:    userID,
			Currency:  currency,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			Version:   1,
		}
		s.cash[userID] = b
	}
	b.Available = b.Available.Add(amount)
	b.Version++
	b.UpdatedAt = time.Now().UTC()

	copy := *b
	return &copy, nil
}

// ApplySettlement applies the holding, cash, and trade writes under a
// single lock so readers never observe a partially applied settlement.
func (s *MemoryStore) ApplySettlement(_ context.Context, w SettlementWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := w.Holding.Key()

	// Version checks first; nothing is mutated until both pass.
	existing, holdingExists := s.holdings[key]
	if w.HoldingExisted {
		if !holdingExists || existing.Version != w.Holding.Version {
			return ErrConflict
		}
	} else if holdingExists {
		return ErrConflict
	}

	cash, ok := s.cash[w.Cash.UserID]
	if !ok || cash.Version != w.Cash.Version {
		return ErrConflict
	}

	if w.DeleteHolding {
		delete(s.holdings, key)
	} else {
		h := w.Holding
		h.Version++
		s.holdings[key] = &h
	}

	newCash := w.Cash
	newCash.Version++
	newCash.UpdatedAt = time.Now().UTC()
	s.cash[w.Cash.UserID] = &newCash

	s.trades = append(s.trades, w.Trade)
	return nil
}

func (s *MemoryStore) GetTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}
