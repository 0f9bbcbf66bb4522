// Package settle provides the HTTP handlers and business logic for trade
// settlement: validate a proposed trade against current balances, compute
// the brokerage fee, apply the weighted-average cost-basis update, and
// commit holding, cash, and trade record as one atomic write.
//
// All monetary values use shopspring/decimal — never float64 for money.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/fee"
	"github.com/foliodesk/settlement-engine/internal/ledger"
	"github.com/foliodesk/settlement-engine/internal/metrics"
	"github.com/foliodesk/settlement-engine/internal/model"
	"github.com/foliodesk/settlement-engine/internal/portfolio"
	"github.com/foliodesk/settlement-engine/internal/pricing"
	"github.com/foliodesk/settlement-engine/internal/store"
)

// ErrInvalidInput reports a malformed settlement request: non-positive
// quantity or price, unknown side or asset type, missing identifiers.
var ErrInvalidInput = errors.New("settle: invalid input")

// idemCapacity bounds the idempotency LRU.
const idemCapacity = 4096

// Service orchestrates trade settlement and serves the engine's HTTP
// surface. It is the only writer of holding and cash state.
type Service struct {
	store    store.Store
	fees     *fee.Calculator
	prices   *pricing.Cache
	currency string
	locks    *keyedMutex
	idem     *idemCache
	wsHub    *Hub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a settlement service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, fees *fee.Calculator, prices *pricing.Cache, currency string, hub *Hub) *Service {
	return &Service{
		store:    st,
		fees:     fees,
		prices:   prices,
		currency: currency,
		locks:    newKeyedMutex(),
		idem:     newIdemCache(idemCapacity),
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// SettleRequest is the JSON body for POST /trades.
type SettleRequest struct {
	UserID           string          `json:"user_id"`
	Symbol           string          `json:"symbol"`
	AssetType        string          `json:"asset_type"`
	WalletAddress    string          `json:"wallet_address,omitempty"`
	Side             string          `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	PriceAtExecution decimal.Decimal `json:"price_at_execution"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
}

// Settlement is the result of one settled trade: the post-trade holding
// snapshot (nil when the position was fully closed), the immutable trade
// record, and the realized P&L delta.
type Settlement struct {
	Holding     *model.Holding  `json:"holding,omitempty"`
	Closed      bool            `json:"closed"`
	Trade       model.Trade     `json:"trade"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fee         decimal.Decimal `json:"fee"`
}

// Settle validates, prices, and applies one trade as a single unit of
// work. Steps before the persistence write are side-effect-free; the
// write itself is all-or-nothing. Returns store.ErrConflict when a
// concurrent out-of-band write invalidated the snapshot — the caller may
// retry the whole settlement.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*Settlement, error) {
	side, assetType, err := validateRequest(req)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	start := time.Now()

	// Serialize settlement per holding identity. Other users and symbols
	// proceed in parallel.
	unlock := s.locks.lock(model.HoldingKey(req.UserID, req.Symbol, assetType, req.WalletAddress))
	defer unlock()

	// Idempotency check must run under the lock: a client retry racing
	// the original in-flight request blocks here until the original
	// records its result, then replays it instead of settling twice.
	if req.IdempotencyKey != "" {
		if prior, ok := s.idem.get(req.IdempotencyKey); ok {
			return prior, nil
		}
	}

	result, err := s.settleLocked(ctx, req, side, assetType)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			metrics.RejectionsTotal.WithLabelValues("insufficient_funds").Inc()
		case errors.Is(err, ledger.ErrInsufficientHoldings):
			metrics.RejectionsTotal.WithLabelValues("insufficient_holdings").Inc()
		case errors.Is(err, store.ErrConflict):
			metrics.RejectionsTotal.WithLabelValues("conflict").Inc()
		}
		metrics.SettlementsTotal.WithLabelValues(string(side), "failed").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(side), "completed").Inc()
	metrics.SettlementLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	metrics.FeesCharged.Add(result.Fee.InexactFloat64())

	if req.IdempotencyKey != "" {
		s.idem.put(req.IdempotencyKey, result)
	}

	slog.Info("trade settled",
		"trade_id", result.Trade.ID,
		"user", req.UserID,
		"symbol", req.Symbol,
		"side", side,
		"qty", req.Quantity.String(),
		"price", req.PriceAtExecution.String(),
		"fee", result.Fee.String(),
		"realized_pnl", result.RealizedPnL.String(),
	)

	if s.wsHub != nil {
		msg := WSMessage{
			Type:        "settlement",
			UserID:      req.UserID,
			Symbol:      req.Symbol,
			AssetType:   string(assetType),
			Side:        string(side),
			Quantity:    req.Quantity.String(),
			Price:       req.PriceAtExecution.String(),
			Fee:         result.Fee.String(),
			RealizedPnL: result.RealizedPnL.String(),
		}
		if result.Holding != nil {
			msg.AverageCost = result.Holding.AverageCost.String()
		}
		s.wsHub.Broadcast(msg)
	}

	return result, nil
}

// settleLocked runs steps 1–5 of the settlement sequence under the
// per-holding lock: load, price, validate, apply, persist.
func (s *Service) settleLocked(ctx context.Context, req SettleRequest, side model.Side, assetType model.AssetType) (*Settlement, error) {
	// Load current holding (or none) and cash balance.
	existing, err := s.store.GetHolding(ctx, req.UserID, req.Symbol, assetType, req.WalletAddress)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load holding: %w", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	}

	cash, err := s.store.GetCashBalance(ctx, req.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if side == model.SideBuy {
			return nil, fmt.Errorf("%w: no cash balance for user %s", ledger.ErrInsufficientFunds, req.UserID)
		}
		// First sell proceeds need a balance row to credit.
		cash, err = s.store.Deposit(ctx, req.UserID, s.currency, decimal.Zero)
		if err != nil {
			return nil, fmt.Errorf("create cash balance: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load cash balance: %w", err)
	}

	// Fees.
	gross := req.Quantity.Mul(req.PriceAtExecution)
	feeAmt, err := s.fees.Fee(gross)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Validate against the snapshot read under the lock. No mutation has
	// happened yet; failures here are side-effect-free.
	var net decimal.Decimal
	if side == model.SideBuy {
		net = gross.Add(feeAmt)
		if err := ledger.ValidateBuy(cash.Available, gross, feeAmt); err != nil {
			return nil, err
		}
	} else {
		net = gross.Sub(feeAmt)
		held := decimal.Zero
		if existing != nil {
			held = existing.Quantity
		}
		if err := ledger.ValidateSell(held, req.Quantity); err != nil {
			return nil, err
		}
	}

	// Cost-basis update.
	updated, realized, err := ledger.ApplyTrade(existing, side, req.Quantity, req.PriceAtExecution)
	if err != nil {
		return nil, err
	}
	updated.UserID = req.UserID
	updated.Symbol = req.Symbol
	updated.AssetType = assetType
	updated.WalletAddress = req.WalletAddress

	newCash := *cash
	if side == model.SideBuy {
		newCash.Available = cash.Available.Sub(net)
	} else {
		// Net is negative when the fee floor exceeds the sale proceeds;
		// the balance must still never go below zero.
		newCash.Available = cash.Available.Add(net)
		if newCash.Available.IsNegative() {
			return nil, fmt.Errorf("%w: fee %s exceeds sale proceeds %s plus available cash",
				ledger.ErrInsufficientFunds, feeAmt, gross)
		}
	}

	trade := model.Trade{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		AssetType:        assetType,
		Side:             side,
		Quantity:         req.Quantity,
		PriceAtExecution: req.PriceAtExecution,
		GrossAmount:      gross,
		Fee:              feeAmt,
		NetAmount:        net,
		RealizedPnL:      realized,
		Status:           model.TradePending,
		ExecutedAt:       time.Now().UTC(),
	}

	// Persist holding, cash, and trade together or not at all. The trade
	// record only ever reaches storage as completed; pending exists for a
	// future asynchronous settlement path.
	trade.Status = model.TradeCompleted

	write := store.SettlementWrite{
		Holding:        updated,
		HoldingExisted: existing != nil,
		DeleteHolding:  ledger.Closed(&updated),
		Cash:           newCash,
		Trade:          trade,
	}
	if err := s.store.ApplySettlement(ctx, write); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("apply settlement: %w", err)
	}

	result := &Settlement{
		Trade:       trade,
		RealizedPnL: realized,
		Fee:         feeAmt,
		Closed:      ledger.Closed(&updated),
	}
	if !result.Closed {
		snapshot := updated
		result.Holding = &snapshot
	}
	return result, nil
}

func validateRequest(req SettleRequest) (model.Side, model.AssetType, error) {
	if req.UserID == "" || req.Symbol == "" {
		return "", "", fmt.Errorf("%w: user_id and symbol are required", ErrInvalidInput)
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	assetType, err := model.ParseAssetType(req.AssetType)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !req.Quantity.IsPositive() {
		return "", "", fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if !req.PriceAtExecution.IsPositive() {
		return "", "", fmt.Errorf("%w: price_at_execution must be positive", ErrInvalidInput)
	}
	return side, assetType, nil
}

// --- HTTP Handlers ---

// SettleTrade handles POST /api/v1/trades.
func (s *Service) SettleTrade(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Settle(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetHoldings handles GET /api/v1/portfolio/{userID}/holdings.
// Current prices are refreshed from the quote cache before returning.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	holdings, err := s.store.GetHoldings(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	quotes := s.prices.Snapshot()
	for i := range holdings {
		if q, ok := quotes[holdings[i].Symbol]; ok {
			holdings[i].CurrentPrice = q.Price
		}
	}

	writeJSON(w, http.StatusOK, holdings)
}

// GetSummary handles GET /api/v1/portfolio/{userID}/summary.
func (s *Service) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	holdings, err := s.store.GetHoldings(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}

	summary := portfolio.Summarize(userID, holdings, s.prices.Snapshot())
	writeJSON(w, http.StatusOK, summary)
}

// GetTrades handles GET /api/v1/portfolio/{userID}/trades.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.GetTrades(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, trades)
}

// DepositRequest is the JSON body for POST /accounts/{userID}/deposit.
type DepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// Deposit handles POST /api/v1/accounts/{userID}/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	balance, err := s.store.Deposit(r.Context(), userID, currency, req.Amount)
	if err != nil {
		writeError(w, "deposit failed", http.StatusInternalServerError)
		return
	}

	slog.Info("cash deposited", "user", userID, "amount", req.Amount.String(), "currency", currency)
	writeJSON(w, http.StatusOK, balance)
}

// GetBalance handles GET /api/v1/accounts/{userID}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.store.GetCashBalance(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no cash balance for user", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// PriceUpdate is one symbol's quote in a PUT /prices request.
type PriceUpdate struct {
	Price        decimal.Decimal `json:"price"`
	Change24hPct decimal.Decimal `json:"change_24h_pct"`
}

// UpdatePricesRequest is the JSON body for PUT /api/v1/prices.
type UpdatePricesRequest struct {
	Quotes map[string]PriceUpdate `json:"quotes"`
}

// UpdatePrices handles PUT /api/v1/prices: the external market-data feed
// pushes current quotes into the cache.
func (s *Service) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req UpdatePricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	accepted := 0
	for symbol, u := range req.Quotes {
		if symbol == "" || !u.Price.IsPositive() {
			continue
		}
		s.prices.Set(symbol, pricing.Quote{
			Price:        u.Price,
			Change24hPct: u.Change24hPct,
		})
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
