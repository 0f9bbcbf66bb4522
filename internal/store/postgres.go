package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/foliodesk/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// ApplySettlement runs inside one transaction with version-guarded updates,
// so a settlement commits fully or not at all.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const holdingColumns = `user_id, symbol, asset_type, wallet_address,
	quantity::TEXT, average_cost::TEXT, total_invested::TEXT, current_price::TEXT,
	version, updated_at`

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var qty, avg, invested, price string

	if err := row.Scan(&h.UserID, &h.Symbol, &h.AssetType, &h.WalletAddress,
		&qty, &avg, &invested, &price,
		&h.Version, &h.UpdatedAt); err != nil {
		return nil, err
	}

	h.Quantity, _ = decimal.NewFromString(qty)
	h.AverageCost, _ = decimal.NewFromString(avg)
	h.TotalInvested, _ = decimal.NewFromString(invested)
	h.CurrentPrice, _ = decimal.NewFromString(price)
	return &h, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, symbol string, assetType model.AssetType, wallet string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings
		 WHERE user_id = $1 AND symbol = $2 AND asset_type = $3 AND wallet_address = $4`,
		userID, symbol, assetType, wallet)

	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, symbol, err)
	}
	return h, nil
}

func (s *PostgresStore) GetHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) GetCashBalance(ctx context.Context, userID string) (*model.CashBalance, error) {
	var b model.CashBalance
	var available, locked string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, currency, available::TEXT, locked::TEXT, version, updated_at
		 FROM cash_balances WHERE user_id = $1`, userID).
		Scan(&b.UserID, &b.Currency, &available, &locked, &b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cash balance %s: %w", userID, err)
	}

	b.Available, _ = decimal.NewFromString(available)
	b.Locked, _ = decimal.NewFromString(locked)
	return &b, nil
}

func (s *PostgresStore) Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal) (*model.CashBalance, error) {
	var b model.CashBalance
	var available, locked string

	err := s.pool.QueryRow(ctx,
		`INSERT INTO cash_balances (user_id, currency, available, locked, version, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, 0, 1, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET available = cash_balances.available + EXCLUDED.available,
		     version = cash_balances.version + 1,
		     updated_at = EXCLUDED.updated_at
		 RETURNING user_id, currency, available::TEXT, locked::TEXT, version, updated_at`,
		userID, currency, amount.String(), time.Now().UTC()).
		Scan(&b.UserID, &b.Currency, &available, &locked, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("deposit for %s: %w", userID, err)
	}

	b.Available, _ = decimal.NewFromString(available)
	b.Locked, _ = decimal.NewFromString(locked)
	return &b, nil
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, w SettlementWrite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyHolding(ctx, tx, w); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE cash_balances
		 SET available = $2::NUMERIC, locked = $3::NUMERIC,
		     version = version + 1, updated_at = $4
		 WHERE user_id = $1 AND version = $5`,
		w.Cash.UserID, w.Cash.Available.String(), w.Cash.Locked.String(),
		time.Now().UTC(), w.Cash.Version)
	if err != nil {
		return fmt.Errorf("update cash balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	t := w.Trade
	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, asset_type, side,
		                     quantity, price_at_execution, gross_amount, fee, net_amount,
		                     realized_pnl, status, executed_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12, $13)`,
		t.ID, t.UserID, t.Symbol, t.AssetType, t.Side,
		t.Quantity.String(), t.PriceAtExecution.String(), t.GrossAmount.String(),
		t.Fee.String(), t.NetAmount.String(),
		t.RealizedPnL.String(), t.Status, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}

	return tx.Commit(ctx)
}

// isUniqueViolation reports whether err is a PostgreSQL unique-key
// violation (SQLSTATE 23505). Any other database error must surface as a
// persistence failure, not a conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func applyHolding(ctx context.Context, tx pgx.Tx, w SettlementWrite) error {
	h := w.Holding

	if w.DeleteHolding {
		tag, err := tx.Exec(ctx,
			`DELETE FROM holdings
			 WHERE user_id = $1 AND symbol = $2 AND asset_type = $3
			   AND wallet_address = $4 AND version = $5`,
			h.UserID, h.Symbol, h.AssetType, h.WalletAddress, h.Version)
		if err != nil {
			return fmt.Errorf("delete closed holding: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		return nil
	}

	if !w.HoldingExisted {
		// First buy. A unique-key violation here means a concurrent
		// settlement created the holding after our read.
		_, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, symbol, asset_type, wallet_address,
			                       quantity, average_cost, total_invested, current_price,
			                       version, updated_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, 1, $9)`,
			h.UserID, h.Symbol, h.AssetType, h.WalletAddress,
			h.Quantity.String(), h.AverageCost.String(), h.TotalInvested.String(),
			h.CurrentPrice.String(), h.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert holding: %w", err)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE holdings
		 SET quantity = $6::NUMERIC, average_cost = $7::NUMERIC,
		     total_invested = $8::NUMERIC, current_price = $9::NUMERIC,
		     version = version + 1, updated_at = $10
		 WHERE user_id = $1 AND symbol = $2 AND asset_type = $3
		   AND wallet_address = $4 AND version = $5`,
		h.UserID, h.Symbol, h.AssetType, h.WalletAddress, h.Version,
		h.Quantity.String(), h.AverageCost.String(), h.TotalInvested.String(),
		h.CurrentPrice.String(), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) GetTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, asset_type, side,
		        quantity::TEXT, price_at_execution::TEXT, gross_amount::TEXT,
		        fee::TEXT, net_amount::TEXT, realized_pnl::TEXT, status, executed_at
		 FROM trades WHERE user_id = $1 ORDER BY executed_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, gross, feeS, net, pnl string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.AssetType, &t.Side,
			&qty, &price, &gross, &feeS, &net, &pnl, &t.Status, &t.ExecutedAt); err != nil {
			return nil, err
		}

		t.Quantity, _ = decimal.NewFromString(qty)
		t.PriceAtExecution, _ = decimal.NewFromString(price)
		t.GrossAmount, _ = decimal.NewFromString(gross)
		t.Fee, _ = decimal.NewFromString(feeS)
		t.NetAmount, _ = decimal.NewFromString(net)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
