package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) PutConfig(ctx context.Context, cfg model.GridConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO grid_configs (symbol, row_count, col_count, interval_ms, row_height,
		                           price_high, price_low, house_edge, min_multiplier, max_multiplier,
		                           max_active_trades, min_trade_amount, max_leverage, min_time_buffer_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::NUMERIC, $13, $14)
		 ON CONFLICT (symbol) DO UPDATE SET
		   row_count = EXCLUDED.row_count, col_count = EXCLUDED.col_count,
		   interval_ms = EXCLUDED.interval_ms, row_height = EXCLUDED.row_height,
		   price_high = EXCLUDED.price_high, price_low = EXCLUDED.price_low,
		   house_edge = EXCLUDED.house_edge,
		   min_multiplier = EXCLUDED.min_multiplier, max_multiplier = EXCLUDED.max_multiplier,
		   max_active_trades = EXCLUDED.max_active_trades,
		   min_trade_amount = EXCLUDED.min_trade_amount,
		   max_leverage = EXCLUDED.max_leverage,
		   min_time_buffer_ms = EXCLUDED.min_time_buffer_ms`,
		cfg.Symbol, cfg.RowCount, cfg.ColCount, cfg.IntervalMS, cfg.RowHeight,
		cfg.PriceHigh, cfg.PriceLow, cfg.HouseEdge, cfg.MinMultiplier, cfg.MaxMultiplier,
		cfg.MaxActiveTrades, cfg.MinTradeAmount.String(), cfg.MaxLeverage, cfg.MinTimeBufferMS,
	)
	return err
}

func (s *PostgresStore) GetConfig(ctx context.Context, symbol string) (*model.GridConfig, error) {
	var cfg model.GridConfig
	var minTrade string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, row_count, col_count, interval_ms, row_height,
		        price_high, price_low, house_edge, min_multiplier, max_multiplier,
		        max_active_trades, min_trade_amount::TEXT, max_leverage, min_time_buffer_ms
		 FROM grid_configs WHERE symbol = $1`, symbol).
		Scan(&cfg.Symbol, &cfg.RowCount, &cfg.ColCount, &cfg.IntervalMS, &cfg.RowHeight,
			&cfg.PriceHigh, &cfg.PriceLow, &cfg.HouseEdge, &cfg.MinMultiplier, &cfg.MaxMultiplier,
			&cfg.MaxActiveTrades, &minTrade, &cfg.MaxLeverage, &cfg.MinTimeBufferMS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("config for %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("get config %s: %w", symbol, err)
	}

	cfg.MinTradeAmount, _ = decimal.NewFromString(minTrade)
	return &cfg, nil
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, portfolio_id, symbol, row_index, col_index,
		                        amount, leverage, multiplier, price_low, price_high,
		                        time_start, time_end, status, result_pnl, payout, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10, $11, $12, $13, $14::NUMERIC, $15::NUMERIC, $16)`,
		p.ID, p.PortfolioID, p.Symbol, p.RowIndex, p.ColIndex,
		p.Amount.String(), p.Leverage, p.Multiplier, p.PriceLow, p.PriceHigh,
		p.TimeStart, p.TimeEnd, p.Status, p.ResultPnL.String(), p.Payout.String(), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx, selectPositions+` WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ResolvePosition(ctx context.Context, id, status string, payout, pnl decimal.Decimal, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET status = $2, payout = $3::NUMERIC, result_pnl = $4::NUMERIC, resolved_at = $5
		 WHERE id = $1 AND status NOT IN ('won', 'lost')`,
		id, status, payout.String(), pnl.String(), at,
	)
	return err
}

func (s *PostgresStore) ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		selectPositions+` WHERE symbol = $1 AND status NOT IN ('won', 'lost') ORDER BY created_at DESC`,
		symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListByPortfolio(ctx context.Context, symbol, portfolioID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		selectPositions+` WHERE symbol = $1 AND portfolio_id = $2 ORDER BY created_at DESC`,
		symbol, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

const selectPositions = `SELECT id, portfolio_id, symbol, row_index, col_index,
       amount::TEXT, leverage, multiplier, price_low, price_high,
       time_start, time_end, status, result_pnl::TEXT, payout::TEXT,
       created_at, resolved_at
  FROM positions`

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var amountS, pnlS, payoutS string

	if err := row.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &p.RowIndex, &p.ColIndex,
		&amountS, &p.Leverage, &p.Multiplier, &p.PriceLow, &p.PriceHigh,
		&p.TimeStart, &p.TimeEnd, &p.Status, &pnlS, &payoutS,
		&p.CreatedAt, &p.ResolvedAt); err != nil {
		return nil, err
	}

	p.Amount, _ = decimal.NewFromString(amountS)
	p.ResultPnL, _ = decimal.NewFromString(pnlS)
	p.Payout, _ = decimal.NewFromString(payoutS)
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}
