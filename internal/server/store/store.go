// Package store defines the persistence interface for the grid server.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-node development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

// ErrNotFound is returned when a config or position does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Grid configs ---

	// PutConfig inserts or replaces a symbol's grid config.
	PutConfig(ctx context.Context, cfg model.GridConfig) error

	// GetConfig retrieves the grid config for a symbol.
	GetConfig(ctx context.Context, symbol string) (*model.GridConfig, error)

	// --- Positions ---

	// InsertPosition persists a newly accepted trade.
	InsertPosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ResolvePosition records a terminal outcome. Already-terminal
	// positions are left untouched.
	ResolvePosition(ctx context.Context, id, status string, payout, pnl decimal.Decimal, at time.Time) error

	// ListOpenBySymbol returns every non-terminal position on a symbol.
	ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error)

	// ListByPortfolio returns a portfolio's positions on a symbol,
	// newest first.
	ListByPortfolio(ctx context.Context, symbol, portfolioID string) ([]model.Position, error)
}
