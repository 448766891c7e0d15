package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutConfig(ctx context.Context, cfg model.GridConfig) error {
	if err := s.primary.PutConfig(ctx, cfg); err != nil {
		return err
	}
	s.cacheConfig(ctx, cfg)
	return nil
}

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	// Invalidate the portfolio list for this position's owner.
	s.rdb.Del(ctx, portfolioKey(p.Symbol, p.PortfolioID))
	return nil
}

func (s *CachedStore) ResolvePosition(ctx context.Context, id, status string, payout, pnl decimal.Decimal, at time.Time) error {
	if err := s.primary.ResolvePosition(ctx, id, status, payout, pnl, at); err != nil {
		return err
	}
	if p, err := s.primary.GetPosition(ctx, id); err == nil {
		s.rdb.Del(ctx, portfolioKey(p.Symbol, p.PortfolioID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetConfig(ctx context.Context, symbol string) (*model.GridConfig, error) {
	data, err := s.rdb.Get(ctx, configKey(symbol)).Bytes()
	if err == nil {
		var cfg model.GridConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	// Cache miss: read from primary.
	cfg, err := s.primary.GetConfig(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheConfig(ctx, *cfg)
	return cfg, nil
}

func (s *CachedStore) ListByPortfolio(ctx context.Context, symbol, portfolioID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(symbol, portfolioID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.ListByPortfolio(ctx, symbol, portfolioID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, portfolioKey(symbol, portfolioID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	// The expiry loop reads this every second; caching would only serve
	// stale terminal statuses back to it.
	return s.primary.ListOpenBySymbol(ctx, symbol)
}

// --- Cache helpers ---

func (s *CachedStore) cacheConfig(ctx context.Context, cfg model.GridConfig) {
	if data, err := json.Marshal(cfg); err == nil {
		s.rdb.Set(ctx, configKey(cfg.Symbol), data, s.ttl)
	}
}

func configKey(symbol string) string { return fmt.Sprintf("gridcfg:%s", symbol) }

func portfolioKey(symbol, pf string) string { return fmt.Sprintf("positions:%s:%s", symbol, pf) }
