package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	configs   map[string]model.GridConfig
	positions map[string]*model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]model.GridConfig),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) PutConfig(_ context.Context, cfg model.GridConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Symbol] = cfg
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context, symbol string) (*model.GridConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[symbol]
	if !ok {
		return nil, fmt.Errorf("config for %s: %w", symbol, ErrNotFound)
	}
	return &cfg, nil
}

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	// Store a copy to avoid external mutation.
	copy := *p
	s.positions[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ResolvePosition(_ context.Context, id, status string, payout, pnl decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	if p.Terminal() {
		return nil
	}
	p.Status = status
	p.Payout = payout
	p.ResultPnL = pnl
	resolved := at
	p.ResolvedAt = &resolved
	return nil
}

func (s *MemoryStore) ListOpenBySymbol(_ context.Context, symbol string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Symbol == symbol && !p.Terminal() {
			result = append(result, *p)
		}
	}
	sortByCreated(result)
	return result, nil
}

func (s *MemoryStore) ListByPortfolio(_ context.Context, symbol, portfolioID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Symbol == symbol && p.PortfolioID == portfolioID {
			result = append(result, *p)
		}
	}
	sortByCreated(result)
	return result, nil
}

func sortByCreated(ps []model.Position) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}
