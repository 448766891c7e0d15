package server

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
	"github.com/InfamousVague/wraith-grid/internal/server/store"
)

// Price tick and multiplier refresh cadence.
const (
	priceTickInterval = 250 * time.Millisecond
	matrixInterval    = time.Second
	expiryInterval    = time.Second
)

// Simulator drives one symbol's market: a random-walk price feed, the
// probability-derived multiplier matrix, and expiry resolution of open
// positions. The real exchange feed plugs in at the same seams.
type Simulator struct {
	st  store.Store
	hub *Hub

	mu      sync.Mutex
	cfg     model.GridConfig
	price   float64
	sigma   float64 // per-second stddev in price units
	history *model.PriceHistory
	matrix  [][]float64
	rng     *rand.Rand
}

// NewSimulator creates a simulator for one symbol with an initial
// matrix already computed, so state reads work before Run.
func NewSimulator(st store.Store, hub *Hub, cfg model.GridConfig, seed int64) *Simulator {
	cfg.ApplyDefaults()
	s := &Simulator{
		st:      st,
		hub:     hub,
		cfg:     cfg,
		price:   (cfg.PriceHigh + cfg.PriceLow) / 2,
		sigma:   cfg.RowHeight * 0.4,
		history: model.NewPriceHistory(),
		rng:     rand.New(rand.NewSource(seed)),
	}
	s.history.Append(model.PriceSample{Time: time.Now(), Price: s.price})
	s.matrix = s.computeMatrix()
	return s
}

// Run drives the price, matrix, and expiry loops until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	priceTicker := time.NewTicker(priceTickInterval)
	matrixTicker := time.NewTicker(matrixInterval)
	expiryTicker := time.NewTicker(expiryInterval)
	defer priceTicker.Stop()
	defer matrixTicker.Stop()
	defer expiryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTicker.C:
			s.tick()
		case <-matrixTicker.C:
			s.refreshMatrix(ctx)
		case <-expiryTicker.C:
			s.resolveExpired(ctx)
		}
	}
}

// Config returns the current grid config.
func (s *Simulator) Config() model.GridConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Price returns the latest simulated price.
func (s *Simulator) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

// Matrix returns a copy of the current multiplier matrix.
func (s *Simulator) Matrix() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.matrix))
	for r, row := range s.matrix {
		out[r] = append([]float64(nil), row...)
	}
	return out
}

// History returns the retained price samples, oldest first.
func (s *Simulator) History() []model.PriceSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Samples()
}

// MultiplierAt returns the current quoted multiplier for a cell, or 0
// when the cell is out of range.
func (s *Simulator) MultiplierAt(row, col int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= len(s.matrix) {
		return 0
	}
	if col < 0 || col >= len(s.matrix[row]) {
		return 0
	}
	return s.matrix[row][col]
}

// tick advances the random walk one step and broadcasts the sample.
func (s *Simulator) tick() {
	s.mu.Lock()
	step := s.rng.NormFloat64() * s.sigma * math.Sqrt(priceTickInterval.Seconds())
	s.price += step
	now := time.Now()
	s.history.Append(model.PriceSample{Time: now, Price: s.price})
	sym, price := s.cfg.Symbol, s.price
	s.mu.Unlock()

	s.hub.Broadcast(model.StreamMessage{
		Type:      model.MsgPriceTick,
		Symbol:    sym,
		Timestamp: now,
		Price:     price,
	})
}

// refreshMatrix recomputes the quoted multipliers and, when the price
// has drifted near a grid edge, recenters the bounds around it.
func (s *Simulator) refreshMatrix(ctx context.Context) {
	s.mu.Lock()
	var replaced *model.GridConfig
	if s.cfg.NeedsRecenter(s.price) {
		span := s.cfg.PriceHigh - s.cfg.PriceLow
		s.cfg.PriceHigh = s.price + span/2
		s.cfg.PriceLow = s.price - span/2
		cfg := s.cfg
		replaced = &cfg
	}
	s.matrix = s.computeMatrix()
	msg := model.StreamMessage{
		Type:      model.MsgMultiplierUpdate,
		Symbol:    s.cfg.Symbol,
		Timestamp: time.Now(),
		Matrix:    s.matrix,
		Price:     s.price,
		Config:    replaced,
	}
	s.mu.Unlock()

	if replaced != nil {
		if err := s.st.PutConfig(ctx, *replaced); err != nil {
			slog.Warn("persist recentered config", "symbol", replaced.Symbol, "err", err)
		}
		slog.Info("grid recentered",
			"symbol", replaced.Symbol,
			"price_high", replaced.PriceHigh,
			"price_low", replaced.PriceLow,
		)
	}
	s.hub.Broadcast(msg)
}

// computeMatrix quotes one multiplier per cell: the inverse hit
// probability of the row's price band at the column's horizon, scaled
// down by the house edge and clamped to the configured range. Rows
// carry exactly ColCount columns; clients append their own render
// padding. Caller holds s.mu.
func (s *Simulator) computeMatrix() [][]float64 {
	cols := s.cfg.ColCount
	interval := s.cfg.Interval().Seconds()

	matrix := make([][]float64, s.cfg.RowCount)
	for r := 0; r < s.cfg.RowCount; r++ {
		matrix[r] = make([]float64, cols)
		low, high := s.cfg.RowPriceBounds(r)
		for c := 0; c < cols; c++ {
			horizon := (float64(c) + 0.5) * interval
			p := bandProbability(s.price, low, high, s.sigma*math.Sqrt(horizon))
			matrix[r][c] = s.quote(p)
		}
	}
	return matrix
}

// quote converts a hit probability into a payout multiplier.
func (s *Simulator) quote(p float64) float64 {
	if p <= 0 {
		return s.cfg.MaxMultiplier
	}
	m := (1 - s.cfg.HouseEdge) / p
	return math.Min(math.Max(m, s.cfg.MinMultiplier), s.cfg.MaxMultiplier)
}

// bandProbability is the chance a normally distributed future price
// lands inside [low, high) given the stddev at that horizon.
func bandProbability(price, low, high, sd float64) float64 {
	if sd <= 0 {
		if price >= low && price < high {
			return 1
		}
		return 0
	}
	return 0.5 * (math.Erf((high-price)/(sd*math.Sqrt2)) - math.Erf((low-price)/(sd*math.Sqrt2)))
}

// resolveExpired settles every open position whose window has elapsed:
// won when the settlement price sits inside the position's band.
func (s *Simulator) resolveExpired(ctx context.Context) {
	s.mu.Lock()
	sym, price := s.cfg.Symbol, s.price
	s.mu.Unlock()

	open, err := s.st.ListOpenBySymbol(ctx, sym)
	if err != nil {
		slog.Warn("list open positions", "symbol", sym, "err", err)
		return
	}

	now := time.Now()
	var results []model.ExpiryResult
	for i := range open {
		p := &open[i]
		if !p.Expired(now) {
			continue
		}

		won := price >= p.PriceLow && price < p.PriceHigh
		payout := decimal.Zero
		pnl := p.Amount.Neg()
		status := model.StatusLost
		if won {
			payout = p.Amount.Mul(decimal.NewFromFloat(p.Multiplier))
			pnl = payout.Sub(p.Amount)
			status = model.StatusWon
		}

		if err := s.st.ResolvePosition(ctx, p.ID, status, payout, pnl, now); err != nil {
			slog.Warn("resolve position", "id", p.ID, "err", err)
			continue
		}
		metrics.TradesTotal.WithLabelValues(status).Inc()

		resolved := *p
		resolved.Status = status
		resolved.Payout = payout
		resolved.ResultPnL = pnl
		resolved.ResolvedAt = &now
		s.hub.Broadcast(model.StreamMessage{
			Type:      model.MsgTradeResolved,
			Symbol:    sym,
			Timestamp: now,
			Position:  &resolved,
			Won:       won,
			Payout:    payout,
			PnL:       pnl,
		})

		results = append(results, model.ExpiryResult{
			PositionID: p.ID,
			Won:        won,
			Payout:     payout,
			PnL:        pnl,
		})
	}

	if len(results) > 0 {
		s.hub.Broadcast(model.StreamMessage{
			Type:      model.MsgColumnExpired,
			Symbol:    sym,
			Timestamp: now,
			Results:   results,
		})
		slog.Info("column settled", "symbol", sym, "positions", len(results))
	}
}
