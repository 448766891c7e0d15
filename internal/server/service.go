// Package server implements the reference grid server: state and trade
// HTTP handlers, the WebSocket fan-out hub, and the market simulator.
//
// All monetary values use shopspring/decimal — never float64 for money.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
	"github.com/InfamousVague/wraith-grid/internal/server/store"
	"github.com/InfamousVague/wraith-grid/internal/symbol"
)

// Service handles grid state and trade requests. One simulator runs per
// configured symbol; the service routes requests to the right one.
type Service struct {
	store   store.Store
	limiter *TradeLimiter
	hub     *Hub
	sims    map[string]*Simulator
}

// NewService creates a service over the given per-symbol simulators.
func NewService(st store.Store, limiter *TradeLimiter, hub *Hub, sims map[string]*Simulator) *Service {
	return &Service{
		store:   st,
		limiter: limiter,
		hub:     hub,
		sims:    sims,
	}
}

// GetGridState handles GET /api/v1/grid/{symbol}/state.
// Optional ?portfolio=<id> includes that portfolio's positions.
func (s *Service) GetGridState(w http.ResponseWriter, r *http.Request) {
	sym := chi.URLParam(r, "symbol")
	if _, err := symbol.Parse(sym); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sim, ok := s.sims[sym]
	if !ok {
		writeError(w, "unknown symbol: "+sym, http.StatusNotFound)
		return
	}

	resp := model.StateResponse{
		Config:       sim.Config(),
		Matrix:       sim.Matrix(),
		PriceHistory: sim.History(),
		CurrentPrice: sim.Price(),
	}

	if pf := r.URL.Query().Get("portfolio"); pf != "" {
		positions, err := s.store.ListByPortfolio(r.Context(), sym, pf)
		if err != nil {
			writeError(w, "failed to load positions", http.StatusInternalServerError)
			return
		}
		// Only live positions seed the client; terminal ones have
		// already faded out.
		for i := range positions {
			if !positions[i].Terminal() {
				resp.Positions = append(resp.Positions, positions[i])
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PlaceTrade handles POST /api/v1/trade.
// Re-validates everything the client checked; the quoted multiplier in
// the request is ignored in favor of the server's current quote.
func (s *Service) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req model.PlaceTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.PortfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}
	if _, err := symbol.Parse(req.Symbol); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sim, ok := s.sims[req.Symbol]
	if !ok {
		writeError(w, "unknown symbol: "+req.Symbol, http.StatusNotFound)
		return
	}

	ctx := r.Context()
	cfg := sim.Config()

	open, err := s.store.ListByPortfolio(ctx, req.Symbol, req.PortfolioID)
	if err != nil {
		writeError(w, "failed to check open positions", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.Check(cfg, req, open, time.Now()); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	// Padding columns beyond the quoted range carry the last real
	// column's multiplier, matching what the client renders there.
	mult := sim.MultiplierAt(req.RowIndex, min(req.ColIndex, cfg.ColCount-1))
	if mult <= 0 {
		writeError(w, "no quote for the requested cell", http.StatusConflict)
		return
	}

	priceLow, priceHigh := cfg.RowPriceBounds(req.RowIndex)
	pos := &model.Position{
		ID:          uuid.New().String(),
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		RowIndex:    req.RowIndex,
		ColIndex:    req.ColIndex,
		Amount:      req.Amount,
		Leverage:    max(req.Leverage, 1),
		Multiplier:  mult,
		PriceLow:    priceLow,
		PriceHigh:   priceHigh,
		TimeStart:   req.TimeStart,
		TimeEnd:     req.TimeEnd,
		Status:      model.StatusActive,
		ResultPnL:   decimal.Zero,
		Payout:      decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.InsertPosition(ctx, pos); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}
	metrics.TradesTotal.WithLabelValues(model.StatusActive).Inc()

	slog.Info("trade accepted",
		"id", pos.ID,
		"portfolio", pos.PortfolioID,
		"symbol", pos.Symbol,
		"row", pos.RowIndex,
		"col", pos.ColIndex,
		"amount", pos.Amount.String(),
		"multiplier", pos.Multiplier,
	)

	s.hub.Broadcast(model.StreamMessage{
		Type:      model.MsgTradePlaced,
		Symbol:    pos.Symbol,
		Timestamp: pos.CreatedAt,
		Position:  pos,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pos)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
