// Package model defines the core domain types shared across the grid
// engine, the client, and the reference server.
// Monetary values (amounts, payouts, P&L) use shopspring/decimal — never
// float64 for money. Prices and screen coordinates are float64 because
// they feed geometry, not accounting.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position status values. pending and active are non-terminal; won and
// lost are terminal.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusWon     = "won"
	StatusLost    = "lost"
)

// Defaults applied to any GridConfig field the server leaves zero.
var (
	DefaultRowCount        = 20
	DefaultColCount        = 10
	DefaultIntervalMS      = int64(5000)
	DefaultHouseEdge       = 0.04
	DefaultMinMultiplier   = 1.01
	DefaultMaxMultiplier   = 50.0
	DefaultMaxActiveTrades = 10
	DefaultMinTradeAmount  = decimal.NewFromInt(1)
	DefaultBetSizePresets  = []float64{1, 5, 10, 25, 100}
	DefaultLeveragePresets = []int{1, 2, 5, 10}
	DefaultMaxLeverage     = 10
	DefaultMinTimeBufferMS = int64(2000)
)

// MaxPriceHistory bounds the retained price trace.
const MaxPriceHistory = 500

// recenterFraction is how close (relative to the price span) the live
// price may get to either bound before the config is re-centered.
const recenterFraction = 0.15

// GridConfig describes one symbol's betting grid. The server replaces it
// wholesale; the engine keeps its current copy unless the price nears an
// edge, to avoid visual discontinuity.
type GridConfig struct {
	Symbol          string          `json:"symbol" db:"symbol"`
	RowCount        int             `json:"row_count" db:"row_count"`
	ColCount        int             `json:"col_count" db:"col_count"`
	IntervalMS      int64           `json:"interval_ms" db:"interval_ms"`
	RowHeight       float64         `json:"row_height" db:"row_height"` // price units per row
	PriceHigh       float64         `json:"price_high" db:"price_high"`
	PriceLow        float64         `json:"price_low" db:"price_low"`
	HouseEdge       float64         `json:"house_edge" db:"house_edge"`
	MinMultiplier   float64         `json:"min_multiplier" db:"min_multiplier"`
	MaxMultiplier   float64         `json:"max_multiplier" db:"max_multiplier"`
	MaxActiveTrades int             `json:"max_active_trades" db:"max_active_trades"`
	MinTradeAmount  decimal.Decimal `json:"min_trade_amount" db:"min_trade_amount"`
	BetSizePresets  []float64       `json:"bet_size_presets,omitempty"`
	LeveragePresets []int           `json:"leverage_presets,omitempty"`
	MaxLeverage     int             `json:"max_leverage" db:"max_leverage"`
	MinTimeBufferMS int64           `json:"min_time_buffer_ms" db:"min_time_buffer_ms"`
}

// ApplyDefaults fills every zero field with its documented default.
// Missing config data is never fatal.
func (c *GridConfig) ApplyDefaults() {
	if c.RowCount <= 0 {
		c.RowCount = DefaultRowCount
	}
	if c.ColCount <= 0 {
		c.ColCount = DefaultColCount
	}
	if c.IntervalMS <= 0 {
		c.IntervalMS = DefaultIntervalMS
	}
	if c.PriceHigh <= c.PriceLow {
		// Degenerate bounds: span one price unit per row above the low.
		c.PriceHigh = c.PriceLow + float64(c.RowCount)
	}
	if c.RowHeight <= 0 {
		c.RowHeight = (c.PriceHigh - c.PriceLow) / float64(c.RowCount)
	}
	if c.HouseEdge <= 0 {
		c.HouseEdge = DefaultHouseEdge
	}
	if c.MinMultiplier <= 0 {
		c.MinMultiplier = DefaultMinMultiplier
	}
	if c.MaxMultiplier <= 0 {
		c.MaxMultiplier = DefaultMaxMultiplier
	}
	if c.MaxActiveTrades <= 0 {
		c.MaxActiveTrades = DefaultMaxActiveTrades
	}
	if c.MinTradeAmount.LessThanOrEqual(decimal.Zero) {
		c.MinTradeAmount = DefaultMinTradeAmount
	}
	if len(c.BetSizePresets) == 0 {
		c.BetSizePresets = append([]float64(nil), DefaultBetSizePresets...)
	}
	if len(c.LeveragePresets) == 0 {
		c.LeveragePresets = append([]int(nil), DefaultLeveragePresets...)
	}
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = DefaultMaxLeverage
	}
	if c.MinTimeBufferMS <= 0 {
		c.MinTimeBufferMS = DefaultMinTimeBufferMS
	}
}

// Interval returns the column duration.
func (c GridConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// MinTimeBuffer returns the minimum remaining column time for a tap.
func (c GridConfig) MinTimeBuffer() time.Duration {
	return time.Duration(c.MinTimeBufferMS) * time.Millisecond
}

// NeedsRecenter reports whether the price has drifted within 15% of
// either bound. Only then does the engine accept replacement bounds.
func (c GridConfig) NeedsRecenter(price float64) bool {
	span := c.PriceHigh - c.PriceLow
	if span <= 0 {
		return true
	}
	margin := span * recenterFraction
	return price >= c.PriceHigh-margin || price <= c.PriceLow+margin
}

// RowPriceBounds returns the price range covered by a row. Row 0 is the
// top of the grid (highest prices).
func (c GridConfig) RowPriceBounds(row int) (low, high float64) {
	high = c.PriceHigh - float64(row)*c.RowHeight
	low = high - c.RowHeight
	return low, high
}

// Position is one time-boxed price-range bet. The id carries a local
// "pending-" prefix until a server-assigned id replaces it.
type Position struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	RowIndex    int             `json:"row_index" db:"row_index"`
	ColIndex    int             `json:"col_index" db:"col_index"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Leverage    int             `json:"leverage" db:"leverage"`
	Multiplier  float64         `json:"multiplier" db:"multiplier"` // server-sourced, never recomputed locally
	PriceLow    float64         `json:"price_low" db:"price_low"`
	PriceHigh   float64         `json:"price_high" db:"price_high"`
	TimeStart   time.Time       `json:"time_start" db:"time_start"`
	TimeEnd     time.Time       `json:"time_end" db:"time_end"`
	Status      string          `json:"status" db:"status"`
	ResultPnL   decimal.Decimal `json:"result_pnl" db:"result_pnl"`
	Payout      decimal.Decimal `json:"payout" db:"payout"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Terminal reports whether the position has reached won or lost.
func (p *Position) Terminal() bool {
	return p.Status == StatusWon || p.Status == StatusLost
}

// Expired reports whether the position's time window has fully elapsed.
func (p *Position) Expired(now time.Time) bool {
	return now.After(p.TimeEnd)
}

// PriceSample is one point of the live price trace.
type PriceSample struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceHistory is a bounded append-only sequence of price samples.
// Appending past the cap drops the oldest sample.
type PriceHistory struct {
	samples []PriceSample
	max     int
}

// NewPriceHistory creates a history bounded at MaxPriceHistory samples.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{max: MaxPriceHistory}
}

// Append records a sample, evicting the oldest when full.
func (h *PriceHistory) Append(s PriceSample) {
	h.samples = append(h.samples, s)
	if len(h.samples) > h.max {
		h.samples = h.samples[len(h.samples)-h.max:]
	}
}

// Len returns the number of retained samples.
func (h *PriceHistory) Len() int { return len(h.samples) }

// Samples returns a copy of the retained samples, oldest first.
func (h *PriceHistory) Samples() []PriceSample {
	out := make([]PriceSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Latest returns the newest sample, if any.
func (h *PriceHistory) Latest() (PriceSample, bool) {
	if len(h.samples) == 0 {
		return PriceSample{}, false
	}
	return h.samples[len(h.samples)-1], true
}
