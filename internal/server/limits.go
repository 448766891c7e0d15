package server

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

var (
	// ErrAmountBelowMinimum is returned when the stake is under the
	// configured minimum trade size.
	ErrAmountBelowMinimum = errors.New("server: amount below minimum trade size")

	// ErrLeverageExceeded is returned when leverage is above the
	// configured maximum.
	ErrLeverageExceeded = errors.New("server: leverage above maximum")

	// ErrCellOutOfRange is returned when the target cell lies outside
	// the configured grid.
	ErrCellOutOfRange = errors.New("server: cell outside the grid")

	// ErrWindowClosed is returned when the target column starts too soon
	// or has already started.
	ErrWindowClosed = errors.New("server: column window inside the time buffer")

	// ErrCellTaken is returned when the portfolio already holds an open
	// position on the same cell window.
	ErrCellTaken = errors.New("server: cell already taken by an open position")

	// ErrTooManyActive is returned at the concurrent open-trade cap.
	ErrTooManyActive = errors.New("server: too many active trades")
)

// TradeLimiter re-validates trade requests server-side. The client
// performs the same checks before sending, but the server is the
// authority: a stale or hostile client must not bypass them.
type TradeLimiter struct{}

// NewTradeLimiter creates a limiter.
func NewTradeLimiter() *TradeLimiter {
	return &TradeLimiter{}
}

// Check validates one request against the symbol's config and the
// portfolio's open positions. Returns nil if the trade is acceptable.
func (l *TradeLimiter) Check(cfg model.GridConfig, req model.PlaceTradeRequest, open []model.Position, now time.Time) error {
	if req.Amount.LessThan(cfg.MinTradeAmount) || req.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrAmountBelowMinimum
	}
	if req.Leverage > cfg.MaxLeverage {
		return ErrLeverageExceeded
	}
	if req.RowIndex < 0 || req.RowIndex >= cfg.RowCount {
		return ErrCellOutOfRange
	}
	if req.ColIndex < 0 || req.ColIndex >= cfg.ColCount+model.PaddingCols {
		return ErrCellOutOfRange
	}
	if req.TimeEnd.Sub(now) < cfg.MinTimeBuffer() || !req.TimeStart.After(now.Add(-cfg.Interval())) {
		return ErrWindowClosed
	}

	active := 0
	for i := range open {
		p := &open[i]
		if p.Terminal() {
			continue
		}
		active++
		if p.RowIndex == req.RowIndex && sameWindow(p.TimeStart, req.TimeStart, cfg.Interval()) {
			return ErrCellTaken
		}
	}
	if active >= cfg.MaxActiveTrades {
		return ErrTooManyActive
	}
	return nil
}

// sameWindow reports whether two window starts fall inside the same
// column interval. Client clocks drift, so exact equality is too strict.
func sameWindow(a, b time.Time, interval time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < interval/2
}
