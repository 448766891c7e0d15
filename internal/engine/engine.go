// Package engine owns one live grid: session epoch, viewport, position
// reconciliation, the frame loop, and the timeout sweep. All mutable
// state lives behind the engine's lock; the two asynchronous sources
// (pull responses, streamed events) apply whole updates under it, so
// frames only ever observe fully-applied snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/grid"
	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
	"github.com/InfamousVague/wraith-grid/internal/position"
)

// DefaultFrameRate caps the frame loop when the caller does not supply
// a display rate.
const DefaultFrameRate = 60

var (
	// ErrAuthRequired rejects placement without a portfolio session,
	// before any network call.
	ErrAuthRequired = errors.New("engine: placement requires a portfolio session")

	// ErrNotReady is returned while the canvas is unsized or no config
	// has been fetched.
	ErrNotReady = errors.New("engine: grid is not ready")

	// ErrOutsideGrid rejects taps outside the bettable rectangle.
	ErrOutsideGrid = errors.New("engine: tap outside the grid")

	// ErrAmountTooSmall rejects stakes below the configured minimum.
	ErrAmountTooSmall = errors.New("engine: amount below minimum trade size")

	// ErrLeverageTooHigh rejects leverage above the configured maximum.
	ErrLeverageTooHigh = errors.New("engine: leverage above maximum")

	// ErrMaxActiveTrades rejects placement at the concurrent trade cap.
	ErrMaxActiveTrades = errors.New("engine: too many active trades")

	// ErrInsufficientBalance rejects stakes above the known balance.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine: already started")
)

// APIClient is the pull-based request/response channel.
type APIClient interface {
	FetchState(ctx context.Context, sym string, rows, cols int, portfolioID string) (*model.StateResponse, error)
	PlaceTrade(ctx context.Context, req model.PlaceTradeRequest) (*model.Position, error)
}

// Streamer is the push-based streaming channel. The returned channel
// closes when ctx is cancelled.
type Streamer interface {
	Subscribe(ctx context.Context, sym, portfolioID string) (<-chan model.StreamMessage, error)
}

// Options configure one engine instance.
type Options struct {
	Symbol      string
	PortfolioID string
	FrameRate   int
	Zoom        float64
	Compact     bool

	CanvasWidth  float64
	CanvasHeight float64
	DPR          float64
}

// Engine drives one grid. Create with New, run with Start, and always
// Stop before discarding so no timers or subscriptions leak.
type Engine struct {
	api      APIClient
	streamer Streamer
	renderer Renderer

	clock func() time.Time

	mu         sync.Mutex
	opts       Options
	cfg        model.GridConfig
	haveConfig bool
	epoch      time.Time
	matrix     model.MultiplierMatrix
	history    *model.PriceHistory
	price      float64
	viewport   *grid.Viewport
	rec        *position.Reconciler
	ripples    []ripple
	balance    decimal.Decimal // zero = unknown, check skipped
	placeErr   error           // one-shot user-facing placement error

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a stopped engine.
func New(api APIClient, streamer Streamer, renderer Renderer, opts Options) *Engine {
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.Zoom <= 0 {
		opts.Zoom = 1
	}
	return &Engine{
		api:      api,
		streamer: streamer,
		renderer: renderer,
		clock:    time.Now,
		opts:     opts,
		history:  model.NewPriceHistory(),
		viewport: grid.NewViewport(),
		rec:      position.NewReconciler(),
	}
}

// Start fetches initial state, subscribes to the stream, and launches
// the frame and sweep loops. A fetch or subscribe failure is returned
// as a retryable error with nothing partially rendered.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	opts := e.opts
	e.mu.Unlock()

	resp, err := e.api.FetchState(ctx, opts.Symbol, 0, 0, opts.PortfolioID)
	if err != nil {
		return fmt.Errorf("engine: initial state fetch: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.streamer.Subscribe(runCtx, opts.Symbol, opts.PortfolioID)
	if err != nil {
		cancel()
		return fmt.Errorf("engine: stream subscribe: %w", err)
	}

	now := e.clock()

	e.mu.Lock()
	cfg := resp.Config
	cfg.Symbol = opts.Symbol
	cfg.ApplyDefaults()
	e.cfg = cfg
	e.haveConfig = true
	e.epoch = now
	e.matrix = model.NewMultiplierMatrix(resp.Matrix)
	e.history = model.NewPriceHistory()
	for _, s := range resp.PriceHistory {
		e.history.Append(s)
	}
	e.price = resp.CurrentPrice
	if e.price == 0 {
		if latest, ok := e.history.Latest(); ok {
			e.price = latest.Price
		}
	}
	e.viewport.Reset()
	e.viewport.SetBounds(cfg.PriceHigh, cfg.PriceLow, now)
	e.rec.Seed(resp.Positions)
	e.ripples = nil
	e.runCtx = runCtx
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(3)
	go e.streamLoop(runCtx, ch)
	go e.frameLoop(runCtx)
	go e.sweepLoop(runCtx)

	slog.Info("grid engine started",
		"symbol", opts.Symbol,
		"rows", cfg.RowCount,
		"cols", cfg.ColCount,
		"interval_ms", cfg.IntervalMS,
	)
	return nil
}

// Stop cancels the frame loop, the sweep, and the stream subscription,
// and waits for them to exit. Safe to call on a stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	slog.Info("grid engine stopped", "symbol", e.opts.Symbol)
}

// SwitchSymbol tears down every timer and subscription tied to the old
// symbol before establishing the new context — no periodic work leaks
// across the switch.
func (e *Engine) SwitchSymbol(ctx context.Context, sym string) error {
	e.Stop()

	e.mu.Lock()
	e.opts.Symbol = sym
	e.haveConfig = false
	e.matrix = model.MultiplierMatrix{}
	e.history = model.NewPriceHistory()
	e.price = 0
	e.viewport.Reset()
	e.rec.Reset()
	e.ripples = nil
	e.placeErr = nil
	e.mu.Unlock()

	return e.Start(ctx)
}

// SetCanvasSize updates the canvas dimensions and device pixel ratio.
func (e *Engine) SetCanvasSize(w, h, dpr float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.CanvasWidth, e.opts.CanvasHeight, e.opts.DPR = w, h, dpr
}

// SetZoom updates the zoom level. Geometry is recomputed and the
// viewport re-clamped on the next frame, in that order.
func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if zoom > 0 {
		e.opts.Zoom = zoom
	}
}

// SetCompact toggles the compact layout.
func (e *Engine) SetCompact(compact bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.Compact = compact
}

// SetBalance updates the known portfolio balance used for the
// pre-network insufficient-balance check. Zero disables the check.
func (e *Engine) SetBalance(b decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance = b
}

// PlacementError returns and clears the last placement failure. The
// error surfaces exactly once; there is no automatic retry.
func (e *Engine) PlacementError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.placeErr
	e.placeErr = nil
	return err
}

// Positions returns a snapshot of the merged position set.
func (e *Engine) Positions() []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Snapshot()
}

// CurrentPrice returns the latest known price.
func (e *Engine) CurrentPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price
}

// Tap hit-tests a pointer tap and, when every client-side check passes,
// creates an optimistic pending position and fires the place-trade call.
// All rejections happen before any network traffic, each with a
// distinct error.
func (e *Engine) Tap(x, y float64, amount decimal.Decimal, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()

	if e.opts.PortfolioID == "" {
		return e.reject("auth", ErrAuthRequired)
	}
	if !e.running || !e.haveConfig {
		return e.reject("not_ready", ErrNotReady)
	}
	geo, ok := grid.Compute(e.opts.CanvasWidth, e.opts.CanvasHeight, e.opts.DPR, e.cfg, e.opts.Zoom, e.opts.Compact)
	if !ok {
		return e.reject("not_ready", ErrNotReady)
	}
	m := e.mapper(geo, now)

	row, col, ok := m.ScreenToCell(x, y, now)
	if !ok {
		return e.reject("outside", ErrOutsideGrid)
	}

	win, err := grid.HitTest(col, m, e.cfg.MinTimeBuffer(), now)
	if err != nil {
		return e.reject("lockout", err)
	}

	if amount.LessThan(e.cfg.MinTradeAmount) {
		return e.reject("amount", ErrAmountTooSmall)
	}
	if leverage < 1 {
		leverage = 1
	}
	if leverage > e.cfg.MaxLeverage {
		return e.reject("leverage", ErrLeverageTooHigh)
	}
	if !e.balance.IsZero() && amount.GreaterThan(e.balance) {
		return e.reject("balance", ErrInsufficientBalance)
	}
	if e.rec.OpenCount(e.opts.PortfolioID) >= e.cfg.MaxActiveTrades {
		return e.reject("max_trades", ErrMaxActiveTrades)
	}
	if e.rec.Occupied(row, col, e.opts.PortfolioID) {
		return e.reject("occupied", position.ErrCellOccupied)
	}

	priceLow, priceHigh := e.cfg.RowPriceBounds(row)
	req := model.PlaceTradeRequest{
		Symbol:      e.cfg.Symbol,
		PortfolioID: e.opts.PortfolioID,
		RowIndex:    row,
		ColIndex:    col,
		Amount:      amount,
		Leverage:    leverage,
		Multiplier:  e.matrix.At(row, col), // display value; server's is authoritative
		PriceLow:    priceLow,
		PriceHigh:   priceHigh,
		TimeStart:   win.TimeStart,
		TimeEnd:     win.TimeEnd,
	}

	local, err := e.rec.CreateOptimistic(req, now)
	if err != nil {
		return e.reject("occupied", err)
	}
	e.ripples = append(e.ripples, ripple{row: row, col: col, start: now})
	metrics.PlacementsTotal.WithLabelValues("accepted").Inc()

	// Fire-and-forget; the response mutates shared state on completion.
	e.wg.Add(1)
	go e.placeTrade(e.runCtx, req, local.ID)

	slog.Info("trade placement sent",
		"symbol", req.Symbol,
		"row", row,
		"col", col,
		"amount", amount.String(),
		"local_id", local.ID,
	)
	return nil
}

func (e *Engine) reject(reason string, err error) error {
	metrics.PlacementRejections.WithLabelValues(reason).Inc()
	return err
}

// placeTrade runs the pull-channel confirmation leg. A failure removes
// the optimistic entry and surfaces a one-shot error; no retry.
func (e *Engine) placeTrade(ctx context.Context, req model.PlaceTradeRequest, localID string) {
	defer e.wg.Done()

	resp, err := e.api.PlaceTrade(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.rec.Remove(localID)
		e.placeErr = err
		metrics.PlacementsTotal.WithLabelValues("failed").Inc()
		slog.Warn("trade placement failed", "local_id", localID, "err", err)
		return
	}
	e.rec.Confirm(*resp, localID)
	metrics.PlacementsTotal.WithLabelValues("confirmed").Inc()
	slog.Info("trade placement confirmed", "id", resp.ID, "multiplier", resp.Multiplier)
}

// streamLoop applies pushed events until the subscription closes.
func (e *Engine) streamLoop(ctx context.Context, ch <-chan model.StreamMessage) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			e.applyStream(msg)
		}
	}
}

// applyStream merges one pushed event. Events for other symbols are
// ignored entirely; unknown position ids are no-ops.
func (e *Engine) applyStream(msg model.StreamMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.StreamMessages.WithLabelValues(msg.Type).Inc()
	if msg.Symbol != "" && msg.Symbol != e.cfg.Symbol {
		return
	}

	now := e.clock()
	at := msg.Timestamp
	if at.IsZero() {
		at = now
	}

	switch msg.Type {
	case model.MsgPriceTick:
		e.price = msg.Price
		e.history.Append(model.PriceSample{Time: at, Price: msg.Price})

	case model.MsgMultiplierUpdate:
		e.matrix = model.NewMultiplierMatrix(msg.Matrix)
		if msg.Price != 0 {
			e.price = msg.Price
		}
		if msg.Config != nil {
			e.maybeAdoptConfig(*msg.Config, now)
		}

	case model.MsgTradePlaced:
		if msg.Position != nil && msg.Position.PortfolioID == e.opts.PortfolioID {
			e.rec.Confirm(*msg.Position, "")
		}

	case model.MsgTradeResolved:
		if msg.Position != nil {
			e.rec.Resolve(msg.Position.ID, msg.Won, msg.Payout, msg.PnL, at)
		}

	case model.MsgColumnExpired:
		e.rec.ApplyExpiry(msg.Results, at)
	}
}

// maybeAdoptConfig applies a server config replacement. The grid holds
// its current bounds until the price nears an edge; adopting every
// replacement would visibly jump the scale.
func (e *Engine) maybeAdoptConfig(next model.GridConfig, now time.Time) {
	next.Symbol = e.cfg.Symbol
	next.ApplyDefaults()
	if e.haveConfig && !e.cfg.NeedsRecenter(e.price) {
		return
	}
	e.cfg = next
	e.haveConfig = true
	e.viewport.SetBounds(next.PriceHigh, next.PriceLow, now)
}

// frameLoop redraws at the configured rate for as long as the engine
// runs. Every frame redraws: the grid never stops scrolling.
func (e *Engine) frameLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(e.opts.FrameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Frame()
		}
	}
}

// sweepLoop runs the 1 Hz timeout/eviction sweep.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(position.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	timedOut := e.rec.Sweep(e.clock())
	for _, id := range timedOut {
		metrics.TimeoutResolutions.Inc()
		slog.Warn("position timed out without resolution event", "id", id)
	}
	metrics.OpenPositions.Set(float64(e.rec.OpenCount(e.opts.PortfolioID)))
}

// mapper builds the frame-consistent coordinate snapshot.
func (e *Engine) mapper(geo grid.Geometry, now time.Time) grid.Mapper {
	high, _ := e.viewport.Bounds(now)
	return grid.Mapper{
		Geo:        geo,
		RowHeight:  e.cfg.RowHeight,
		PriceHigh:  high,
		Offset:     e.viewport.Offset(),
		Epoch:      e.epoch,
		IntervalMS: e.cfg.IntervalMS,
	}
}
