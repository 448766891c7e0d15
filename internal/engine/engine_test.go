package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testState() *model.StateResponse {
	matrix := make([][]float64, 8)
	for r := range matrix {
		matrix[r] = []float64{4.2, 4.2, 4.2, 4.2, 4.2, 4.2}
	}
	return &model.StateResponse{
		Config: model.GridConfig{
			RowCount:   8,
			ColCount:   6,
			IntervalMS: 10000,
			RowHeight:  1.25,
			PriceHigh:  100,
			PriceLow:   90,
		},
		Matrix:       matrix,
		CurrentPrice: 95,
	}
}

// fakeAPI gates PlaceTrade on a response channel so tests control the
// pull-channel race.
type fakeAPI struct {
	mu       sync.Mutex
	state    *model.StateResponse
	stateErr error
	placeRes chan placeResult
	placed   []model.PlaceTradeRequest
}

type placeResult struct {
	pos *model.Position
	err error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{state: testState(), placeRes: make(chan placeResult, 4)}
}

func (f *fakeAPI) FetchState(ctx context.Context, sym string, rows, cols int, portfolioID string) (*model.StateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

func (f *fakeAPI) PlaceTrade(ctx context.Context, req model.PlaceTradeRequest) (*model.Position, error) {
	f.mu.Lock()
	f.placed = append(f.placed, req)
	f.mu.Unlock()
	select {
	case res := <-f.placeRes:
		return res.pos, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAPI) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type fakeStreamer struct {
	ch chan model.StreamMessage
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{ch: make(chan model.StreamMessage, 16)}
}

func (f *fakeStreamer) Subscribe(ctx context.Context, sym, portfolioID string) (<-chan model.StreamMessage, error) {
	return f.ch, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeAPI, *fakeStreamer, *RecordingRenderer) {
	t.Helper()
	api := newFakeAPI()
	stream := newFakeStreamer()
	rec := NewRecordingRenderer()
	e := New(api, stream, rec, Options{
		Symbol:       "BTC-USD",
		PortfolioID:  "pf1",
		FrameRate:    120,
		CanvasWidth:  1000,
		CanvasHeight: 600,
		DPR:          1,
	})
	// Pin the clock so scroll position and tap windows are deterministic.
	fixed := time.Now()
	e.clock = func() time.Time { return fixed }
	return e, api, stream, rec
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func serverPosition(id string, req model.PlaceTradeRequest) *model.Position {
	return &model.Position{
		ID:          id,
		PortfolioID: req.PortfolioID,
		Symbol:      "BTC-USD",
		RowIndex:    req.RowIndex,
		ColIndex:    req.ColIndex,
		Amount:      req.Amount,
		Leverage:    req.Leverage,
		Multiplier:  4.5,
		PriceLow:    req.PriceLow,
		PriceHigh:   req.PriceHigh,
		TimeStart:   req.TimeStart,
		TimeEnd:     req.TimeEnd,
		Status:      model.StatusActive,
		CreatedAt:   time.Now(),
	}
}

// tapXY targets row 4, column 4 of the 1000x600 test layout: boundary at
// 300, cells 106x72, no scroll with the pinned clock.
func tapXY() (float64, float64) {
	return 729, 293
}

// --- Lifecycle ---

func TestStart_FetchFailureIsRetryable(t *testing.T) {
	e, api, _, _ := newTestEngine(t)
	api.stateErr = errors.New("boom")
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}

	// The failure left nothing running; a retry succeeds.
	api.stateErr = nil
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	defer e.Stop()

	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.Stop() // never started
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Stop()
	e.Stop()
}

// --- Tap validation ---

func TestTap_AuthRequired(t *testing.T) {
	api := newFakeAPI()
	e := New(api, newFakeStreamer(), NewRecordingRenderer(), Options{
		Symbol: "BTC-USD", CanvasWidth: 1000, CanvasHeight: 600, DPR: 1,
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}
	if api.placedCount() != 0 {
		t.Error("rejection must not reach the network")
	}
}

func TestTap_NotReadyBeforeStart(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestTap_RejectionsBeforeNetwork(t *testing.T) {
	e, api, _, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	cases := []struct {
		name     string
		x, y     float64
		amount   decimal.Decimal
		leverage int
		want     error
	}{
		{"outside left zone", 50, y, d(10), 1, ErrOutsideGrid},
		{"below grid", x, 590, d(10), 1, ErrOutsideGrid},
		{"amount too small", x, y, d(0.5), 1, ErrAmountTooSmall},
		{"leverage too high", x, y, d(10), 99, ErrLeverageTooHigh},
	}
	for _, tc := range cases {
		if err := e.Tap(tc.x, tc.y, tc.amount, tc.leverage); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if api.placedCount() != 0 {
		t.Errorf("rejections reached the network: %d calls", api.placedCount())
	}
}

func TestTap_BubbleZoneLocked(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	// Column 1 sits inside the hard-locked zone.
	if err := e.Tap(410, 293, d(10), 1); err == nil {
		t.Error("expected a lockout error for a near column")
	}
}

func TestTap_InsufficientBalance(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.SetBalance(d(5))
	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Unknown balance disables the check.
	e.SetBalance(decimal.Zero)
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Errorf("unexpected error with unknown balance: %v", err)
	}
}

// --- Optimistic placement and the dual-channel race ---

func TestTap_OptimisticThenConfirmed(t *testing.T) {
	e, api, _, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Fatalf("tap: %v", err)
	}

	// The pending tile renders immediately, before any response.
	ps := e.Positions()
	if len(ps) != 1 || ps[0].Status != model.StatusPending {
		t.Fatalf("expected one pending position, got %+v", ps)
	}
	if ps[0].RowIndex != 4 || ps[0].ColIndex != 4 {
		t.Errorf("expected cell (4,4), got (%d,%d)", ps[0].RowIndex, ps[0].ColIndex)
	}

	// A second tap on the same cell is rejected locally.
	if err := e.Tap(x, y, d(10), 1); err == nil {
		t.Error("expected occupied-cell rejection")
	}

	eventually(t, func() bool { return api.placedCount() == 1 }, "place call never fired")
	req := api.placed[0]
	api.placeRes <- placeResult{pos: serverPosition("srv-1", req)}

	eventually(t, func() bool {
		ps := e.Positions()
		return len(ps) == 1 && ps[0].ID == "srv-1" && ps[0].Status == model.StatusActive
	}, "optimistic entry never confirmed")

	if got := e.Positions()[0].Multiplier; got != 4.5 {
		t.Errorf("expected server multiplier 4.5, got %f", got)
	}
}

func TestTap_StreamConfirmsBeforeResponse(t *testing.T) {
	e, api, stream, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Fatalf("tap: %v", err)
	}
	eventually(t, func() bool { return api.placedCount() == 1 }, "place call never fired")
	req := api.placed[0]
	pos := serverPosition("srv-1", req)

	// The streamed trade_placed wins the race.
	stream.ch <- model.StreamMessage{Type: model.MsgTradePlaced, Symbol: "BTC-USD", Position: pos}
	eventually(t, func() bool {
		ps := e.Positions()
		return len(ps) == 1 && ps[0].ID == "srv-1"
	}, "streamed confirmation not applied")

	// The HTTP response lands second: still exactly one position.
	api.placeRes <- placeResult{pos: pos}
	time.Sleep(50 * time.Millisecond)
	if ps := e.Positions(); len(ps) != 1 || ps[0].Status != model.StatusActive {
		t.Fatalf("expected single active position, got %+v", ps)
	}
}

func TestTap_FailureRemovesEntryAndSurfacesOnce(t *testing.T) {
	e, api, _, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Fatalf("tap: %v", err)
	}
	api.placeRes <- placeResult{err: errors.New("insufficient funds")}

	eventually(t, func() bool { return len(e.Positions()) == 0 }, "failed placement not removed")

	if err := e.PlacementError(); err == nil {
		t.Fatal("expected a surfaced placement error")
	}
	if err := e.PlacementError(); err != nil {
		t.Errorf("placement error must surface exactly once, got %v", err)
	}

	// The cell is free again.
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Errorf("cell should be free after failure: %v", err)
	}
}

// --- Stream handling ---

func TestStream_PriceTickAndForeignSymbolIgnored(t *testing.T) {
	e, _, stream, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	// A trade_placed for another symbol must be dropped even though the
	// portfolio matches.
	foreign := serverPosition("eth-1", model.PlaceTradeRequest{PortfolioID: "pf1"})
	foreign.Symbol = "ETH-USD"
	stream.ch <- model.StreamMessage{Type: model.MsgTradePlaced, Symbol: "ETH-USD", Position: foreign}
	stream.ch <- model.StreamMessage{Type: model.MsgPriceTick, Symbol: "BTC-USD", Price: 95.5}

	// The native tick is the ordering sentinel: once it lands, the
	// foreign event has already been processed.
	eventually(t, func() bool { return e.CurrentPrice() == 95.5 }, "price tick not applied")
	if len(e.Positions()) != 0 {
		t.Error("foreign-symbol trade_placed leaked into the position set")
	}
}

func TestStream_ResolutionFlow(t *testing.T) {
	e, _, stream, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	pos := serverPosition("srv-1", model.PlaceTradeRequest{
		PortfolioID: "pf1", RowIndex: 4, ColIndex: 4,
		Amount: d(10), Leverage: 1,
		TimeStart: time.Now().Add(30 * time.Second),
		TimeEnd:   time.Now().Add(40 * time.Second),
	})
	stream.ch <- model.StreamMessage{Type: model.MsgTradePlaced, Symbol: "BTC-USD", Position: pos}
	stream.ch <- model.StreamMessage{
		Type: model.MsgTradeResolved, Symbol: "BTC-USD",
		Position: pos, Won: true, Payout: d(45), PnL: d(35),
	}

	eventually(t, func() bool {
		ps := e.Positions()
		return len(ps) == 1 && ps[0].Status == model.StatusWon
	}, "resolution not applied")

	if got := e.Positions()[0].Payout; !got.Equal(d(45)) {
		t.Errorf("expected payout 45, got %s", got)
	}
}

// --- Rendering ---

func TestFrame_LoadingBeforeStart(t *testing.T) {
	rec := NewRecordingRenderer()
	e := New(newFakeAPI(), newFakeStreamer(), rec, Options{
		Symbol: "BTC-USD", CanvasWidth: 1000, CanvasHeight: 600,
	})
	e.Frame()
	if !rec.ContainsText("Loading grid…") {
		t.Error("expected a loading frame before state arrives")
	}
}

func TestFrame_RendersGridAfterStart(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.Frame()
	ops := rec.LastFrame()
	if len(ops) < 3 || ops[0].Op != "begin" || ops[len(ops)-1].Op != "end" {
		t.Fatalf("malformed frame: %d ops", len(ops))
	}

	var rects, lines, texts int
	for _, op := range ops {
		switch op.Op {
		case "rect":
			rects++
		case "line":
			lines++
		case "text":
			texts++
		}
	}
	if rects == 0 || lines == 0 || texts == 0 {
		t.Errorf("expected rects, lines and labels; got %d/%d/%d", rects, lines, texts)
	}
	if rec.ContainsText("Loading grid…") {
		t.Error("ready engine still drew the loading state")
	}
}

func TestFrame_TilesRenderMultiplierText(t *testing.T) {
	e, api, _, rec := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	x, y := tapXY()
	if err := e.Tap(x, y, d(10), 1); err != nil {
		t.Fatalf("tap: %v", err)
	}
	eventually(t, func() bool { return api.placedCount() == 1 }, "place call never fired")
	api.placeRes <- placeResult{pos: serverPosition("srv-1", api.placed[0])}
	eventually(t, func() bool {
		ps := e.Positions()
		return len(ps) == 1 && ps[0].Status == model.StatusActive
	}, "never confirmed")

	e.Frame()
	if !rec.ContainsText("4.50x 10") {
		t.Error("expected the active tile label in the frame")
	}
}

func TestFrameLoop_Runs(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, func() bool { return rec.Frames() >= 3 }, "frame loop produced no frames")
	e.Stop()

	n := rec.Frames()
	time.Sleep(50 * time.Millisecond)
	if rec.Frames() != n {
		t.Error("frames rendered after Stop")
	}
}

// --- Symbol switching ---

func TestSwitchSymbol_ResetsState(t *testing.T) {
	e, _, stream, _ := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.ch <- model.StreamMessage{
		Type: model.MsgTradePlaced, Symbol: "BTC-USD",
		Position: serverPosition("srv-1", model.PlaceTradeRequest{PortfolioID: "pf1", RowIndex: 1, ColIndex: 4}),
	}
	eventually(t, func() bool { return len(e.Positions()) == 1 }, "position never arrived")

	if err := e.SwitchSymbol(context.Background(), "ETH-USD"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	defer e.Stop()

	if len(e.Positions()) != 0 {
		t.Error("positions survived the symbol switch")
	}
}
