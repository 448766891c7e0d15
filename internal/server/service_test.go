package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
	"github.com/InfamousVague/wraith-grid/internal/server"
	"github.com/InfamousVague/wraith-grid/internal/server/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testConfig() model.GridConfig {
	cfg := model.GridConfig{
		Symbol:     "BTC-USD",
		RowCount:   8,
		ColCount:   6,
		IntervalMS: 10000,
		RowHeight:  1.25,
		PriceHigh:  100,
		PriceLow:   90,
	}
	cfg.ApplyDefaults()
	return cfg
}

// newTestEnv creates a Service over an in-memory store and one seeded
// simulator, without running the simulator loops.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	hub := server.NewHub()
	sim := server.NewSimulator(ms, hub, testConfig(), 1)
	svc := server.NewService(ms, server.NewTradeLimiter(), hub, map[string]*server.Simulator{
		"BTC-USD": sim,
	})

	r := chi.NewRouter()
	r.Get("/api/v1/grid/{symbol}/state", svc.GetGridState)
	r.Post("/api/v1/trade", svc.PlaceTrade)
	return ms, r
}

func tradeRequest() model.PlaceTradeRequest {
	now := time.Now()
	return model.PlaceTradeRequest{
		Symbol:      "BTC-USD",
		PortfolioID: "pf1",
		RowIndex:    4,
		ColIndex:    4,
		Amount:      d(10),
		Leverage:    1,
		Multiplier:  99, // client-quoted; the server must ignore it
		TimeStart:   now.Add(30 * time.Second),
		TimeEnd:     now.Add(40 * time.Second),
	}
}

func doTrade(t *testing.T, router chi.Router, req model.PlaceTradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trade", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func getState(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// --- State ---

func TestGetGridState(t *testing.T) {
	_, router := newTestEnv(t)

	w := getState(t, router, "/api/v1/grid/BTC-USD/state")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp model.StateResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Config.RowCount != 8 || resp.Config.ColCount != 6 {
		t.Errorf("unexpected config dimensions: %dx%d", resp.Config.RowCount, resp.Config.ColCount)
	}
	if len(resp.Matrix) != 8 {
		t.Fatalf("expected 8 matrix rows, got %d", len(resp.Matrix))
	}
	// Render padding is appended client-side; the wire matrix is exact.
	if len(resp.Matrix[0]) != 6 {
		t.Errorf("expected 6 matrix columns, got %d", len(resp.Matrix[0]))
	}
	for r, row := range resp.Matrix {
		for c, m := range row {
			if m < resp.Config.MinMultiplier || m > resp.Config.MaxMultiplier {
				t.Fatalf("multiplier (%d,%d)=%f outside configured range", r, c, m)
			}
		}
	}
	if resp.CurrentPrice < 90 || resp.CurrentPrice > 100 {
		t.Errorf("seed price outside grid bounds: %f", resp.CurrentPrice)
	}
	if len(resp.PriceHistory) == 0 {
		t.Error("expected at least one price sample")
	}
}

func TestGetGridState_BadSymbol(t *testing.T) {
	_, router := newTestEnv(t)

	if w := getState(t, router, "/api/v1/grid/lowercase/state"); w.Code != http.StatusBadRequest {
		t.Errorf("malformed ticker: expected 400, got %d", w.Code)
	}
	if w := getState(t, router, "/api/v1/grid/ETH-USD/state"); w.Code != http.StatusNotFound {
		t.Errorf("unconfigured symbol: expected 404, got %d", w.Code)
	}
}

// --- Trade placement ---

func TestPlaceTrade(t *testing.T) {
	ms, router := newTestEnv(t)

	w := doTrade(t, router, tradeRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)

	if pos.ID == "" {
		t.Error("expected a server-assigned id")
	}
	if pos.Status != model.StatusActive {
		t.Errorf("expected active, got %s", pos.Status)
	}
	// The server's quote replaces the client's.
	if pos.Multiplier == 99 || pos.Multiplier <= 0 {
		t.Errorf("client multiplier leaked through: %f", pos.Multiplier)
	}
	// Row 4 of the 100/1.25 grid.
	if pos.PriceHigh != 95 || pos.PriceLow != 93.75 {
		t.Errorf("unexpected band %f/%f", pos.PriceLow, pos.PriceHigh)
	}

	stored, err := ms.GetPosition(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
	if !stored.Amount.Equal(d(10)) {
		t.Errorf("stored amount %s", stored.Amount)
	}
}

func TestPlaceTrade_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	cases := []struct {
		name   string
		mutate func(*model.PlaceTradeRequest)
		status int
	}{
		{"missing portfolio", func(r *model.PlaceTradeRequest) { r.PortfolioID = "" }, http.StatusBadRequest},
		{"bad ticker", func(r *model.PlaceTradeRequest) { r.Symbol = "nope" }, http.StatusBadRequest},
		{"unknown symbol", func(r *model.PlaceTradeRequest) { r.Symbol = "ETH-USD" }, http.StatusNotFound},
		{"amount too small", func(r *model.PlaceTradeRequest) { r.Amount = d(0.5) }, http.StatusConflict},
		{"leverage too high", func(r *model.PlaceTradeRequest) { r.Leverage = 99 }, http.StatusConflict},
		{"row out of range", func(r *model.PlaceTradeRequest) { r.RowIndex = 40 }, http.StatusConflict},
	}
	for _, tc := range cases {
		req := tradeRequest()
		tc.mutate(&req)
		if w := doTrade(t, router, req); w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.status, w.Code, w.Body.String())
		}
	}
}

func TestPlaceTrade_DuplicateCell(t *testing.T) {
	_, router := newTestEnv(t)

	if w := doTrade(t, router, tradeRequest()); w.Code != http.StatusCreated {
		t.Fatalf("first trade failed: %d", w.Code)
	}
	if w := doTrade(t, router, tradeRequest()); w.Code != http.StatusConflict {
		t.Errorf("duplicate cell: expected 409, got %d", w.Code)
	}

	// A different row on the same window is a separate cell.
	req := tradeRequest()
	req.RowIndex = 5
	if w := doTrade(t, router, req); w.Code != http.StatusCreated {
		t.Errorf("second cell rejected: %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceTrade_ThenStateIncludesPosition(t *testing.T) {
	_, router := newTestEnv(t)

	w := doTrade(t, router, tradeRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("trade failed: %d", w.Code)
	}
	var placed model.Position
	json.Unmarshal(w.Body.Bytes(), &placed)

	sw := getState(t, router, "/api/v1/grid/BTC-USD/state?portfolio=pf1")
	var resp model.StateResponse
	json.Unmarshal(sw.Body.Bytes(), &resp)

	if len(resp.Positions) != 1 || resp.Positions[0].ID != placed.ID {
		t.Fatalf("state missing the placed position: %+v", resp.Positions)
	}

	// Another portfolio sees nothing.
	sw = getState(t, router, "/api/v1/grid/BTC-USD/state?portfolio=pf2")
	resp = model.StateResponse{}
	json.Unmarshal(sw.Body.Bytes(), &resp)
	if len(resp.Positions) != 0 {
		t.Errorf("foreign portfolio received positions: %+v", resp.Positions)
	}
}
