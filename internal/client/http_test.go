package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

func TestFetchState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/grid/BTC-USD/state" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("portfolio"); got != "pf1" {
			t.Errorf("portfolio query = %q", got)
		}
		json.NewEncoder(w).Encode(model.StateResponse{
			Config:       model.GridConfig{Symbol: "BTC-USD", RowCount: 8},
			Matrix:       [][]float64{{4.2}},
			CurrentPrice: 95,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.FetchState(context.Background(), "BTC-USD", 0, 0, "pf1")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if resp.Config.RowCount != 8 || resp.CurrentPrice != 95 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestFetchState_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(model.StateResponse{CurrentPrice: 95})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.FetchState(context.Background(), "BTC-USD", 0, 0, "")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if resp.CurrentPrice != 95 {
		t.Errorf("unexpected price %f", resp.CurrentPrice)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestPlaceTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.PlaceTradeRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Position{
			ID:         "srv-1",
			Symbol:     req.Symbol,
			Amount:     req.Amount,
			Multiplier: 4.5,
			Status:     model.StatusActive,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	pos, err := c.PlaceTrade(context.Background(), model.PlaceTradeRequest{
		Symbol: "BTC-USD",
		Amount: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("place trade: %v", err)
	}
	if pos.ID != "srv-1" || pos.Multiplier != 4.5 {
		t.Errorf("unexpected position: %+v", pos)
	}
}

func TestPlaceTrade_NoRetryAndStructuredError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "cell already taken"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.PlaceTrade(context.Background(), model.PlaceTradeRequest{Symbol: "BTC-USD"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "cell already taken" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("trade placement retried: %d calls", calls.Load())
	}
}

func TestPlaceTrade_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL)
	if _, err := c.PlaceTrade(ctx, model.PlaceTradeRequest{Symbol: "BTC-USD"}); err == nil {
		t.Fatal("expected a context error")
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":  "ws://localhost:8080",
		"https://grid.wraith.io": "wss://grid.wraith.io",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%s) = %s, want %s", in, got, want)
		}
	}
}
