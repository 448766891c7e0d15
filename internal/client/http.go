// Package client implements the grid server's wire protocol: the
// pull-based HTTP API and the push-based WebSocket stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

const (
	stateRatePerSec = 5
	tradeRatePerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// APIError is a structured error returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server %d: %s", e.Status, e.Message)
}

// HTTPClient talks to the grid server's REST API with rate limiting and
// retries on reads. Trade placement is never retried: a duplicate POST
// could double-place.
type HTTPClient struct {
	http         *http.Client
	base         string
	stateLimiter *rate.Limiter
	tradeLimiter *rate.Limiter
}

// NewHTTPClient creates a client for the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		http:         &http.Client{Timeout: 10 * time.Second},
		base:         base,
		stateLimiter: rate.NewLimiter(stateRatePerSec, 10),
		tradeLimiter: rate.NewLimiter(tradeRatePerSec, 5),
	}
}

// FetchState retrieves the full grid state for a symbol. Pass zero
// rows/cols to accept the server's configured dimensions.
func (c *HTTPClient) FetchState(ctx context.Context, sym string, rows, cols int, portfolioID string) (*model.StateResponse, error) {
	q := url.Values{}
	if portfolioID != "" {
		q.Set("portfolio", portfolioID)
	}
	if rows > 0 {
		q.Set("rows", strconv.Itoa(rows))
	}
	if cols > 0 {
		q.Set("cols", strconv.Itoa(cols))
	}
	u := c.base + "/api/v1/grid/" + url.PathEscape(sym) + "/state"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	var resp model.StateResponse
	if err := c.getWithRetry(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceTrade submits one trade and returns the authoritative position.
// Exactly one attempt; the caller decides what a failure means.
func (c *HTTPClient) PlaceTrade(ctx context.Context, req model.PlaceTradeRequest) (*model.Position, error) {
	if err := c.tradeLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal trade request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/trade", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("place trade: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var pos model.Position
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &pos, nil
}

// getWithRetry runs a GET with exponential backoff on transport errors
// and 5xx responses.
func (c *HTTPClient) getWithRetry(ctx context.Context, u string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.stateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return decodeError(resp)
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// decodeError extracts the server's {"error": ...} body.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	var wire struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		apiErr.Message = wire.Error
	} else {
		apiErr.Message = string(body)
	}
	return apiErr
}

// sleep waits with exponential backoff, respecting the context.
func sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
