package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

const (
	streamReadDeadline = 60 * time.Second
	streamPingInterval = 30 * time.Second
	streamBuffer       = 64
)

// StreamClient subscribes to the server's WebSocket feed and decodes
// stream messages onto a channel. The channel closes when the context
// is cancelled or the connection drops; the engine treats a closed
// channel as the end of the subscription.
type StreamClient struct {
	base   string
	dialer *websocket.Dialer
}

// NewStreamClient creates a stream client for the given HTTP base URL;
// the scheme is rewritten to ws/wss.
func NewStreamClient(base string) *StreamClient {
	return &StreamClient{
		base:   base,
		dialer: websocket.DefaultDialer,
	}
}

// Subscribe opens the WebSocket and starts the read pump.
func (c *StreamClient) Subscribe(ctx context.Context, sym, portfolioID string) (<-chan model.StreamMessage, error) {
	u := wsURL(c.base) + "/api/v1/ws?symbol=" + url.QueryEscape(sym)
	if portfolioID != "" {
		u += "&portfolio=" + url.QueryEscape(portfolioID)
	}

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	ch := make(chan model.StreamMessage, streamBuffer)

	// Close the connection when the context ends; this also unblocks
	// the read pump.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// Read pump.
	go func() {
		defer close(ch)
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
			return nil
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("stream read failed", "symbol", sym, "err", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(streamReadDeadline))

			var msg model.StreamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("stream decode failed", "err", err)
				continue
			}

			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// wsURL rewrites an http(s) base URL to its ws(s) equivalent.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
