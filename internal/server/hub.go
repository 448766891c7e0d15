package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
)

// subscription records what one connected client wants to receive.
type subscription struct {
	conn        *websocket.Conn
	symbol      string
	portfolioID string
}

// Hub manages WebSocket connections and fans stream messages out to the
// clients subscribed to each symbol.
type Hub struct {
	clients    map[*websocket.Conn]subscription
	broadcast  chan model.StreamMessage
	register   chan subscription
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]subscription),
		broadcast:  make(chan model.StreamMessage, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "symbol", sub.symbol, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			var dead []*websocket.Conn
			h.mu.RLock()
			for conn, sub := range h.clients {
				if !wants(sub, msg) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					dead = append(dead, conn)
				}
			}
			h.mu.RUnlock()
			if len(dead) > 0 {
				h.mu.Lock()
				for _, conn := range dead {
					if _, ok := h.clients[conn]; ok {
						delete(h.clients, conn)
						conn.Close()
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// wants filters messages per subscription: symbol must match, and
// position events carrying a portfolio id go only to that portfolio.
func wants(sub subscription, msg model.StreamMessage) bool {
	if msg.Symbol != "" && msg.Symbol != sub.symbol {
		return false
	}
	if msg.Type == model.MsgTradePlaced && msg.Position != nil {
		return msg.Position.PortfolioID == sub.portfolioID
	}
	return true
}

// Broadcast sends a message to all matching clients.
func (h *Hub) Broadcast(msg model.StreamMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop if buffer full to avoid blocking the simulator loops.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// Query parameters: symbol (required), portfolio (optional).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if sym == "" {
		writeError(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- subscription{
		conn:        conn,
		symbol:      sym,
		portfolioID: r.URL.Query().Get("portfolio"),
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
