// Package metrics provides Prometheus instrumentation for the grid
// engine and the reference server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesTotal counts rendered frames.
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wraith_frames_total",
		Help: "Total frames rendered by the grid engine",
	})

	// FrameDuration tracks per-frame render time.
	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wraith_frame_duration_seconds",
		Help:    "Frame render duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033},
	})

	// PlacementsTotal counts trade placements by final outcome.
	PlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_placements_total",
		Help: "Trade placement attempts",
	}, []string{"outcome"}) // accepted | rejected | failed

	// PlacementRejections counts client-side rejections by reason.
	PlacementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_placement_rejections_total",
		Help: "Placements rejected before any network call",
	}, []string{"reason"})

	// OpenPositions tracks the engine's non-terminal position count.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_open_positions",
		Help: "Non-terminal positions held by the engine",
	})

	// TimeoutResolutions counts positions forced lost by the local sweep.
	TimeoutResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wraith_timeout_resolutions_total",
		Help: "Positions resolved lost by the local timeout sweep",
	})

	// StreamMessages counts streamed messages by type.
	StreamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_stream_messages_total",
		Help: "Streamed messages received, by type",
	}, []string{"type"})

	// WebSocketClients tracks connected stream clients (server side).
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// TradesTotal counts trades the server accepted, by resolution.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_trades_total",
		Help: "Trades accepted by the server",
	}, []string{"status"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wraith_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small
		// enough that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
