// gridd is the reference grid server: simulated price feeds and
// multiplier quotes per symbol, trade acceptance, and the WebSocket
// stream the client consumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/InfamousVague/wraith-grid/internal/config"
	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
	"github.com/InfamousVague/wraith-grid/internal/server"
	"github.com/InfamousVague/wraith-grid/internal/server/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := cfg.Server.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := cfg.Server.RedisURL; redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Server.CacheTTLSec)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := server.NewHub()
	go hub.Run()

	// --- Simulators, one per configured symbol ---
	runCtx, cancelSims := context.WithCancel(context.Background())
	defer cancelSims()

	sims := make(map[string]*server.Simulator, len(cfg.Symbols))
	for i, sc := range cfg.Symbols {
		gridCfg := model.GridConfig{
			Symbol:     sc.Symbol,
			RowCount:   sc.RowCount,
			ColCount:   sc.ColCount,
			IntervalMS: sc.IntervalMS,
			RowHeight:  sc.RowHeight,
			PriceHigh:  sc.PriceHigh,
			PriceLow:   sc.PriceLow,
			HouseEdge:  sc.HouseEdge,
		}
		gridCfg.ApplyDefaults()
		if err := st.PutConfig(runCtx, gridCfg); err != nil {
			slog.Error("persist grid config", "symbol", sc.Symbol, "err", err)
			os.Exit(1)
		}

		sim := server.NewSimulator(st, hub, gridCfg, time.Now().UnixNano()+int64(i))
		sims[sc.Symbol] = sim
		go sim.Run(runCtx)
		slog.Info("simulator started", "symbol", sc.Symbol, "interval_ms", gridCfg.IntervalMS)
	}

	// --- Grid service ---
	svc := server.NewService(st, server.NewTradeLimiter(), hub, sims)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"gridd"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the push stream.
		r.Get("/ws", hub.HandleWS)

		// Grid state and trade placement.
		r.Get("/grid/{symbol}/state", svc.GetGridState)
		r.Post("/trade", svc.PlaceTrade)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gridd listening", "port", cfg.Server.Port, "symbols", len(sims))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancelSims()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down gridd...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("gridd stopped")
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
