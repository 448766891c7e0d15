// gridwatch runs the grid engine headless against a gridd server: it
// subscribes, renders into the recording renderer, and periodically
// logs a summary of what a canvas would be showing. Useful for
// soak-testing the engine and the wire protocol without a UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/InfamousVague/wraith-grid/internal/client"
	"github.com/InfamousVague/wraith-grid/internal/config"
	"github.com/InfamousVague/wraith-grid/internal/engine"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	api := client.NewHTTPClient(cfg.Client.ServerURL)
	stream := client.NewStreamClient(cfg.Client.ServerURL)
	rec := engine.NewRecordingRenderer()

	eng := engine.New(api, stream, rec, engine.Options{
		Symbol:       cfg.Client.Symbol,
		PortfolioID:  cfg.Client.PortfolioID,
		FrameRate:    cfg.Client.FrameRate,
		Zoom:         cfg.Client.Zoom,
		Compact:      cfg.Client.Compact,
		CanvasWidth:  1280,
		CanvasHeight: 720,
		DPR:          1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start failed", "err", err)
		os.Exit(1)
	}
	slog.Info("gridwatch running",
		"server", cfg.Client.ServerURL,
		"symbol", cfg.Client.Symbol,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			slog.Info("shutting down gridwatch...")
			eng.Stop()
			return
		case <-ticker.C:
			frame := rec.LastFrame()
			slog.Info("frame summary",
				"frames", rec.Frames(),
				"ops", len(frame),
				"price", eng.CurrentPrice(),
				"positions", len(eng.Positions()),
			)
			if err := eng.PlacementError(); err != nil {
				slog.Warn("placement failed", "err", err)
			}
		}
	}
}
