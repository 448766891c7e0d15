// Package config loads YAML configuration for the grid binaries, with
// .env and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for gridd and gridwatch.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Client  ClientConfig   `yaml:"client"`
	Symbols []SymbolConfig `yaml:"symbols"`
	Log     LogConfig      `yaml:"log"`
}

// ServerConfig controls the gridd HTTP server and its backing stores.
type ServerConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	CacheTTLSec int    `yaml:"cache_ttl_seconds"`
}

// ClientConfig controls the gridwatch headless client.
type ClientConfig struct {
	ServerURL   string  `yaml:"server_url"`
	Symbol      string  `yaml:"symbol"`
	PortfolioID string  `yaml:"portfolio_id"`
	FrameRate   int     `yaml:"frame_rate"`
	Zoom        float64 `yaml:"zoom"`
	Compact     bool    `yaml:"compact"`
}

// SymbolConfig defines one simulated market.
type SymbolConfig struct {
	Symbol     string  `yaml:"symbol"`
	RowCount   int     `yaml:"row_count"`
	ColCount   int     `yaml:"col_count"`
	IntervalMS int64   `yaml:"interval_ms"`
	RowHeight  float64 `yaml:"row_height"`
	PriceHigh  float64 `yaml:"price_high"`
	PriceLow   float64 `yaml:"price_low"`
	HouseEdge  float64 `yaml:"house_edge"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Environment
// variables override matching YAML keys. A missing path yields a
// defaults-only config.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is not an error).
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overrides config values from environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Server.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Server.RedisURL = v
	}
	if v := os.Getenv("GRID_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("GRID_SYMBOL"); v != "" {
		cfg.Client.Symbol = v
	}
	if v := os.Getenv("GRID_PORTFOLIO"); v != "" {
		cfg.Client.PortfolioID = v
	}
	if v := os.Getenv("GRID_FRAME_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.FrameRate = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills required values that are still zero.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.CacheTTLSec <= 0 {
		cfg.Server.CacheTTLSec = 30
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://localhost:" + cfg.Server.Port
	}
	if cfg.Client.Symbol == "" {
		cfg.Client.Symbol = "BTC-USD"
	}
	if cfg.Client.FrameRate <= 0 {
		cfg.Client.FrameRate = 60
	}
	if cfg.Client.Zoom <= 0 {
		cfg.Client.Zoom = 1
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []SymbolConfig{{
			Symbol:     "BTC-USD",
			RowCount:   20,
			ColCount:   10,
			IntervalMS: 5000,
			RowHeight:  25,
			PriceHigh:  65250,
			PriceLow:   64750,
		}}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
