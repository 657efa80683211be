// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"trading-simv1/internal/strategy"
)

// Config is the top-level configuration shared by the commands.
type Config struct {
	Strategy strategy.Config `yaml:"strategy"`
	Run      Run             `yaml:"run"`
	Storage  Storage         `yaml:"storage"`
	Redis    Redis           `yaml:"redis"`
	Server   Server          `yaml:"server"`
	Logging  Logging         `yaml:"logging"`
}

// Run selects the instrument and execution parameters.
type Run struct {
	Symbol  string `yaml:"symbol"`
	From    string `yaml:"from"` // RFC3339, empty for all history
	To      string `yaml:"to"`
	Workers int    `yaml:"workers"`
	// Speed is the replay multiplier in live mode: 0 = as fast as possible.
	Speed float64 `yaml:"speed"`
	// Source is where historical candles are read from: "sqlite" or "parquet".
	Source string `yaml:"source"`
	// Timeframes lists extra timeframes run alongside the strategy's own
	// in a batch backtest.
	Timeframes []strategy.Timeframe `yaml:"timeframes"`
}

// Range parses From and To. Empty values give zero times.
func (r Run) Range() (from, to time.Time, err error) {
	if r.From != "" {
		if from, err = time.Parse(time.RFC3339, r.From); err != nil {
			return from, to, fmt.Errorf("run.from: %w", err)
		}
	}
	if r.To != "" {
		if to, err = time.Parse(time.RFC3339, r.To); err != nil {
			return from, to, fmt.Errorf("run.to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("run.from %s is not before run.to %s", r.From, r.To)
	}
	return from, to, nil
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"` // empty disables export
}

// Redis configures the stream transport. An empty Addr disables it.
type Redis struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	CandleStream  string `yaml:"candle_stream"`
	MaxStreamLen  int64  `yaml:"max_stream_len"`
	ConsumerBlock int    `yaml:"consumer_block_ms"`
}

// Server holds listener addresses.
type Server struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Strategy: strategy.Default(),
		Run:      Run{Symbol: "BTCUSDT", Workers: 4, Source: "sqlite"},
		Storage:  Storage{SQLitePath: "data/candles.db"},
		Redis: Redis{
			CandleStream:  "candle:{symbol}:{tf}",
			MaxStreamLen:  10000,
			ConsumerBlock: 1000,
		},
		Server:  Server{HTTPAddr: ":8080", MetricsAddr: ":9090"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the strategy section. An empty path
// uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Run.Source {
	case "sqlite", "parquet":
	default:
		return nil, fmt.Errorf("run.source: unknown source %q", cfg.Run.Source)
	}
	if cfg.Run.Source == "parquet" && cfg.Storage.ParquetDir == "" {
		return nil, fmt.Errorf("run.source parquet requires storage.parquet_dir")
	}
	if _, _, err := cfg.Run.Range(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	cfg.Run.Symbol = getEnv("SYMBOL", cfg.Run.Symbol)
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.ParquetDir = getEnv("PARQUET_DIR", cfg.Storage.ParquetDir)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Server.HTTPAddr = getEnv("HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.MetricsAddr = getEnv("METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Run.Source = getEnv("SOURCE", cfg.Run.Source)

	if v := os.Getenv("TIMEFRAME"); v != "" {
		cfg.Strategy.Timeframe = strategy.Timeframe(v)
	}
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_CAPITAL: %w", err)
		}
		cfg.Strategy.InitialCapital = f
	}
	if v := os.Getenv("COMMISSION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("COMMISSION_RATE: %w", err)
		}
		cfg.Strategy.CommissionRate = f
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKERS: %w", err)
		}
		cfg.Run.Workers = n
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
