package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantdesk.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Tracing  Tracing        `yaml:"tracing"`
	Backtest BacktestConfig `yaml:"backtest"`
	Gather   GatherConfig   `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Tracing configures OpenTelemetry span export.
type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// BacktestConfig holds the execution assumptions applied to every run.
type BacktestConfig struct {
	CommissionRate float64 `yaml:"commission_rate"`
	TradeSize      float64 `yaml:"trade_size"`
	// Sizing is "fixed" (TradeSize units per entry) or "equity_fraction"
	// (MaxPositionPct of current equity per entry).
	Sizing         string  `yaml:"sizing"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	InitialCapital float64 `yaml:"initial_capital"`
}

// DefaultCommissionRate applies when commission_rate is absent. An explicit
// zero is kept.
const DefaultCommissionRate = 0.001

// Sizing modes.
const (
	SizingFixed          = "fixed"
	SizingEquityFraction = "equity_fraction"
)

// GatherConfig controls the daily bar download job.
type GatherConfig struct {
	StartDate       string `yaml:"start_date"`
	Exchange        string `yaml:"exchange"`
	Interval        string `yaml:"interval"`
	BatchSize       int    `yaml:"batch_size"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset fields with defaults, and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file path from QUANTDESK_CONFIG, or def.
func Path(def string) string {
	if p := os.Getenv("QUANTDESK_CONFIG"); p != "" {
		return p
	}
	return def
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1:
		return fmt.Errorf("backtest.commission_rate must be in [0, 1), got %v", c.Backtest.CommissionRate)
	case c.Backtest.TradeSize <= 0:
		return fmt.Errorf("backtest.trade_size must be positive, got %v", c.Backtest.TradeSize)
	case c.Backtest.Sizing != SizingFixed && c.Backtest.Sizing != SizingEquityFraction:
		return fmt.Errorf("backtest.sizing must be %q or %q, got %q", SizingFixed, SizingEquityFraction, c.Backtest.Sizing)
	case c.Backtest.MaxPositionPct <= 0 || c.Backtest.MaxPositionPct > 1:
		return fmt.Errorf("backtest.max_position_pct must be in (0, 1], got %v", c.Backtest.MaxPositionPct)
	}
	return nil
}

// newConfig returns the decode target. Fields whose zero value is a valid
// setting are preset here rather than in applyDefaults, so a file can
// still set them to zero.
func newConfig() *Config {
	return &Config{
		Backtest: BacktestConfig{CommissionRate: DefaultCommissionRate},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/quantdesk.db"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}

	if cfg.Alpaca.DataURL == "" {
		cfg.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "quantdesk"
	}

	if cfg.Backtest.TradeSize == 0 {
		cfg.Backtest.TradeSize = 100
	}
	if cfg.Backtest.Sizing == "" {
		cfg.Backtest.Sizing = SizingFixed
	}
	if cfg.Backtest.MaxPositionPct == 0 {
		cfg.Backtest.MaxPositionPct = 0.1
	}
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 100000
	}

	if cfg.Gather.StartDate == "" {
		cfg.Gather.StartDate = "2020-01-01"
	}
	if cfg.Gather.Exchange == "" {
		cfg.Gather.Exchange = "us"
	}
	if cfg.Gather.Interval == "" {
		cfg.Gather.Interval = "24h"
	}
	if cfg.Gather.BatchSize == 0 {
		cfg.Gather.BatchSize = 100
	}
	if cfg.Gather.RateLimitPerMin == 0 {
		cfg.Gather.RateLimitPerMin = 200
	}
	if cfg.Gather.MaxAttempts == 0 {
		cfg.Gather.MaxAttempts = 3
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("QUANTDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("QUANTDESK_GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = port
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("QUANTDESK_TRACING"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = on
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
