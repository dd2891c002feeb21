// Package config loads the risk gate configuration from a YAML file, a
// .env file and the process environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/risk-gate/internal/assess"
	"github.com/atmx/risk-gate/internal/breach"
	"github.com/atmx/risk-gate/internal/gate"
)

// Trading modes. Only ModeLive lets the gate allow opens.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Log       LogConfig                 `yaml:"log"`
	Trading   TradingConfig             `yaml:"trading"`
	Gate      GateConfig                `yaml:"gate"`
	Risk      assess.RiskConfig         `yaml:"risk"`
	Profiles  map[string]assess.Profile `yaml:"profiles"`
	Heartbeat HeartbeatConfig           `yaml:"heartbeat"`
	Storage   StorageConfig             `yaml:"storage"`
	Journal   JournalConfig             `yaml:"journal"`
}

// ServerConfig contains HTTP listener parameters.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TradingConfig contains the global trading switch.
type TradingConfig struct {
	Mode string `yaml:"mode"` // "paper" or "live"
}

// GateConfig contains the kill-switch limits. Drawdown thresholds are
// fractions of start equity (-0.02 means -2%).
type GateConfig struct {
	DailySpendCap      float64       `yaml:"daily_spend_cap"`
	PerMarketCap       float64       `yaml:"per_market_cap"`
	MaxPositions       int           `yaml:"max_positions"`
	SoftMaxPositions   int           `yaml:"soft_max_positions"`
	SoftDrawdown       float64       `yaml:"soft_drawdown"`
	HardDrawdown       float64       `yaml:"hard_drawdown"`
	HysteresisWindow   time.Duration `yaml:"hysteresis_window"`
	DefaultStartEquity float64       `yaml:"default_start_equity"`
}

// HeartbeatConfig contains background job parameters.
type HeartbeatConfig struct {
	Interval        time.Duration `yaml:"interval"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	WatchlistCap    int           `yaml:"watchlist_cap"`
	WatchTTL        time.Duration `yaml:"watch_ttl"`
}

// StorageConfig contains connection strings. An empty DatabaseURL selects
// the in-memory store.
type StorageConfig struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// JournalConfig contains the local SQLite receipt journal. An empty path
// disables it.
type JournalConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns a configuration with sensible defaults. Trading starts
// in paper mode, so a fresh install never allows an open.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Trading: TradingConfig{Mode: ModePaper},
		Gate: GateConfig{
			DailySpendCap:      100,
			PerMarketCap:       40,
			MaxPositions:       8,
			SoftMaxPositions:   5,
			SoftDrawdown:       -0.02,
			HardDrawdown:       -0.03,
			HysteresisWindow:   60 * time.Second,
			DefaultStartEquity: 10000,
		},
		Risk:     assess.DefaultRiskConfig(),
		Profiles: assess.DefaultProfiles(),
		Heartbeat: HeartbeatConfig{
			Interval:        60 * time.Second,
			RatePerSecond:   20,
			Burst:           5,
			CleanupInterval: 30 * time.Minute,
			WatchlistCap:    25,
			WatchTTL:        24 * time.Hour,
		},
		Storage: StorageConfig{CacheTTL: 30 * time.Second},
	}
}

// Load reads .env (if present), then path (if non-empty, else defaults),
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromFile reads a YAML file on top of the defaults. Unknown keys are
// rejected so typos do not silently fall back to a default limit.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Server.Port, "PORT")
	set(&c.Storage.DatabaseURL, "DATABASE_URL")
	set(&c.Storage.RedisURL, "REDIS_URL")
	set(&c.Trading.Mode, "TRADING_MODE")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.Journal.SQLitePath, "JOURNAL_SQLITE_PATH")

	c.Trading.Mode = strings.ToLower(c.Trading.Mode)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server.port is required", ErrInvalid)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Trading.Mode != ModePaper && c.Trading.Mode != ModeLive {
		return fmt.Errorf("%w: trading.mode must be %q or %q", ErrInvalid, ModePaper, ModeLive)
	}
	if c.Gate.HysteresisWindow < 0 {
		return fmt.Errorf("%w: gate.hysteresis_window must be non-negative", ErrInvalid)
	}
	if c.Gate.DefaultStartEquity <= 0 {
		return fmt.Errorf("%w: gate.default_start_equity must be positive", ErrInvalid)
	}
	g := c.GateConfig()
	if err := g.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: gate: %v", ErrInvalid, err)
	}
	if c.Gate.DailySpendCap < 0 || c.Gate.PerMarketCap < 0 {
		return fmt.Errorf("%w: gate spend caps must be non-negative", ErrInvalid)
	}
	if c.Gate.MaxPositions < 0 || c.Gate.SoftMaxPositions < 0 || c.Gate.SoftMaxPositions > c.Gate.MaxPositions {
		return fmt.Errorf("%w: gate position limits must satisfy 0 <= soft_max_positions <= max_positions", ErrInvalid)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: risk: %v", ErrInvalid, err)
	}
	if _, ok := c.Profiles[c.Risk.DefaultProfile]; !ok {
		return fmt.Errorf("%w: profiles must include default profile %q", ErrInvalid, c.Risk.DefaultProfile)
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.CleanupInterval <= 0 {
		return fmt.Errorf("%w: heartbeat intervals must be positive", ErrInvalid)
	}
	if c.Heartbeat.RatePerSecond <= 0 || c.Heartbeat.Burst <= 0 {
		return fmt.Errorf("%w: heartbeat rate_per_second and burst must be positive", ErrInvalid)
	}
	if c.Heartbeat.WatchlistCap <= 0 || c.Heartbeat.WatchTTL <= 0 {
		return fmt.Errorf("%w: heartbeat watchlist_cap and watch_ttl must be positive", ErrInvalid)
	}
	if c.Storage.RedisURL != "" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("%w: storage.redis_url requires storage.database_url", ErrInvalid)
	}
	return nil
}

// TradingEnabled reports whether the gate may allow opens.
func (c *Config) TradingEnabled() bool {
	return c.Trading.Mode == ModeLive
}

// GateConfig converts the file representation to the engine's.
func (c *Config) GateConfig() gate.Config {
	return gate.Config{
		TradingEnabled: c.TradingEnabled(),
		StartEquity:    decimal.NewFromFloat(c.Gate.DefaultStartEquity),
		Thresholds: breach.Thresholds{
			Soft: decimal.NewFromFloat(c.Gate.SoftDrawdown),
			Hard: decimal.NewFromFloat(c.Gate.HardDrawdown),
		},
		HysteresisWindow: c.Gate.HysteresisWindow,
		DailyCap:         decimal.NewFromFloat(c.Gate.DailySpendCap),
		PerMarketCap:     decimal.NewFromFloat(c.Gate.PerMarketCap),
		MaxPositions:     c.Gate.MaxPositions,
		SoftMaxPositions: c.Gate.SoftMaxPositions,
	}
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log.level %q must be debug, info, warn or error", ErrInvalid, s)
}
