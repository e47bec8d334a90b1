package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/strategies"
	"github.com/rustyeddy/tradecore/strategy"
)

// Environment overrides. A .env file is read first; real environment
// variables win over it.
const (
	EnvLiveURL  = "TRADECORE_LIVE_URL"
	EnvAPIKey   = "TRADECORE_API_KEY"
	EnvLogLevel = "TRADECORE_LOG_LEVEL"
	EnvDBPath   = "TRADECORE_DB_PATH"
)

// Config is the complete run configuration.
type Config struct {
	Account     AccountConfig           `json:"account" yaml:"account"`
	Instruments []market.InstrumentMeta `json:"instruments" yaml:"instruments"`
	Risk        risk.Limits             `json:"risk" yaml:"risk"`
	Engine      EngineConfig            `json:"engine" yaml:"engine"`
	Sim         SimConfig               `json:"sim" yaml:"sim"`
	Data        DataConfig              `json:"data" yaml:"data"`
	Strategy    StrategyConfig          `json:"strategy" yaml:"strategy"`
	Journal     JournalConfig           `json:"journal" yaml:"journal"`
	Live        LiveConfig              `json:"live" yaml:"live"`
	Viewer      ViewerConfig            `json:"viewer" yaml:"viewer"`
	Log         LogConfig               `json:"log" yaml:"log"`
}

type AccountConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Currency string          `json:"currency" yaml:"currency"`
	Balance  decimal.Decimal `json:"balance" yaml:"balance"`
}

type EngineConfig struct {
	GapPolicy       string `json:"gap_policy" yaml:"gap_policy"`
	MaxVenueRejects int    `json:"max_venue_rejects" yaml:"max_venue_rejects"`
	SnapshotEvery   int    `json:"snapshot_every" yaml:"snapshot_every"`
}

// SimConfig selects the simulated venue's slippage and fee policies.
type SimConfig struct {
	Slippage       string          `json:"slippage" yaml:"slippage"` // none, bps, ticks
	SlippageAmount decimal.Decimal `json:"slippage_amount" yaml:"slippage_amount"`
	Fee            string          `json:"fee" yaml:"fee"` // none, percent
	FeeRate        decimal.Decimal `json:"fee_rate" yaml:"fee_rate"`
}

// DataConfig is where backtest events come from.
type DataConfig struct {
	Source string    `json:"source" yaml:"source"` // csv or pebble
	Path   string    `json:"path" yaml:"path"`
	Start  time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End    time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

type StrategyConfig struct {
	Name   string                  `json:"name" yaml:"name"`
	Params map[string]any          `json:"params,omitempty" yaml:"params,omitempty"`
	Levels strategies.LevelsConfig `json:"levels" yaml:"levels"`
}

type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // none, csv or sqlite
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LiveConfig struct {
	URL          string        `json:"url" yaml:"url"`
	APIKey       string        `json:"-" yaml:"-"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	Venue        live.Config   `json:"venue" yaml:"venue"`
}

type ViewerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// LoadFromFile loads configuration from a YAML or JSON file, applies
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fileDefaults()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = fileDefaults()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.LoadEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnv reads envPath (if it exists) and then applies the TRADECORE_*
// variables to c.
func (c *Config) LoadEnv(envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if v := os.Getenv(EnvLiveURL); v != "" {
		c.Live.URL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Live.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Journal.DBPath = v
	}
	return nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
// The API key is never written.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate reports every problem it finds, not just the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Account.Currency == "" {
		add("account.currency is required")
	}
	if !c.Account.Balance.IsPositive() {
		add("account.balance must be positive")
	}

	if len(c.Instruments) == 0 {
		add("at least one instrument is required")
	}
	seen := make(map[string]bool)
	for i, m := range c.Instruments {
		switch {
		case m.Symbol == "":
			add("instruments[%d].symbol is required", i)
		case seen[m.Symbol]:
			add("instrument %s listed twice", m.Symbol)
		}
		seen[m.Symbol] = true
		if m.TickSize.IsNegative() || m.LotSize.IsNegative() || m.MinQty.IsNegative() {
			add("instrument %s: tick_size, lot_size and min_qty must be >= 0", m.Symbol)
		}
	}

	if err := c.Risk.Validate(); err != nil {
		add("risk: %w", err)
	}

	if _, err := engine.ParseGapPolicy(c.Engine.GapPolicy); err != nil {
		add("engine.gap_policy: %w", err)
	}
	if c.Engine.MaxVenueRejects < 0 {
		add("engine.max_venue_rejects must be >= 0")
	}
	if c.Engine.SnapshotEvery < 0 {
		add("engine.snapshot_every must be >= 0")
	}

	if _, err := c.Slippage(); err != nil {
		add("sim.slippage: %w", err)
	}
	if _, err := c.FeeModel(); err != nil {
		add("sim.fee: %w", err)
	}

	switch c.Data.Source {
	case "", "csv", "pebble":
	default:
		add("data.source must be 'csv' or 'pebble'")
	}
	if !c.Data.Start.IsZero() && !c.Data.End.IsZero() && c.Data.End.Before(c.Data.Start) {
		add("data.end is before data.start")
	}

	if c.Strategy.Name == "" {
		add("strategy.name is required")
	} else if !strategy.Registered(c.Strategy.Name) {
		add("unknown strategy %q (registered: %s)", c.Strategy.Name, strings.Join(strategy.Names(), ", "))
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.Dir == "" {
			add("journal.dir required for csv type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			add("journal.db_path required for sqlite type")
		}
	default:
		add("journal.type must be 'none', 'csv' or 'sqlite'")
	}

	if c.Live.Venue.AckTimeout < 0 || c.Live.Venue.MaxReconnects < 0 {
		add("live.venue: ack_timeout and max_reconnects must be >= 0")
	}
	if c.Viewer.Enabled && c.Viewer.Addr == "" {
		add("viewer.addr required when the viewer is enabled")
	}
	return errors.Join(errs...)
}

// fileDefaults is Default without the example strategy params, which would
// otherwise be merged into the params a file sets.
func fileDefaults() *Config {
	cfg := Default()
	cfg.Strategy.Params = nil
	return cfg
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  decimal.NewFromInt(100000),
		},
		Instruments: []market.InstrumentMeta{{
			Symbol:        "BTC_USD",
			BaseCurrency:  "BTC",
			QuoteCurrency: "USD",
			TickSize:      decimal.RequireFromString("0.01"),
			LotSize:       decimal.RequireFromString("0.001"),
			MinQty:        decimal.RequireFromString("0.001"),
		}},
		Risk: risk.Limits{
			MaxPosition: decimal.NewFromInt(1),
			MaxNotional: decimal.NewFromInt(100000),
		},
		Engine: EngineConfig{
			GapPolicy:       engine.GapHalt.String(),
			MaxVenueRejects: 5,
		},
		Sim: SimConfig{Slippage: "none", Fee: "none"},
		Data: DataConfig{
			Source: "csv",
			Path:   "./data/events.csv",
		},
		Strategy: StrategyConfig{
			Name:   "ma-cross",
			Params: map[string]any{"instrument": "BTC_USD", "fast-period": 10, "slow-period": 30, "kind": "ema", "qty": "0.01"},
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./tradecore.db",
		},
		Live: LiveConfig{
			WriteTimeout: 5 * time.Second,
			Venue:        live.DefaultConfig(),
		},
		Viewer: ViewerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}
