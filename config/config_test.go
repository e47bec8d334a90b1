package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/journal"
	"github.com/rustyeddy/tradecore/strategies"
	"github.com/rustyeddy/tradecore/strategy"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "USD", cfg.Account.Currency)
	assert.True(t, cfg.Account.Balance.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, []string{"BTC_USD"}, cfg.Symbols())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"missing currency", func(c *Config) { c.Account.Currency = "" }, "account.currency is required"},
		{"negative balance", func(c *Config) { c.Account.Balance = decimal.NewFromInt(-1) }, "account.balance must be positive"},
		{"no instruments", func(c *Config) { c.Instruments = nil }, "at least one instrument"},
		{"duplicate instrument", func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) }, "listed twice"},
		{"bad risk", func(c *Config) { c.Risk.MaxOrders = 3 }, "rate_window must be > 0"},
		{"bad gap policy", func(c *Config) { c.Engine.GapPolicy = "ignore" }, "engine.gap_policy"},
		{"negative rejects", func(c *Config) { c.Engine.MaxVenueRejects = -1 }, "max_venue_rejects"},
		{"bad slippage", func(c *Config) { c.Sim.Slippage = "random" }, "sim.slippage"},
		{"bad fee", func(c *Config) { c.Sim.Fee = "flat" }, "sim.fee"},
		{"bad source", func(c *Config) { c.Data.Source = "s3" }, "data.source"},
		{"end before start", func(c *Config) {
			c.Data.Start = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			c.Data.End = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}, "data.end is before data.start"},
		{"unknown strategy", func(c *Config) { c.Strategy.Name = "martingale" }, "unknown strategy"},
		{"csv journal without dir", func(c *Config) { c.Journal = JournalConfig{Type: "csv"} }, "journal.dir"},
		{"sqlite journal without path", func(c *Config) { c.Journal = JournalConfig{Type: "sqlite"} }, "journal.db_path"},
		{"bad journal", func(c *Config) { c.Journal.Type = "postgres" }, "journal.type"},
		{"viewer without addr", func(c *Config) { c.Viewer = ViewerConfig{Enabled: true} }, "viewer.addr"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Account.Currency = ""
	cfg.Strategy.Name = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account.currency")
	assert.Contains(t, err.Error(), "strategy.name")
}

const sampleYAML = `
account:
  id: BT-1
  currency: USD
  balance: 25000
instruments:
  - symbol: ETH_USD
    tick_size: 0.01
    lot_size: 0.01
    min_qty: 0.01
risk:
  max_position: 5
  max_orders: 10
  rate_window: 1m
engine:
  gap_policy: flag
  max_venue_rejects: 2
  snapshot_every: 100
sim:
  slippage: bps
  slippage_amount: 2.5
  fee: percent
  fee_rate: 0.001
data:
  source: pebble
  path: ./events.db
strategy:
  name: open-once
  params:
    instrument: ETH_USD
    qty: 0.5
  levels:
    stop_loss: 0.02
journal:
  type: csv
  dir: ./out
live:
  venue:
    ack_timeout: 2s
    max_reconnects: 3
`

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Account.Balance.Equal(decimal.NewFromInt(25000)))
	require.Len(t, cfg.Instruments, 1)
	assert.True(t, cfg.Instruments[0].LotSize.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, time.Minute, cfg.Risk.RateWindow)
	assert.True(t, cfg.Risk.MaxPosition.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "pebble", cfg.Data.Source)
	assert.Equal(t, 2*time.Second, cfg.Live.Venue.AckTimeout)
	assert.NotContains(t, cfg.Strategy.Params, "fast-period")
	assert.Equal(t, "info", cfg.Log.Level, "unset sections keep their defaults")

	ec, err := cfg.EngineConfig("run-x", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.GapFlag, ec.GapPolicy)
	assert.Equal(t, 2, ec.MaxVenueRejects)
	assert.Equal(t, 100, ec.SnapshotEvery)
	assert.True(t, ec.InitialCash.Equal(decimal.NewFromInt(25000)))
	require.NoError(t, ec.Validate())

	s, err := cfg.NewStrategy()
	require.NoError(t, err)
	assert.Equal(t, "open-once", strategy.Name(s))

	venue, err := cfg.SimVenue(nil)
	require.NoError(t, err)
	assert.Empty(t, venue.Working())

	vc := cfg.VenueConfig()
	assert.Equal(t, 3, vc.MaxReconnects)
	assert.NotZero(t, vc.Backoff.Max)
}

func TestLoadFromFileJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	cfg := Default()
	cfg.Journal = JournalConfig{Type: "sqlite", DBPath: filepath.Join(dir, "j.db")}
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Strategy.Name, loaded.Strategy.Name)
	assert.Equal(t, "0.01", loaded.Strategy.Params["qty"])
	assert.True(t, loaded.Instruments[0].TickSize.Equal(cfg.Instruments[0].TickSize))

	j, err := loaded.NewJournal()
	require.NoError(t, err)
	require.NotNil(t, j)
	require.NoError(t, j.Close())
}

func TestSaveYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yml")
	cfg := Default()
	cfg.Live.APIKey = "secret"
	cfg.Data.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cfg.SaveToFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.Account.Balance.Equal(cfg.Account.Balance))
	assert.True(t, loaded.Data.Start.Equal(cfg.Data.Start))
	assert.Equal(t, cfg.Live.Venue.AckTimeout, loaded.Live.Venue.AckTimeout)
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("account: [unterminated"), 0644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("account:\n  currency: \"\"\n"), 0644))
	_, err = LoadFromFile(invalid)
	assert.ErrorContains(t, err, "invalid config")
}

// unset clears key for the test and restores it afterwards.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadEnvFile(t *testing.T) {
	for _, k := range []string{EnvLiveURL, EnvAPIKey, EnvLogLevel, EnvDBPath} {
		unset(t, k)
	}

	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte(
		EnvLiveURL+"=wss://example.test/ws\n"+EnvAPIKey+"=k-123\n"+EnvDBPath+"=/tmp/env.db\n"), 0600))
	t.Setenv(EnvLogLevel, "debug")

	cfg := Default()
	require.NoError(t, cfg.LoadEnv(env))
	assert.Equal(t, "wss://example.test/ws", cfg.Live.URL)
	assert.Equal(t, "k-123", cfg.Live.APIKey)
	assert.Equal(t, "/tmp/env.db", cfg.Journal.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)

	a, err := cfg.Adapter(nil)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestLoadEnvMissingFile(t *testing.T) {
	for _, k := range []string{EnvLiveURL, EnvAPIKey, EnvLogLevel, EnvDBPath} {
		unset(t, k)
	}

	cfg := Default()
	require.NoError(t, cfg.LoadEnv(filepath.Join(t.TempDir(), ".env")))
	assert.Empty(t, cfg.Live.URL)

	_, err := cfg.Adapter(nil)
	assert.ErrorContains(t, err, EnvLiveURL)
}

func TestNewJournalKinds(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Journal = JournalConfig{Type: "none"}
	j, err := cfg.NewJournal()
	require.NoError(t, err)
	assert.Nil(t, j)

	cfg.Journal = JournalConfig{Type: "csv", Dir: t.TempDir()}
	j, err = cfg.NewJournal()
	require.NoError(t, err)
	_, ok := j.(*journal.CSV)
	assert.True(t, ok)
	require.NoError(t, j.RecordOrder("r", broker.Order{ID: 1}))
	require.NoError(t, j.Close())
}

func TestRiskSizingTakesStopAndLot(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Strategy.Params["risk-pct"] = "0.01"
	cfg.Strategy.Levels = strategies.LevelsConfig{StopLoss: decimal.RequireFromString("0.02")}

	p := cfg.strategyParams()
	assert.Equal(t, "0.02", p["stop-distance"])
	assert.Equal(t, "0.001", p["lot"])
	_, ok := cfg.Strategy.Params["stop-distance"]
	assert.False(t, ok, "config params are not modified")

	s, err := cfg.NewStrategy()
	require.NoError(t, err)
	_, ok = s.(*strategies.Levels)
	assert.True(t, ok)

	// An explicit stop-distance wins over the stop-loss level.
	cfg.Strategy.Params["stop-distance"] = "0.05"
	assert.Equal(t, "0.05", cfg.strategyParams()["stop-distance"])

	// Without risk-pct nothing is added.
	plain := Default()
	plain.Strategy.Levels = cfg.Strategy.Levels
	_, ok = plain.strategyParams()["stop-distance"]
	assert.False(t, ok)
}
