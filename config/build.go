package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/broker/live/wsadapter"
	"github.com/rustyeddy/tradecore/broker/sim"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/journal"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/strategies"
	"github.com/rustyeddy/tradecore/strategy"
	"github.com/rustyeddy/tradecore/viewer"
)

func (c *Config) InstrumentSet() market.Instruments {
	return market.NewInstruments(c.Instruments...)
}

// Symbols lists the configured instruments in file order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.Instruments))
	for i, m := range c.Instruments {
		out[i] = m.Symbol
	}
	return out
}

// EngineConfig builds the engine settings for one run. clock is nil for
// backtests.
func (c *Config) EngineConfig(runID string, clock func() time.Time) (engine.Config, error) {
	gap, err := engine.ParseGapPolicy(c.Engine.GapPolicy)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		RunID:           runID,
		InitialCash:     c.Account.Balance,
		Limits:          c.Risk,
		GapPolicy:       gap,
		MaxVenueRejects: c.Engine.MaxVenueRejects,
		SnapshotEvery:   c.Engine.SnapshotEvery,
		Clock:           clock,
	}, nil
}

func (c *Config) Slippage() (sim.Slippage, error) {
	return sim.ParseSlippage(c.Sim.Slippage, c.Sim.SlippageAmount)
}

func (c *Config) FeeModel() (sim.FeeModel, error) {
	return sim.ParseFee(c.Sim.Fee, c.Sim.FeeRate)
}

// SimVenue builds the simulated venue for backtests.
func (c *Config) SimVenue(log *zap.Logger) (*sim.Venue, error) {
	slip, err := c.Slippage()
	if err != nil {
		return nil, err
	}
	fees, err := c.FeeModel()
	if err != nil {
		return nil, err
	}
	return sim.New(c.InstrumentSet(), sim.WithSlippage(slip), sim.WithFees(fees), sim.WithLogger(log)), nil
}

// NewStrategy builds the configured strategy, wrapped in stop/target
// levels when any are set.
func (c *Config) NewStrategy() (strategy.Strategy, error) {
	s, err := strategy.New(c.Strategy.Name, c.strategyParams())
	if err != nil {
		return nil, err
	}
	return strategies.WithLevels(s, c.Strategy.Levels), nil
}

// strategyParams copies the configured params. Risk-based sizing without
// an explicit stop-distance sizes from the stop-loss level, and takes the
// lot size of its instrument.
func (c *Config) strategyParams() strategy.Params {
	p := make(strategy.Params, len(c.Strategy.Params)+2)
	for k, v := range c.Strategy.Params {
		p[k] = v
	}
	if _, ok := p["risk-pct"]; !ok {
		return p
	}
	if _, ok := p["stop-distance"]; !ok && c.Strategy.Levels.StopLoss.IsPositive() {
		p["stop-distance"] = c.Strategy.Levels.StopLoss.String()
	}
	if _, ok := p["lot"]; !ok {
		if sym, _ := p["instrument"].(string); sym != "" {
			if m, err := c.InstrumentSet().Lookup(sym); err == nil && m.LotSize.IsPositive() {
				p["lot"] = m.LotSize.String()
			}
		}
	}
	return p
}

// NewJournal opens the configured journal. It returns nil for type none.
func (c *Config) NewJournal() (journal.Journal, error) {
	switch c.Journal.Type {
	case "", "none":
		return nil, nil
	case "csv":
		return journal.NewCSV(c.Journal.Dir)
	case "sqlite":
		return journal.NewSQLite(c.Journal.DBPath)
	}
	return nil, fmt.Errorf("unknown journal type %q", c.Journal.Type)
}

// Adapter builds the websocket exchange adapter for live runs.
func (c *Config) Adapter(log *zap.Logger) (*wsadapter.Adapter, error) {
	if c.Live.URL == "" {
		return nil, fmt.Errorf("live.url is required (or set %s)", EnvLiveURL)
	}
	return wsadapter.New(wsadapter.Config{
		URL:          c.Live.URL,
		APIKey:       c.Live.APIKey,
		WriteTimeout: c.Live.WriteTimeout,
	}, log), nil
}

func (c *Config) VenueConfig() live.Config {
	vc := c.Live.Venue
	def := live.DefaultConfig()
	if vc.AckTimeout == 0 {
		vc.AckTimeout = def.AckTimeout
	}
	if vc.Backoff.Min == 0 && vc.Backoff.Max == 0 {
		vc.Backoff = def.Backoff
	}
	return vc
}

func (c *Config) ViewerOptions() viewer.Options {
	return viewer.Options{Addr: c.Viewer.Addr, AllowedOrigins: c.Viewer.AllowedOrigins}
}
