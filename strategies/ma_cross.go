package strategies

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/indicators"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/strategy"
)

// MACross trades a single instrument on fast/slow moving average crosses.
//   - Enters only on a cross
//   - A bull cross targets +Qty, a bear cross -Qty (flat when AllowShort is off)
//   - One order in flight at a time; crosses seen meanwhile are skipped
//   - With RiskPct set, entries are sized so a StopDistance move against
//     them loses RiskPct of equity, instead of using Qty
//   - With ADXPeriod set, entries wait for ADX over Bar-sized bars to
//     reach ADXMin; going flat is never filtered
type MACross struct {
	MACrossConfig

	fast indicators.Indicator
	slow indicators.Indicator

	bars *indicators.BarBuilder
	adx  *indicators.ADX

	lastDiff     float64
	haveLastDiff bool
	pending      bool
}

type MACrossConfig struct {
	Instrument string          `json:"instrument"`
	FastPeriod int             `json:"fast-period"`
	SlowPeriod int             `json:"slow-period"`
	Kind       string          `json:"kind"` // "ema" or "sma"
	Qty        decimal.Decimal `json:"qty"`
	AllowShort bool            `json:"allow-short"`

	ADXPeriod int     `json:"adx-period"`
	ADXMin    float64 `json:"adx-min"`
	Bar       string  `json:"bar"` // bar interval for ADX, e.g. "1m"

	RiskPct      decimal.Decimal `json:"risk-pct"`
	StopDistance decimal.Decimal `json:"stop-distance"` // relative, e.g. 0.02
	Lot          decimal.Decimal `json:"lot"`
}

func MACrossConfigDefaults() MACrossConfig {
	return MACrossConfig{
		Instrument: "BTC_USD",
		FastPeriod: 10,
		SlowPeriod: 30,
		Kind:       "ema",
		Qty:        decimal.RequireFromString("0.01"),
	}
}

func NewMACross(cfg MACrossConfig) (*MACross, error) {
	if cfg.Instrument == "" {
		return nil, errors.New("ma-cross: instrument is required")
	}
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		return nil, fmt.Errorf("ma-cross: need 0 < fast-period < slow-period, got %d/%d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.RiskPct.IsPositive() {
		if !cfg.StopDistance.IsPositive() || cfg.StopDistance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("ma-cross: risk-pct needs 0 < stop-distance < 1, got %s", cfg.StopDistance)
		}
	} else if !cfg.Qty.IsPositive() {
		return nil, fmt.Errorf("ma-cross: qty must be positive, got %s", cfg.Qty)
	}
	if cfg.Kind == "" {
		cfg.Kind = "ema"
	}
	fast, ok := indicators.New(cfg.Kind, cfg.FastPeriod)
	if !ok {
		return nil, fmt.Errorf("ma-cross: unknown average kind %q", cfg.Kind)
	}
	slow, _ := indicators.New(cfg.Kind, cfg.SlowPeriod)
	s := &MACross{MACrossConfig: cfg, fast: fast, slow: slow}

	if cfg.ADXPeriod < 0 {
		return nil, fmt.Errorf("ma-cross: adx-period must not be negative, got %d", cfg.ADXPeriod)
	}
	if cfg.ADXPeriod > 0 {
		interval := time.Minute
		if cfg.Bar != "" {
			var err error
			if interval, err = time.ParseDuration(cfg.Bar); err != nil || interval <= 0 {
				return nil, fmt.Errorf("ma-cross: bad bar interval %q", cfg.Bar)
			}
		}
		s.bars = indicators.NewBarBuilder(interval)
		s.adx = indicators.NewADX(cfg.ADXPeriod)
	}
	return s, nil
}

func newMACrossFromParams(p strategy.Params) (strategy.Strategy, error) {
	cfg := MACrossConfigDefaults()
	if err := p.Decode(&cfg); err != nil {
		return nil, err
	}
	return NewMACross(cfg)
}

func (s *MACross) Name() string { return "ma-cross" }

func (s *MACross) OnEvent(ev market.Event, view portfolio.View) []strategy.Intent {
	if ev.Instrument != s.Instrument || ev.Kind == market.KindBookDelta {
		return nil
	}
	px, ok := ev.Price()
	if !ok {
		return nil
	}
	if s.bars != nil {
		if bar, closed := s.bars.Add(ev); closed {
			s.adx.Update(bar)
		}
	}
	v := px.InexactFloat64()
	s.fast.Update(v)
	s.slow.Update(v)

	// Wait until both averages are warmed up.
	if !s.fast.Ready() || !s.slow.Ready() {
		return nil
	}

	diff := s.fast.Value() - s.slow.Value()
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return nil
	}

	bullCross := diff > 0 && s.lastDiff <= 0
	bearCross := diff < 0 && s.lastDiff >= 0
	s.lastDiff = diff

	switch {
	case bullCross:
		return s.retarget(view, s.size(view, px), "bull-cross")
	case bearCross:
		target := decimal.Zero
		if s.AllowShort {
			target = s.size(view, px).Neg()
		}
		return s.retarget(view, target, "bear-cross")
	}
	return nil
}

// size is the absolute entry quantity at price px.
func (s *MACross) size(view portfolio.View, px decimal.Decimal) decimal.Decimal {
	if !s.RiskPct.IsPositive() {
		return s.Qty
	}
	stop := px.Mul(decimal.NewFromInt(1).Sub(s.StopDistance))
	return risk.SizeForRisk(view.Equity(), s.RiskPct, px, stop, s.Lot)
}

func (s *MACross) retarget(view portfolio.View, target decimal.Decimal, tag string) []strategy.Intent {
	if s.pending || !s.trending(target) {
		return nil
	}
	delta := target.Sub(view.Position(s.Instrument).Qty)
	if delta.IsZero() {
		return nil
	}
	side := broker.Buy
	if delta.IsNegative() {
		side = broker.Sell
	}
	s.pending = true
	return []strategy.Intent{strategy.MarketOrder(s.Instrument, side, delta.Abs()).WithTag(tag)}
}

func (s *MACross) trending(target decimal.Decimal) bool {
	if s.adx == nil || target.IsZero() {
		return true
	}
	return s.adx.Ready() && s.adx.Value() >= s.ADXMin
}

func (s *MACross) OnFill(broker.Fill, portfolio.View) []strategy.Intent { return nil }

func (s *MACross) OnOrder(o broker.Order) {
	if o.Instrument == s.Instrument && o.Status.Terminal() {
		s.pending = false
	}
}

func (s *MACross) OnReject(strategy.Rejection) { s.pending = false }
