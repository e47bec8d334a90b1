package strategies

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/strategy"
)

// OpenOnceStrategy places a single market order on the first event for its
// instrument and then stays quiet. A negative Qty sells.
type OpenOnceStrategy struct {
	Instrument string          `json:"instrument"`
	Qty        decimal.Decimal `json:"qty"`

	opened bool
}

func NewOpenOnce(p strategy.Params) (strategy.Strategy, error) {
	s := &OpenOnceStrategy{}
	if err := p.Decode(s); err != nil {
		return nil, err
	}
	if s.Instrument == "" {
		return nil, errors.New("open-once: instrument is required")
	}
	if s.Qty.IsZero() {
		return nil, errors.New("open-once: qty must be non-zero")
	}
	return s, nil
}

func (s *OpenOnceStrategy) OnEvent(ev market.Event, _ portfolio.View) []strategy.Intent {
	if s.opened || ev.Instrument != s.Instrument {
		return nil
	}
	s.opened = true
	side := broker.Buy
	if s.Qty.IsNegative() {
		side = broker.Sell
	}
	return []strategy.Intent{strategy.MarketOrder(s.Instrument, side, s.Qty.Abs()).WithTag("open-once")}
}

func (s *OpenOnceStrategy) OnFill(broker.Fill, portfolio.View) []strategy.Intent { return nil }

func (s *OpenOnceStrategy) Name() string { return "open-once" }
