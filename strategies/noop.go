package strategies

import (
	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/strategy"
)

// NoopStrategy does nothing.
type NoopStrategy struct{}

func (NoopStrategy) OnEvent(market.Event, portfolio.View) []strategy.Intent { return nil }
func (NoopStrategy) OnFill(broker.Fill, portfolio.View) []strategy.Intent   { return nil }
func (NoopStrategy) Name() string                                           { return "noop" }
