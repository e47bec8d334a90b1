// Package strategies holds the built-in strategies. Importing it registers
// them with the strategy registry.
package strategies

import (
	"github.com/rustyeddy/tradecore/strategy"
)

func init() {
	strategy.Register("noop", func(strategy.Params) (strategy.Strategy, error) { return NoopStrategy{}, nil })
	strategy.Register("open-once", NewOpenOnce)
	strategy.Register("ma-cross", newMACrossFromParams)
	strategy.Register("ema-cross", newMACrossFromParams)
}
