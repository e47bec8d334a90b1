package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
)

// Slippage moves a market order's reference price against the taker.
type Slippage interface {
	Apply(side broker.Side, price decimal.Decimal, meta market.InstrumentMeta) decimal.Decimal
}

// FeeModel charges a fee, in quote currency, for a fill.
type FeeModel interface {
	Fee(side broker.Side, qty, price decimal.Decimal) decimal.Decimal
}

// NoSlippage fills at the reference price.
type NoSlippage struct{}

func (NoSlippage) Apply(_ broker.Side, price decimal.Decimal, _ market.InstrumentMeta) decimal.Decimal {
	return price
}

// FixedBps worsens the price by Bps basis points.
type FixedBps struct {
	Bps decimal.Decimal
}

var tenThousand = decimal.NewFromInt(10_000)

func (s FixedBps) Apply(side broker.Side, price decimal.Decimal, _ market.InstrumentMeta) decimal.Decimal {
	adj := price.Mul(s.Bps).Div(tenThousand)
	if side == broker.Sell {
		return price.Sub(adj)
	}
	return price.Add(adj)
}

// FixedTicks worsens the price by a whole number of instrument ticks.
type FixedTicks struct {
	Ticks int64
}

func (s FixedTicks) Apply(side broker.Side, price decimal.Decimal, meta market.InstrumentMeta) decimal.Decimal {
	adj := meta.TickSize.Mul(decimal.NewFromInt(s.Ticks))
	if side == broker.Sell {
		return price.Sub(adj)
	}
	return price.Add(adj)
}

type NoFee struct{}

func (NoFee) Fee(broker.Side, decimal.Decimal, decimal.Decimal) decimal.Decimal { return decimal.Zero }

// PercentFee charges Rate times the fill notional, e.g. 0.001 for 10 bps.
type PercentFee struct {
	Rate decimal.Decimal
}

func (f PercentFee) Fee(_ broker.Side, qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(f.Rate)
}

// ParseSlippage builds a slippage policy from its config name.
func ParseSlippage(kind string, amount decimal.Decimal) (Slippage, error) {
	switch kind {
	case "", "none":
		return NoSlippage{}, nil
	case "bps":
		return FixedBps{Bps: amount}, nil
	case "ticks":
		if !amount.Equal(amount.Truncate(0)) {
			return nil, fmt.Errorf("tick slippage must be a whole number, got %s", amount)
		}
		return FixedTicks{Ticks: amount.IntPart()}, nil
	}
	return nil, fmt.Errorf("unknown slippage kind %q (supported: none, bps, ticks)", kind)
}

// ParseFee builds a fee policy from its config name.
func ParseFee(kind string, rate decimal.Decimal) (FeeModel, error) {
	switch kind {
	case "", "none":
		return NoFee{}, nil
	case "percent", "pct":
		return PercentFee{Rate: rate}, nil
	}
	return nil, fmt.Errorf("unknown fee kind %q (supported: none, percent)", kind)
}
