// market/instruments.go
package market

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

type InstrumentMeta struct {
	Symbol        string          `json:"symbol" yaml:"symbol"`
	BaseCurrency  string          `json:"base" yaml:"base"`
	QuoteCurrency string          `json:"quote" yaml:"quote"`
	TickSize      decimal.Decimal `json:"tick_size" yaml:"tick_size"`
	LotSize       decimal.Decimal `json:"lot_size" yaml:"lot_size"`
	MinQty        decimal.Decimal `json:"min_qty" yaml:"min_qty"`
}

// ValidPrice reports whether p is positive and aligned to the tick size.
func (m InstrumentMeta) ValidPrice(p decimal.Decimal) bool {
	if !p.IsPositive() {
		return false
	}
	return aligned(p, m.TickSize)
}

// ValidQty reports whether q is at least MinQty and aligned to the lot size.
func (m InstrumentMeta) ValidQty(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("quantity %s must be positive", q)
	}
	if m.MinQty.IsPositive() && q.LessThan(m.MinQty) {
		return fmt.Errorf("quantity %s below minimum %s", q, m.MinQty)
	}
	if !aligned(q, m.LotSize) {
		return fmt.Errorf("quantity %s is not a multiple of lot size %s", q, m.LotSize)
	}
	return nil
}

func aligned(v, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return true
	}
	return v.Mod(step).IsZero()
}

// Instruments is an immutable-by-convention registry keyed by symbol.
type Instruments map[string]InstrumentMeta

func NewInstruments(metas ...InstrumentMeta) Instruments {
	out := make(Instruments, len(metas))
	for _, m := range metas {
		out[m.Symbol] = m
	}
	return out
}

func (in Instruments) Lookup(symbol string) (InstrumentMeta, error) {
	m, ok := in[symbol]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, symbol)
	}
	return m, nil
}

// Symbols returns the registered symbols in lexical order.
func (in Instruments) Symbols() []string {
	out := make([]string, 0, len(in))
	for s := range in {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DefaultInstruments returns a small FX and crypto universe useful for
// examples and tests.
func DefaultInstruments() Instruments {
	return NewInstruments(
		InstrumentMeta{
			Symbol:        "EUR_USD",
			BaseCurrency:  "EUR",
			QuoteCurrency: "USD",
			TickSize:      decimal.RequireFromString("0.00001"),
			LotSize:       decimal.NewFromInt(1),
			MinQty:        decimal.NewFromInt(1),
		},
		InstrumentMeta{
			Symbol:        "USD_JPY",
			BaseCurrency:  "USD",
			QuoteCurrency: "JPY",
			TickSize:      decimal.RequireFromString("0.001"),
			LotSize:       decimal.NewFromInt(1),
			MinQty:        decimal.NewFromInt(1),
		},
		InstrumentMeta{
			Symbol:        "BTC_USD",
			BaseCurrency:  "BTC",
			QuoteCurrency: "USD",
			TickSize:      decimal.RequireFromString("0.01"),
			LotSize:       decimal.RequireFromString("0.0001"),
			MinQty:        decimal.RequireFromString("0.0001"),
		},
	)
}
