package indicators

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/market"
)

// Bar is an OHLC summary of the priced events inside [Start, Start+Interval).
type Bar struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Count  int             `json:"count"`
}

// Range is High - Low.
func (b Bar) Range() decimal.Decimal { return b.High.Sub(b.Low) }

// BarBuilder folds a stream of events into fixed-interval bars. Bars are
// aligned to Interval boundaries in UTC. Intervals with no events produce
// no bar.
type BarBuilder struct {
	Interval time.Duration

	cur  Bar
	open bool
}

func NewBarBuilder(interval time.Duration) *BarBuilder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BarBuilder{Interval: interval}
}

// Add consumes ev and returns the previous bar once ev falls past its end.
// Book deltas and events without a price are ignored.
func (b *BarBuilder) Add(ev market.Event) (Bar, bool) {
	if ev.Kind == market.KindBookDelta {
		return Bar{}, false
	}
	px, ok := ev.Price()
	if !ok {
		return Bar{}, false
	}
	start := ev.Time.UTC().Truncate(b.Interval)

	var closed Bar
	var done bool
	if b.open && start.After(b.cur.Start) {
		closed, done = b.cur, true
		b.open = false
	}
	if !b.open {
		b.cur = Bar{Start: start, Open: px, High: px, Low: px, Close: px}
		b.open = true
	} else {
		b.cur.High = decimal.Max(b.cur.High, px)
		b.cur.Low = decimal.Min(b.cur.Low, px)
		b.cur.Close = px
	}
	b.cur.Count++
	if ev.Kind == market.KindTrade {
		b.cur.Volume = b.cur.Volume.Add(ev.Trade.Size)
	}
	return closed, done
}

// Current returns the bar being built, if any.
func (b *BarBuilder) Current() (Bar, bool) { return b.cur, b.open }

// Flush closes and returns the bar being built.
func (b *BarBuilder) Flush() (Bar, bool) {
	if !b.open {
		return Bar{}, false
	}
	b.open = false
	return b.cur, true
}

func (b *BarBuilder) Reset() {
	b.cur, b.open = Bar{}, false
}
