// Package indicators provides streaming technical indicators fed one price
// at a time.
package indicators

// Indicator computes a single streaming value from a price series.
// It is deterministic and safe to use in live and backtest runs.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next price.
	Update(v float64)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns 0 until Ready.
	Value() float64
}

// New returns an SMA or EMA by kind ("sma" or "ema").
func New(kind string, period int) (Indicator, bool) {
	switch kind {
	case "sma", "ma":
		return NewMA(period), true
	case "ema":
		return NewEMA(period), true
	}
	return nil, false
}
