package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Limits are the pre-trade limits for a run. A zero value disables the
// corresponding check. Limits are fixed once a run starts.
type Limits struct {
	// MaxPosition caps |projected position| per instrument.
	MaxPosition decimal.Decimal `yaml:"max_position" json:"max_position"`
	// MaxNotional caps gross notional across all instruments.
	MaxNotional decimal.Decimal `yaml:"max_notional" json:"max_notional"`
	// MaxOrders submissions are allowed per RateWindow.
	MaxOrders  int           `yaml:"max_orders" json:"max_orders"`
	RateWindow time.Duration `yaml:"rate_window" json:"rate_window"`

	PerInstrument map[string]InstrumentLimits `yaml:"per_instrument" json:"per_instrument,omitempty"`
}

// InstrumentLimits override Limits.MaxPosition for one symbol.
type InstrumentLimits struct {
	MaxPosition decimal.Decimal `yaml:"max_position" json:"max_position"`
}

// PositionLimit returns the effective position cap for instrument.
func (l Limits) PositionLimit(instrument string) decimal.Decimal {
	if il, ok := l.PerInstrument[instrument]; ok && !il.MaxPosition.IsZero() {
		return il.MaxPosition
	}
	return l.MaxPosition
}

func (l Limits) Validate() error {
	var errs []error
	if l.MaxPosition.IsNegative() {
		errs = append(errs, fmt.Errorf("max_position must be >= 0, got %s", l.MaxPosition))
	}
	if l.MaxNotional.IsNegative() {
		errs = append(errs, fmt.Errorf("max_notional must be >= 0, got %s", l.MaxNotional))
	}
	if l.MaxOrders < 0 {
		errs = append(errs, fmt.Errorf("max_orders must be >= 0, got %d", l.MaxOrders))
	}
	if l.MaxOrders > 0 && l.RateWindow <= 0 {
		errs = append(errs, errors.New("rate_window must be > 0 when max_orders is set"))
	}
	for sym, il := range l.PerInstrument {
		if il.MaxPosition.IsNegative() {
			errs = append(errs, fmt.Errorf("per_instrument[%s].max_position must be >= 0", sym))
		}
	}
	return errors.Join(errs...)
}
