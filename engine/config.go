package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/risk"
)

// Config is fixed for the life of an Engine.
type Config struct {
	RunID       string
	InitialCash decimal.Decimal
	Limits      risk.Limits
	GapPolicy   GapPolicy
	// MaxVenueRejects halts the run once venue rejections exceed it.
	// Zero disables the check.
	MaxVenueRejects int
	// SnapshotEvery emits a portfolio snapshot every N events. Zero only
	// emits the final one.
	SnapshotEvery int
	// Clock stamps orders. When nil the time of the last processed event
	// is used, which keeps backtests reproducible.
	Clock func() time.Time
}

func (c Config) Validate() error {
	var errs []error
	if c.InitialCash.IsNegative() {
		errs = append(errs, fmt.Errorf("engine.initial_cash must be >= 0, got %s", c.InitialCash))
	}
	if c.MaxVenueRejects < 0 {
		errs = append(errs, fmt.Errorf("engine.max_venue_rejects must be >= 0, got %d", c.MaxVenueRejects))
	}
	if c.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("engine.snapshot_every must be >= 0, got %d", c.SnapshotEvery))
	}
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
