// Package feed produces the ordered stream of market events the engine
// consumes, from historical sources or a live exchange connection.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// ErrOutOfOrder is returned when a source yields an event older than the one
// before it for the same instrument.
var ErrOutOfOrder = errors.New("feed: event out of order")

// Feed is a pull-based stream of events. Next returns io.EOF once the stream
// is exhausted.
type Feed interface {
	Next(ctx context.Context) (market.Event, error)
	Close() error
}

// Cursor iterates events for a single instrument in time order.
type Cursor interface {
	Next(ctx context.Context) (market.Event, error)
	Close() error
}

// Source serves historical events for one instrument over [start, end). A
// zero start or end leaves that side of the range open.
type Source interface {
	Range(ctx context.Context, instrument string, start, end time.Time) (Cursor, error)
}

// GapError reports a venue sequence discontinuity on a live feed. Event is
// the event that revealed the gap, already marked with market.FlagGap.
type GapError struct {
	Instrument string
	Expected   uint64
	Got        uint64
	Event      market.Event
}

func (e *GapError) Error() string {
	return fmt.Sprintf("feed: sequence gap on %s: expected %d, got %d", e.Instrument, e.Expected, e.Got)
}

// AsGap unwraps a *GapError from err.
func AsGap(err error) (*GapError, bool) {
	var g *GapError
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
