package feed

import (
	"context"
	"io"
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// SliceSource serves events held in memory, keyed by instrument.
type SliceSource struct {
	events map[string][]market.Event
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource groups events by instrument, keeping their relative order.
func NewSliceSource(events ...market.Event) *SliceSource {
	s := &SliceSource{events: make(map[string][]market.Event)}
	for _, ev := range events {
		s.events[ev.Instrument] = append(s.events[ev.Instrument], ev)
	}
	return s
}

func (s *SliceSource) Range(_ context.Context, instrument string, start, end time.Time) (Cursor, error) {
	var out []market.Event
	for _, ev := range s.events[instrument] {
		if inRange(ev.Time, start, end) {
			out = append(out, ev)
		}
	}
	return &sliceCursor{events: out}, nil
}

type sliceCursor struct {
	events []market.Event
	i      int
}

func (c *sliceCursor) Next(ctx context.Context) (market.Event, error) {
	if err := ctx.Err(); err != nil {
		return market.Event{}, err
	}
	if c.i >= len(c.events) {
		return market.Event{}, io.EOF
	}
	ev := c.events[c.i]
	c.i++
	return ev, nil
}

func (c *sliceCursor) Close() error { return nil }
