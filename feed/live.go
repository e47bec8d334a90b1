package feed

import (
	"context"
	"io"

	"github.com/rustyeddy/tradecore/market"
)

// Live wraps a channel of exchange events. Events keep their arrival order;
// per instrument that is the exchange sequence, checked through VenueSeq.
// Events with a zero VenueSeq are not checked.
type Live struct {
	in   <-chan market.Event
	seq  uint64
	last map[string]uint64
	stop chan struct{}
}

var _ Feed = (*Live)(nil)

func NewLive(in <-chan market.Event) *Live {
	return &Live{
		in:   in,
		last: make(map[string]uint64),
		stop: make(chan struct{}),
	}
}

// Next blocks until an event arrives. A sequence discontinuity returns the
// event inside a *GapError; the caller decides whether to halt or go on
// with GapError.Event. Sequence tracking resumes from the gapped event.
func (l *Live) Next(ctx context.Context) (market.Event, error) {
	select {
	case <-ctx.Done():
		return market.Event{}, ctx.Err()
	case <-l.stop:
		return market.Event{}, io.EOF
	case ev, ok := <-l.in:
		if !ok {
			return market.Event{}, io.EOF
		}
		l.seq++
		ev.Seq = l.seq
		if ev.VenueSeq == 0 {
			return ev, nil
		}
		prev, seen := l.last[ev.Instrument]
		l.last[ev.Instrument] = ev.VenueSeq
		if seen && ev.VenueSeq != prev+1 {
			ev.Flags |= market.FlagGap
			return ev, &GapError{Instrument: ev.Instrument, Expected: prev + 1, Got: ev.VenueSeq, Event: ev}
		}
		return ev, nil
	}
}

// Close makes pending and future Next calls return io.EOF. It does not
// close the underlying channel, which belongs to the adapter.
func (l *Live) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	return nil
}
