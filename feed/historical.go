package feed

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// Historical merges one cursor per instrument into a single stream ordered
// by (Time, instrument position, source order) and stamps each event with
// a run-wide Seq starting at 1. Opening the same range again yields the
// same sequence.
type Historical struct {
	cursors []Cursor
	last    []time.Time
	h       eventHeap
	primed  bool
	seq     uint64
	closed  bool
}

var _ Feed = (*Historical)(nil)

// NewHistorical opens a cursor for every instrument. The instrument order
// breaks ties between events with equal timestamps.
func NewHistorical(ctx context.Context, src Source, instruments []string, start, end time.Time) (*Historical, error) {
	if src == nil {
		return nil, errors.New("feed: Source is required")
	}
	if len(instruments) == 0 {
		return nil, errors.New("feed: at least one instrument is required")
	}
	h := &Historical{
		cursors: make([]Cursor, 0, len(instruments)),
		last:    make([]time.Time, len(instruments)),
	}
	for _, inst := range instruments {
		c, err := src.Range(ctx, inst, start, end)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("feed: open %s: %w", inst, err)
		}
		h.cursors = append(h.cursors, c)
	}
	return h, nil
}

func (h *Historical) Next(ctx context.Context) (market.Event, error) {
	if h.closed {
		return market.Event{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return market.Event{}, err
	}
	if !h.primed {
		h.primed = true
		for i := range h.cursors {
			if err := h.pull(ctx, i); err != nil {
				return market.Event{}, err
			}
		}
	}
	if h.h.Len() == 0 {
		return market.Event{}, io.EOF
	}

	item := heap.Pop(&h.h).(heapItem)
	if err := h.pull(ctx, item.src); err != nil {
		return market.Event{}, err
	}

	h.seq++
	ev := item.ev
	ev.Seq = h.seq
	return ev, nil
}

// pull reads the next event from cursor i onto the heap.
func (h *Historical) pull(ctx context.Context, i int) error {
	ev, err := h.cursors[i].Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if ev.Time.Before(h.last[i]) {
		return fmt.Errorf("%w: %s at %s after %s", ErrOutOfOrder,
			ev.Instrument, ev.Time.Format(time.RFC3339Nano), h.last[i].Format(time.RFC3339Nano))
	}
	h.last[i] = ev.Time
	h.h.order++
	heap.Push(&h.h, heapItem{ev: ev, src: i, order: h.h.order})
	return nil
}

func (h *Historical) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	var errs []error
	for _, c := range h.cursors {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type heapItem struct {
	ev    market.Event
	src   int
	order uint64
}

type eventHeap struct {
	items []heapItem
	order uint64
}

func (h eventHeap) Len() int { return len(h.items) }

func (h eventHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.ev.Time.Equal(b.ev.Time) {
		return a.ev.Time.Before(b.ev.Time)
	}
	if a.src != b.src {
		return a.src < b.src
	}
	return a.order < b.order
}

func (h eventHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *eventHeap) Push(x any) { h.items = append(h.items, x.(heapItem)) }

func (h *eventHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
