// Package store keeps historical market events in a Pebble database and
// serves them back as a feed.Source.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/market"
)

// keys:
//
//	ev:<instrument>\x00<8-byte time><8-byte seq>  -> JSON market.Event
//	in:<instrument>                              -> empty
//	meta:seq                                     -> 8-byte last seq
var (
	prefixEvent      = []byte("ev:")
	prefixInstrument = []byte("in:")
	keySeq           = []byte("meta:seq")
)

type Pebble struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

var _ feed.Source = (*Pebble)(nil)

func Open(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open event store %s: %w", path, err)
	}
	s := &Pebble{db: db}

	val, closer, err := db.Get(keySeq)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("read store seq: %w", err)
	default:
		if len(val) == 8 {
			s.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	}
	return s, nil
}

func (s *Pebble) Close() error { return s.db.Close() }

// Put appends events. Events with equal timestamps for an instrument come
// back in the order they were stored.
func (s *Pebble) Put(events ...market.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	seq := s.seq
	for _, ev := range events {
		if ev.Instrument == "" {
			return errors.New("store: event without instrument")
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		seq++
		if err := b.Set(eventKey(ev.Instrument, ev.Time, seq), data, nil); err != nil {
			return err
		}
		if err := b.Set(instrumentKey(ev.Instrument), nil, nil); err != nil {
			return err
		}
	}
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	if err := b.Set(keySeq, sb[:], nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save events: %w", err)
	}
	s.seq = seq
	return nil
}

// Import copies every event from c into the store in batches.
func (s *Pebble) Import(ctx context.Context, c feed.Cursor, batch int) (int, error) {
	if batch <= 0 {
		batch = 1000
	}
	n := 0
	buf := make([]market.Event, 0, batch)
	for {
		ev, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		buf = append(buf, ev)
		if len(buf) == batch {
			if err := s.Put(buf...); err != nil {
				return n, err
			}
			n += len(buf)
			buf = buf[:0]
		}
	}
	if err := s.Put(buf...); err != nil {
		return n, err
	}
	return n + len(buf), nil
}

// Instruments lists every instrument with stored events.
func (s *Pebble) Instruments() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixInstrument,
		UpperBound: keyUpperBound(prefixInstrument),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()[len(prefixInstrument):]))
	}
	sort.Strings(out)
	return out, iter.Error()
}

func (s *Pebble) Range(_ context.Context, instrument string, start, end time.Time) (feed.Cursor, error) {
	prefix := instrumentPrefix(instrument)
	lower := prefix
	if !start.IsZero() {
		lower = append(append([]byte{}, prefix...), timeKey(start)...)
	}
	upper := keyUpperBound(prefix)
	if !end.IsZero() {
		upper = append(append([]byte{}, prefix...), timeKey(end)...)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	return &cursor{iter: iter}, nil
}

type cursor struct {
	iter    *pebble.Iterator
	started bool
	closed  bool
}

func (c *cursor) Next(ctx context.Context) (market.Event, error) {
	if c.closed {
		return market.Event{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return market.Event{}, err
	}
	var ok bool
	if !c.started {
		c.started = true
		ok = c.iter.First()
	} else {
		ok = c.iter.Next()
	}
	if !ok {
		if err := c.iter.Error(); err != nil {
			return market.Event{}, err
		}
		return market.Event{}, io.EOF
	}
	var ev market.Event
	if err := json.Unmarshal(c.iter.Value(), &ev); err != nil {
		return market.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.iter.Close()
}

func instrumentPrefix(instrument string) []byte {
	k := make([]byte, 0, len(prefixEvent)+len(instrument)+1)
	k = append(k, prefixEvent...)
	k = append(k, instrument...)
	return append(k, 0)
}

func instrumentKey(instrument string) []byte {
	return append(append([]byte{}, prefixInstrument...), instrument...)
}

// timeKey orders times before and after the epoch correctly.
func timeKey(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano())^(1<<63))
	return b[:]
}

func eventKey(instrument string, t time.Time, seq uint64) []byte {
	k := instrumentPrefix(instrument)
	k = append(k, timeKey(t)...)
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	return append(k, sb[:]...)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
