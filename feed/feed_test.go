package feed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func trade(sec int, inst, px string) market.Event {
	return market.NewTrade(at(sec), inst, d(px), d("1"))
}

func drain(t *testing.T, f Feed) []market.Event {
	t.Helper()
	var out []market.Event
	for {
		ev, err := f.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestHistoricalMergesByTimeThenInstrument(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(
		trade(0, "B", "10"),
		trade(1, "B", "11"),
		trade(1, "B", "12"),
		trade(0, "A", "1"),
		trade(2, "A", "2"),
	)
	h, err := NewHistorical(context.Background(), src, []string{"A", "B"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	defer h.Close()

	got := drain(t, h)
	require.Len(t, got, 5)

	var trace []string
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
		trace = append(trace, ev.Instrument+":"+ev.Trade.Price.String())
	}
	assert.Equal(t, []string{"A:1", "B:10", "B:11", "B:12", "A:2"}, trace)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Before(got[i]))
	}
}

func TestHistoricalIsRepeatable(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(trade(0, "A", "1"), trade(0, "B", "2"), trade(3, "A", "3"), trade(1, "B", "4"))
	run := func() []market.Event {
		h, err := NewHistorical(context.Background(), src, []string{"A", "B"}, time.Time{}, time.Time{})
		require.NoError(t, err)
		defer h.Close()
		return drain(t, h)
	}
	assert.Equal(t, run(), run())
}

func TestHistoricalRange(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(trade(0, "A", "1"), trade(1, "A", "2"), trade(2, "A", "3"))
	h, err := NewHistorical(context.Background(), src, []string{"A"}, at(1), at(2))
	require.NoError(t, err)
	got := drain(t, h)
	require.Len(t, got, 1)
	assert.True(t, got[0].Trade.Price.Equal(d("2")))
}

func TestHistoricalOutOfOrder(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(trade(5, "A", "1"), trade(2, "A", "2"))
	h, err := NewHistorical(context.Background(), src, []string{"A"}, time.Time{}, time.Time{})
	require.NoError(t, err)

	_, err = h.Next(context.Background())
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestHistoricalEmptyAndCancelled(t *testing.T) {
	t.Parallel()

	h, err := NewHistorical(context.Background(), NewSliceSource(), []string{"A"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	_, err = h.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, err = NewHistorical(context.Background(), NewSliceSource(trade(0, "A", "1")), []string{"A"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	_, err = h.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewHistorical(context.Background(), nil, []string{"A"}, time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestLiveGapDetection(t *testing.T) {
	t.Parallel()

	in := make(chan market.Event, 8)
	mk := func(inst string, vs uint64) market.Event {
		ev := trade(int(vs), inst, "1")
		ev.VenueSeq = vs
		return ev
	}
	in <- mk("A", 1)
	in <- mk("B", 7)
	in <- mk("A", 2)
	in <- mk("A", 4)
	in <- mk("A", 5)
	close(in)

	l := NewLive(in)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev, err := l.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	_, err := l.Next(ctx)
	gap, ok := AsGap(err)
	require.True(t, ok, "expected gap, got %v", err)
	assert.Equal(t, "A", gap.Instrument)
	assert.Equal(t, uint64(3), gap.Expected)
	assert.Equal(t, uint64(4), gap.Got)
	assert.True(t, gap.Event.Has(market.FlagGap))

	ev, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ev.VenueSeq)

	_, err = l.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLiveCloseAndCancel(t *testing.T) {
	t.Parallel()

	in := make(chan market.Event)
	l := NewLive(in)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

const sampleCSV = `time,instrument,kind,price,size,bid,ask,bid_size,ask_size,side,venue_seq
2024-03-01T12:00:00Z,BTC_USD,trade,100.5,2,,,,,,11
2024-03-01T12:00:01Z,EUR_USD,quote,,,1.1000,1.1002,5,6
2024-03-01T12:00:02.5Z,BTC_USD,book,99,0,,,,,bid

2024-03-01T12:00:03Z,BTC_USD,trade,101,1
`

func TestCSVCursor(t *testing.T) {
	t.Parallel()

	c := NewCSVCursor(strings.NewReader(sampleCSV), "", time.Time{}, time.Time{})
	var got []market.Event
	for {
		ev, err := c.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 4)

	assert.Equal(t, market.KindTrade, got[0].Kind)
	assert.True(t, got[0].Trade.Price.Equal(d("100.5")))
	assert.Equal(t, uint64(11), got[0].VenueSeq)

	assert.Equal(t, market.KindQuote, got[1].Kind)
	assert.True(t, got[1].Quote.Ask.Equal(d("1.1002")))
	assert.True(t, got[1].Quote.AskSize.Equal(d("6")))

	assert.Equal(t, market.KindBookDelta, got[2].Kind)
	assert.Equal(t, market.Bid, got[2].Delta.Side)
	assert.Equal(t, at(2).Add(500*time.Millisecond), got[2].Time)
}

func TestCSVSourceRangeFiltersInstrument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	src := NewCSVSource(path)
	h, err := NewHistorical(context.Background(), src, []string{"BTC_USD"}, time.Time{}, at(3))
	require.NoError(t, err)
	defer h.Close()

	got := drain(t, h)
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.Equal(t, "BTC_USD", ev.Instrument)
	}
}

func TestParseRowErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		row  []string
		ok   bool
		err  bool
	}{
		{"short row skipped", []string{"2024-03-01T12:00:00Z", "X"}, false, false},
		{"empty instrument skipped", []string{"2024-03-01T12:00:00Z", "", "trade", "1"}, false, false},
		{"bad time", []string{"yesterday", "X", "trade", "1"}, false, true},
		{"bad kind", []string{"2024-03-01T12:00:00Z", "X", "candle", "1"}, false, true},
		{"bad price", []string{"2024-03-01T12:00:00Z", "X", "trade", "abc"}, false, true},
		{"bad side", []string{"2024-03-01T12:00:00Z", "X", "book", "1", "1", "", "", "", "", "up"}, false, true},
		{"ok", []string{"2024-03-01T12:00:00Z", "X", "trade", "1"}, true, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := ParseRow(tt.row)
			assert.Equal(t, tt.ok, ok)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatRowRoundTrip(t *testing.T) {
	t.Parallel()

	ev := market.Event{
		Time:       at(7),
		Instrument: "BTC_USD",
		Kind:       market.KindBookDelta,
		VenueSeq:   42,
		Delta:      market.BookDelta{Side: market.Ask, Price: d("101.25"), Size: d("3")},
	}
	back, ok, err := ParseRow(FormatRow(ev))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev.Instrument, back.Instrument)
	assert.Equal(t, ev.VenueSeq, back.VenueSeq)
	assert.Equal(t, market.Ask, back.Delta.Side)
	assert.True(t, ev.Delta.Price.Equal(back.Delta.Price))
	assert.True(t, ev.Time.Equal(back.Time))
}
