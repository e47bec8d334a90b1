package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/market"
)

// CSVHeader is the canonical column layout read by CSVSource:
//
//	time,instrument,kind,price,size,bid,ask,bid_size,ask_size,side,venue_seq
//
// price/size describe trades and book deltas, bid/ask/bid_size/ask_size
// describe quotes, side ("bid" or "ask") belongs to book deltas. Trailing
// empty columns may be omitted.
var CSVHeader = []string{"time", "instrument", "kind", "price", "size", "bid", "ask", "bid_size", "ask_size", "side", "venue_seq"}

const (
	colTime = iota
	colInstrument
	colKind
	colPrice
	colSize
	colBid
	colAsk
	colBidSize
	colAskSize
	colSide
	colVenueSeq
)

// CSVSource serves events from a CSV file holding any number of
// instruments. Rows for one instrument must be in time order.
type CSVSource struct {
	Path string
}

var _ Source = (*CSVSource)(nil)

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

func (s *CSVSource) Range(_ context.Context, instrument string, start, end time.Time) (Cursor, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return newCSVCursor(f, instrument, start, end), nil
}

// All returns a cursor over every row in file order.
func (s *CSVSource) All(_ context.Context) (Cursor, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return newCSVCursor(f, "", time.Time{}, time.Time{}), nil
}

type csvCursor struct {
	c          io.Closer
	r          *csv.Reader
	instrument string
	from, to   time.Time
	line       int
	sawFirst   bool
}

// NewCSVCursor reads events from r. An empty instrument matches all rows.
func NewCSVCursor(r io.Reader, instrument string, from, to time.Time) Cursor {
	return newCSVCursor(r, instrument, from, to)
}

func newCSVCursor(r io.Reader, instrument string, from, to time.Time) *csvCursor {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cur := &csvCursor{r: cr, instrument: instrument, from: from, to: to}
	if c, ok := r.(io.Closer); ok {
		cur.c = c
	}
	return cur
}

func (c *csvCursor) Next(ctx context.Context) (market.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return market.Event{}, err
		}
		row, err := c.r.Read()
		if err == io.EOF {
			return market.Event{}, io.EOF
		}
		if err != nil {
			return market.Event{}, err
		}
		c.line++
		if len(row) == 0 {
			continue
		}

		// Allow a single header row
		if !c.sawFirst {
			c.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		ev, ok, err := ParseRow(row)
		if err != nil {
			return market.Event{}, fmt.Errorf("csv line %d: %w", c.line, err)
		}
		if !ok {
			continue
		}
		if c.instrument != "" && ev.Instrument != c.instrument {
			continue
		}
		if !inRange(ev.Time, c.from, c.to) {
			continue
		}
		return ev, nil
	}
}

func (c *csvCursor) Close() error {
	if c.c != nil {
		return c.c.Close()
	}
	return nil
}

// ParseRow decodes one CSV row. Rows too short to carry an event, or with
// an empty time or instrument, are skipped (ok == false).
func ParseRow(row []string) (market.Event, bool, error) {
	if len(row) < 4 {
		return market.Event{}, false, nil
	}
	col := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	ts := col(colTime)
	inst := col(colInstrument)
	if ts == "" || inst == "" {
		return market.Event{}, false, nil
	}
	t, err := parseTime(ts)
	if err != nil {
		return market.Event{}, false, err
	}
	kind, err := market.ParseKind(col(colKind))
	if err != nil {
		return market.Event{}, false, err
	}

	ev := market.Event{Time: t, Instrument: inst, Kind: kind}

	dec := func(i int, name string) (decimal.Decimal, error) {
		s := col(i)
		if s == "" {
			return decimal.Zero, nil
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad %s %q: %w", name, s, err)
		}
		return v, nil
	}

	switch kind {
	case market.KindTrade:
		if ev.Trade.Price, err = dec(colPrice, "price"); err != nil {
			return market.Event{}, false, err
		}
		if ev.Trade.Size, err = dec(colSize, "size"); err != nil {
			return market.Event{}, false, err
		}
	case market.KindQuote:
		if ev.Quote.Bid, err = dec(colBid, "bid"); err != nil {
			return market.Event{}, false, err
		}
		if ev.Quote.Ask, err = dec(colAsk, "ask"); err != nil {
			return market.Event{}, false, err
		}
		if ev.Quote.BidSize, err = dec(colBidSize, "bid_size"); err != nil {
			return market.Event{}, false, err
		}
		if ev.Quote.AskSize, err = dec(colAskSize, "ask_size"); err != nil {
			return market.Event{}, false, err
		}
	case market.KindBookDelta:
		if ev.Delta.Price, err = dec(colPrice, "price"); err != nil {
			return market.Event{}, false, err
		}
		if ev.Delta.Size, err = dec(colSize, "size"); err != nil {
			return market.Event{}, false, err
		}
		switch strings.ToLower(col(colSide)) {
		case "bid", "b", "buy":
			ev.Delta.Side = market.Bid
		case "ask", "a", "sell":
			ev.Delta.Side = market.Ask
		default:
			return market.Event{}, false, fmt.Errorf("bad book side %q", col(colSide))
		}
	}

	if s := col(colVenueSeq); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return market.Event{}, false, fmt.Errorf("bad venue_seq %q: %w", s, err)
		}
		ev.VenueSeq = n
	}
	return ev, true, nil
}

// FormatRow is the inverse of ParseRow.
func FormatRow(ev market.Event) []string {
	row := make([]string, len(CSVHeader))
	row[colTime] = ev.Time.UTC().Format(time.RFC3339Nano)
	row[colInstrument] = ev.Instrument
	row[colKind] = ev.Kind.String()
	switch ev.Kind {
	case market.KindTrade:
		row[colPrice] = ev.Trade.Price.String()
		row[colSize] = ev.Trade.Size.String()
	case market.KindQuote:
		row[colBid] = ev.Quote.Bid.String()
		row[colAsk] = ev.Quote.Ask.String()
		row[colBidSize] = ev.Quote.BidSize.String()
		row[colAskSize] = ev.Quote.AskSize.String()
	case market.KindBookDelta:
		row[colPrice] = ev.Delta.Price.String()
		row[colSize] = ev.Delta.Size.String()
		if ev.Delta.Side == market.Bid {
			row[colSide] = "bid"
		} else {
			row[colSide] = "ask"
		}
	}
	if ev.VenueSeq != 0 {
		row[colVenueSeq] = strconv.FormatUint(ev.VenueSeq, 10)
	}
	return row
}

// Accept RFC3339 or RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t.UTC(), nil
}
