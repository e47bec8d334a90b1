package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the payload carried by an Event.
type Kind uint8

const (
	KindQuote Kind = iota + 1
	KindTrade
	KindBookDelta
)

func (k Kind) String() string {
	switch k {
	case KindQuote:
		return "quote"
	case KindTrade:
		return "trade"
	case KindBookDelta:
		return "book"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "quote", "q":
		return KindQuote, nil
	case "trade", "t":
		return KindTrade, nil
	case "book", "delta", "book_delta", "b":
		return KindBookDelta, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// BookSide is the side of the book touched by a delta.
type BookSide int8

const (
	Bid BookSide = 1
	Ask BookSide = -1
)

// Flags are data-quality marks attached to an event by the feed or engine.
type Flags uint8

const (
	// FlagGap marks the first event after a detected sequence discontinuity.
	FlagGap Flags = 1 << iota
)

type Quote struct {
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	BidSize decimal.Decimal `json:"bid_size"`
	AskSize decimal.Decimal `json:"ask_size"`
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

type Trade struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookDelta replaces the size resting at Price; a zero Size removes the level.
type BookDelta struct {
	Side  BookSide        `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Event is one market data update. Events produced by a single feed are
// ordered by (Time, Seq).
type Event struct {
	Time       time.Time `json:"time"`
	Seq        uint64    `json:"seq"`
	VenueSeq   uint64    `json:"venue_seq,omitempty"`
	Instrument string    `json:"instrument"`
	Kind       Kind      `json:"kind"`
	Flags      Flags     `json:"flags,omitempty"`

	Quote Quote     `json:"quote"`
	Trade Trade     `json:"trade"`
	Delta BookDelta `json:"delta"`
}

// Before reports whether e sorts before o in feed order.
func (e Event) Before(o Event) bool {
	if !e.Time.Equal(o.Time) {
		return e.Time.Before(o.Time)
	}
	return e.Seq < o.Seq
}

// Price returns the reference price of the event: the trade price, the
// quote mid or the delta level.
func (e Event) Price() (decimal.Decimal, bool) {
	switch e.Kind {
	case KindTrade:
		return e.Trade.Price, e.Trade.Price.IsPositive()
	case KindQuote:
		if !e.Quote.Bid.IsPositive() || !e.Quote.Ask.IsPositive() {
			return decimal.Zero, false
		}
		return e.Quote.Mid(), true
	case KindBookDelta:
		return e.Delta.Price, e.Delta.Price.IsPositive()
	}
	return decimal.Zero, false
}

func (e Event) Has(f Flags) bool { return e.Flags&f != 0 }

func (e Event) String() string {
	switch e.Kind {
	case KindTrade:
		return fmt.Sprintf("%s #%d %s trade %s x %s", e.Time.Format(time.RFC3339Nano), e.Seq, e.Instrument, e.Trade.Price, e.Trade.Size)
	case KindQuote:
		return fmt.Sprintf("%s #%d %s quote %s/%s", e.Time.Format(time.RFC3339Nano), e.Seq, e.Instrument, e.Quote.Bid, e.Quote.Ask)
	default:
		return fmt.Sprintf("%s #%d %s %s %s x %s", e.Time.Format(time.RFC3339Nano), e.Seq, e.Instrument, e.Kind, e.Delta.Price, e.Delta.Size)
	}
}

// NewTrade is a convenience constructor used by sources and tests.
func NewTrade(t time.Time, instrument string, price, size decimal.Decimal) Event {
	return Event{Time: t, Instrument: instrument, Kind: KindTrade, Trade: Trade{Price: price, Size: size}}
}

func NewQuote(t time.Time, instrument string, bid, ask decimal.Decimal) Event {
	return Event{Time: t, Instrument: instrument, Kind: KindQuote, Quote: Quote{Bid: bid, Ask: ask}}
}
