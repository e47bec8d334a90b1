package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side: +1 buy, -1 sell
type Side int8

const (
	Buy  Side = +1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "b", "long":
		return Buy, nil
	case "sell", "SELL", "s", "short":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) Opposite() Side { return -s }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type OrderType uint8

const (
	Market OrderType = iota + 1
	Limit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "market":
		*t = Market
	case "limit":
		*t = Limit
	default:
		return fmt.Errorf("unknown order type %q", b)
	}
	return nil
}

// Status is the lifecycle state of an order.
//
//	New -> Submitted -> PartiallyFilled -> Filled | Cancelled | Rejected
//
// Unknown is entered when a live venue can no longer vouch for the order
// (ack timeout, disconnect) and is left only through reconciliation.
type Status uint8

const (
	StatusNew Status = iota
	StatusSubmitted
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusUnknown
)

var statusNames = [...]string{
	StatusNew:             "new",
	StatusSubmitted:       "submitted",
	StatusPartiallyFilled: "partially_filled",
	StatusFilled:          "filled",
	StatusCancelled:       "cancelled",
	StatusRejected:        "rejected",
	StatusUnknown:         "unknown",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}

// Terminal reports whether no further fills can arrive for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Working reports whether the order may still execute at the venue.
func (s Status) Working() bool {
	switch s {
	case StatusSubmitted, StatusPartiallyFilled, StatusUnknown:
		return true
	}
	return false
}

// Order is owned by the engine. Venues only ever see copies and refer back to
// it by ID.
type Order struct {
	ID         uint64          `json:"id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Qty        decimal.Decimal `json:"qty"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Status     Status          `json:"status"`
	Filled     decimal.Decimal `json:"filled"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Created    time.Time       `json:"created"`
	Updated    time.Time       `json:"updated"`
	Reason     string          `json:"reason,omitempty"`
	Tag        string          `json:"tag,omitempty"`
}

func (o Order) Remaining() decimal.Decimal {
	r := o.Qty.Sub(o.Filled)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// SignedRemaining is the remaining quantity with the order's side applied.
func (o Order) SignedRemaining() decimal.Decimal {
	return o.Remaining().Mul(decimal.NewFromInt(int64(o.Side)))
}

func (o Order) String() string {
	px := "MKT"
	if o.Type == Limit {
		px = o.LimitPrice.String()
	}
	return fmt.Sprintf("#%d %s %s %s @ %s [%s]", o.ID, o.Side, o.Qty, o.Instrument, px, o.Status)
}

// Fill is an execution report. Fills are immutable; several may reference
// the same order.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    uint64          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Time       time.Time       `json:"time"`
}

// Notional is Qty * Price, unsigned.
func (f Fill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}

type Ack struct {
	OrderID      uint64    `json:"order_id"`
	VenueOrderID string    `json:"venue_order_id,omitempty"`
	Time         time.Time `json:"time"`
}
