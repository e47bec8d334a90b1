// Package strategy defines the contract between trading logic and the
// engine. Strategies see events and fills and answer with intents; they
// never hold engine state and never talk to a venue.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
)

type Strategy interface {
	OnEvent(ev market.Event, view portfolio.View) []Intent
	OnFill(f broker.Fill, view portfolio.View) []Intent
}

// RejectionHandler is notified when an intent was refused by the risk
// ledger or the venue.
type RejectionHandler interface {
	OnReject(r Rejection)
}

// OrderObserver sees every order status change for orders the strategy
// placed.
type OrderObserver interface {
	OnOrder(o broker.Order)
}

type Namer interface {
	Name() string
}

// Name returns the strategy's name, or its Go type when it has none.
func Name(s Strategy) string {
	if n, ok := s.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

type IntentKind uint8

const (
	Place IntentKind = iota + 1
	Cancel
)

func (k IntentKind) String() string {
	switch k {
	case Place:
		return "place"
	case Cancel:
		return "cancel"
	}
	return fmt.Sprintf("intent(%d)", uint8(k))
}

// Intent asks the engine to place a new order or cancel a working one.
type Intent struct {
	Kind       IntentKind
	Instrument string
	Side       broker.Side
	Type       broker.OrderType
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
	// OrderID is the order to cancel.
	OrderID uint64
	Tag     string
}

func MarketOrder(instrument string, side broker.Side, qty decimal.Decimal) Intent {
	return Intent{Kind: Place, Instrument: instrument, Side: side, Type: broker.Market, Qty: qty}
}

func LimitOrder(instrument string, side broker.Side, qty, price decimal.Decimal) Intent {
	return Intent{Kind: Place, Instrument: instrument, Side: side, Type: broker.Limit, Qty: qty, LimitPrice: price}
}

func CancelOrder(id uint64) Intent {
	return Intent{Kind: Cancel, OrderID: id}
}

// WithTag labels the resulting order; tags show up in journals.
func (i Intent) WithTag(tag string) Intent {
	i.Tag = tag
	return i
}

type RejectSource uint8

const (
	RejectedByRisk RejectSource = iota + 1
	RejectedByVenue
)

func (s RejectSource) String() string {
	switch s {
	case RejectedByRisk:
		return "risk"
	case RejectedByVenue:
		return "venue"
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// Rejection describes an intent that did not reach, or was refused by, the
// venue.
type Rejection struct {
	Intent Intent
	// Order is the order created for the intent, if any.
	Order  broker.Order
	Source RejectSource
	Reason string
}
