package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
)

// ErrOrderNotFound is returned by QueryOrder when the exchange has no
// record of the order.
var ErrOrderNotFound = errors.New("order not found at exchange")

// Adapter is the exchange connection the live venue and live feed consume.
// MarketData and Executions return the same channels for the adapter's
// whole life; a connection loss is signalled in-band with an
// ExecDisconnected execution, and both channels are closed by Close.
type Adapter interface {
	Connect(ctx context.Context) error
	// SubmitOrder sends o. The acknowledgement arrives on Executions.
	SubmitOrder(ctx context.Context, o broker.Order) error
	CancelOrder(ctx context.Context, orderID uint64) error
	// QueryOrder returns the exchange's view of an order, including every
	// fill it has confirmed.
	QueryOrder(ctx context.Context, orderID uint64) (OrderState, error)
	MarketData() <-chan market.Event
	Executions() <-chan Execution
	Close() error
}

type ExecKind uint8

const (
	ExecAck ExecKind = iota + 1
	ExecFill
	ExecCancelled
	ExecRejected
	ExecDisconnected
)

var execNames = map[ExecKind]string{
	ExecAck:          "ack",
	ExecFill:         "fill",
	ExecCancelled:    "cancelled",
	ExecRejected:     "rejected",
	ExecDisconnected: "disconnected",
}

func (k ExecKind) String() string {
	if n, ok := execNames[k]; ok {
		return n
	}
	return fmt.Sprintf("exec(%d)", uint8(k))
}

func (k ExecKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ExecKind) UnmarshalText(b []byte) error {
	for kind, n := range execNames {
		if n == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown execution kind %q", b)
}

// Execution is one message from the exchange about an order.
type Execution struct {
	Kind         ExecKind    `json:"kind"`
	OrderID      uint64      `json:"order_id"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
	Fill         broker.Fill `json:"fill"`
	Reason       string      `json:"reason,omitempty"`
}

// OrderState is the exchange's answer to QueryOrder.
type OrderState struct {
	OrderID uint64        `json:"order_id"`
	Status  broker.Status `json:"status"`
	Fills   []broker.Fill `json:"fills"`
}
