// Package livetest provides an in-memory exchange Adapter for tests.
package livetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/market"
)

// Fake is a scripted exchange. Orders are acknowledged as they are
// submitted unless AutoAck is off; fills and status changes are driven by
// the test through the exchange-side helpers.
type Fake struct {
	mu sync.Mutex

	md chan market.Event
	ex chan live.Execution

	AutoAck bool
	// Reject, when set, refuses every submitted order with this reason.
	Reject string
	// Drop, when set, loses submitted orders before they reach the exchange.
	Drop bool

	connectFail int
	connects    int
	queryErr    error
	closed      bool

	orders    map[uint64]broker.Order
	states    map[uint64]live.OrderState
	submitted []uint64
	cancelled []uint64
}

var _ live.Adapter = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		md:      make(chan market.Event, 1024),
		ex:      make(chan live.Execution, 1024),
		AutoAck: true,
		orders:  make(map[uint64]broker.Order),
		states:  make(map[uint64]live.OrderState),
	}
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectFail > 0 {
		f.connectFail--
		return errors.New("connection refused")
	}
	return nil
}

func (f *Fake) SubmitOrder(_ context.Context, o broker.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reject != "" {
		f.ex <- live.Execution{Kind: live.ExecRejected, OrderID: o.ID, Reason: f.Reject}
		return nil
	}
	if f.Drop {
		return nil
	}
	f.orders[o.ID] = o
	f.states[o.ID] = live.OrderState{OrderID: o.ID, Status: broker.StatusSubmitted}
	f.submitted = append(f.submitted, o.ID)
	if f.AutoAck {
		f.ex <- live.Execution{Kind: live.ExecAck, OrderID: o.ID, VenueOrderID: fmt.Sprintf("EX-%d", o.ID)}
	}
	return nil
}

func (f *Fake) CancelOrder(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok || st.Status.Terminal() {
		return broker.Reject(id, "order not open")
	}
	st.Status = broker.StatusCancelled
	f.states[id] = st
	f.cancelled = append(f.cancelled, id)
	f.ex <- live.Execution{Kind: live.ExecCancelled, OrderID: id}
	return nil
}

func (f *Fake) QueryOrder(_ context.Context, id uint64) (live.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return live.OrderState{}, f.queryErr
	}
	st, ok := f.states[id]
	if !ok {
		return live.OrderState{}, live.ErrOrderNotFound
	}
	st.Fills = append([]broker.Fill(nil), st.Fills...)
	return st, nil
}

func (f *Fake) MarketData() <-chan market.Event { return f.md }

func (f *Fake) Executions() <-chan live.Execution { return f.ex }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.md)
		close(f.ex)
	}
	return nil
}

// FailConnects makes the next n Connect calls fail.
func (f *Fake) FailConnects(n int) {
	f.mu.Lock()
	f.connectFail = n
	f.mu.Unlock()
}

// FailQueries makes QueryOrder return err until called again with nil.
func (f *Fake) FailQueries(err error) {
	f.mu.Lock()
	f.queryErr = err
	f.mu.Unlock()
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Fake) Submitted() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.submitted...)
}

// Fill executes part of an order at the exchange. When notify is false
// the fill is only visible through QueryOrder, as if the connection was
// down when it happened.
func (f *Fake) Fill(id uint64, fillID string, qty, price decimal.Decimal, notify bool) broker.Fill {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	fill := broker.Fill{
		ID:         fillID,
		OrderID:    id,
		Instrument: o.Instrument,
		Side:       o.Side,
		Qty:        qty,
		Price:      price,
	}
	st := f.states[id]
	st.OrderID = id
	st.Fills = append(st.Fills, fill)
	filled := decimal.Zero
	for _, x := range st.Fills {
		filled = filled.Add(x.Qty)
	}
	if filled.GreaterThanOrEqual(o.Qty) {
		st.Status = broker.StatusFilled
	} else {
		st.Status = broker.StatusPartiallyFilled
	}
	f.states[id] = st
	if notify {
		f.ex <- live.Execution{Kind: live.ExecFill, OrderID: id, Fill: fill}
	}
	return fill
}

// SetStatus changes an order's status at the exchange without notifying.
func (f *Fake) SetStatus(id uint64, s broker.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[id]
	st.OrderID = id
	st.Status = s
	f.states[id] = st
}

func (f *Fake) Send(ex live.Execution) { f.ex <- ex }

func (f *Fake) Disconnect(reason string) {
	f.ex <- live.Execution{Kind: live.ExecDisconnected, Reason: reason}
}

func (f *Fake) Publish(ev market.Event) { f.md <- ev }
