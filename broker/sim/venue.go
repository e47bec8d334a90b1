// Package sim is a deterministic execution venue for backtests. Orders
// execute only against events that arrive after the order was submitted.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
)

type Venue struct {
	mu          sync.Mutex
	instruments market.Instruments
	slippage    Slippage
	fees        FeeModel
	log         *zap.Logger

	working map[uint64]*working
	reports []broker.Report

	// tick counts Match calls; an order only sees events with a larger tick.
	tick uint64
	now  time.Time
}

type working struct {
	order  broker.Order
	atTick uint64
	fills  int
}

type Option func(*Venue)

func WithSlippage(s Slippage) Option { return func(v *Venue) { v.slippage = s } }
func WithFees(f FeeModel) Option     { return func(v *Venue) { v.fees = f } }
func WithLogger(l *zap.Logger) Option {
	return func(v *Venue) {
		if l != nil {
			v.log = l
		}
	}
}

var (
	_ broker.Venue   = (*Venue)(nil)
	_ broker.Matcher = (*Venue)(nil)
)

func New(instruments market.Instruments, opts ...Option) *Venue {
	v := &Venue{
		instruments: instruments,
		slippage:    NoSlippage{},
		fees:        NoFee{},
		log:         zap.NewNop(),
		working:     make(map[uint64]*working),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Venue) Submit(_ context.Context, o broker.Order) (broker.Ack, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.validate(o); err != nil {
		v.log.Debug("sim reject", zap.Uint64("order", o.ID), zap.Error(err))
		return broker.Ack{}, err
	}
	if _, dup := v.working[o.ID]; dup {
		return broker.Ack{}, broker.Reject(o.ID, "duplicate order id")
	}

	o.Status = broker.StatusSubmitted
	v.working[o.ID] = &working{order: o, atTick: v.tick}
	return broker.Ack{OrderID: o.ID, VenueOrderID: fmt.Sprintf("SIM-%d", o.ID), Time: v.now}, nil
}

func (v *Venue) validate(o broker.Order) error {
	meta, err := v.instruments.Lookup(o.Instrument)
	if err != nil {
		return broker.Reject(o.ID, "%v", err)
	}
	if o.Side != broker.Buy && o.Side != broker.Sell {
		return broker.Reject(o.ID, "invalid side %d", o.Side)
	}
	if err := meta.ValidQty(o.Qty); err != nil {
		return broker.Reject(o.ID, "%v", err)
	}
	switch o.Type {
	case broker.Market:
	case broker.Limit:
		if !o.LimitPrice.IsPositive() {
			return broker.Reject(o.ID, "limit price %s must be positive", o.LimitPrice)
		}
		if !meta.ValidPrice(o.LimitPrice) {
			return broker.Reject(o.ID, "limit price %s is not a multiple of tick size %s", o.LimitPrice, meta.TickSize)
		}
	default:
		return broker.Reject(o.ID, "unsupported order type %s", o.Type)
	}
	return nil
}

func (v *Venue) Cancel(_ context.Context, id uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.working[id]; !ok {
		return fmt.Errorf("cancel order %d: %w", id, broker.ErrAlreadyTerminal)
	}
	delete(v.working, id)
	v.reports = append(v.reports, broker.StatusReport(id, broker.StatusCancelled, "cancelled"))
	return nil
}

func (v *Venue) Pending() []broker.Report {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.reports
	v.reports = nil
	return out
}

// Working returns the orders still resting at the venue, by id.
func (v *Venue) Working() []broker.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]broker.Order, 0, len(v.working))
	for _, w := range v.working {
		out = append(out, w.order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match executes working orders against ev. Orders are visited in id
// order so results never depend on map iteration.
func (v *Venue) Match(ev market.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.tick++
	v.now = ev.Time
	if len(v.working) == 0 {
		return
	}

	ids := make([]uint64, 0, len(v.working))
	for id, w := range v.working {
		if w.order.Instrument == ev.Instrument && w.atTick < v.tick {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Liquidity an event offers is shared by all orders on the same side.
	used := map[broker.Side]decimal.Decimal{}
	for _, id := range ids {
		w := v.working[id]
		px, qty, size, ok := v.execution(w.order, ev)
		if !ok {
			continue
		}
		if size.IsPositive() {
			left := size.Sub(used[w.order.Side])
			if !left.IsPositive() {
				continue
			}
			qty = decimal.Min(qty, left)
			used[w.order.Side] = used[w.order.Side].Add(qty)
		}
		v.fill(w, ev, px, qty)
	}
}

// execution decides whether o trades on ev, at what price and for how
// much. size is the liquidity the event offers; zero means unlimited.
func (v *Venue) execution(o broker.Order, ev market.Event) (px, qty, size decimal.Decimal, ok bool) {
	remaining := o.Remaining()
	if !remaining.IsPositive() {
		return
	}

	switch o.Type {
	case broker.Market:
		var ref decimal.Decimal
		switch ev.Kind {
		case market.KindTrade:
			ref = ev.Trade.Price
		case market.KindQuote:
			ref = ev.Quote.Ask
			if o.Side == broker.Sell {
				ref = ev.Quote.Bid
			}
		default:
			return
		}
		if !ref.IsPositive() {
			return
		}
		meta, _ := v.instruments.Lookup(o.Instrument)
		px = v.slippage.Apply(o.Side, ref, meta)
		if !px.IsPositive() {
			return
		}
		return px, remaining, decimal.Zero, true

	case broker.Limit:
		switch ev.Kind {
		case market.KindTrade:
			p := ev.Trade.Price
			if !p.IsPositive() || !crosses(o.Side, p, o.LimitPrice) {
				return
			}
			return o.LimitPrice, remaining, ev.Trade.Size, true
		case market.KindQuote:
			p, sz := ev.Quote.Ask, ev.Quote.AskSize
			if o.Side == broker.Sell {
				p, sz = ev.Quote.Bid, ev.Quote.BidSize
			}
			if !p.IsPositive() || !crosses(o.Side, p, o.LimitPrice) {
				return
			}
			return p, remaining, sz, true
		}
	}
	return
}

// crosses reports whether price is at or through the limit for side.
func crosses(side broker.Side, price, limit decimal.Decimal) bool {
	if side == broker.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func (v *Venue) fill(w *working, ev market.Event, px, qty decimal.Decimal) {
	w.fills++
	f := broker.Fill{
		ID:         fmt.Sprintf("SIM-%d-%d", w.order.ID, w.fills),
		OrderID:    w.order.ID,
		Instrument: w.order.Instrument,
		Side:       w.order.Side,
		Qty:        qty,
		Price:      px,
		Fee:        v.fees.Fee(w.order.Side, qty, px),
		Time:       ev.Time,
	}
	w.order.Filled = w.order.Filled.Add(qty)
	if w.order.Remaining().IsZero() {
		w.order.Status = broker.StatusFilled
		delete(v.working, w.order.ID)
	} else {
		w.order.Status = broker.StatusPartiallyFilled
	}
	v.reports = append(v.reports, broker.FillReport(f))

	v.log.Debug("sim fill",
		zap.String("fill", f.ID),
		zap.String("instrument", f.Instrument),
		zap.Stringer("side", f.Side),
		zap.Stringer("qty", f.Qty),
		zap.Stringer("price", f.Price),
	)
}
