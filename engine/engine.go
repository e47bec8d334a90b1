// Package engine drives a strategy over an event feed against a venue.
// The same loop runs backtests against the simulated venue and production
// against a live one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/internal/id"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/rustyeddy/tradecore/strategy"
)

type Engine struct {
	cfg       Config
	feed      feed.Feed
	venue     broker.Venue
	strat     strategy.Strategy
	log       *zap.Logger
	observers []Observer

	ledger *risk.Ledger
	pf     *portfolio.Portfolio

	mu      sync.Mutex
	state   State
	reason  string
	haltErr error

	nextID    uint64
	orders    map[uint64]*broker.Order
	orderIDs  []uint64
	fills     []broker.Fill
	conflicts []ConflictError

	events       int
	riskRejects  int
	venueRejects int
	wins, losses int
	recSeq       uint64
	first, last  time.Time
	peak, maxDD  decimal.Decimal
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObservers(obs ...Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

func New(cfg Config, f feed.Feed, v broker.Venue, s strategy.Strategy, opts ...Option) (*Engine, error) {
	switch {
	case f == nil:
		return nil, ErrMissingFeed
	case v == nil:
		return nil, ErrMissingVenue
	case s == nil:
		return nil, ErrMissingStrat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = id.New()
	}

	e := &Engine{
		cfg:    cfg,
		feed:   f,
		venue:  v,
		strat:  s,
		log:    zap.NewNop(),
		ledger: risk.NewLedger(cfg.Limits),
		pf:     portfolio.New(cfg.InitialCash),
		orders: make(map[uint64]*broker.Order),
		peak:   cfg.InitialCash,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(zap.String("run", cfg.RunID))
	return e, nil
}

func (e *Engine) RunID() string { return e.cfg.RunID }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HaltReason is set once the engine is Halted.
func (e *Engine) HaltReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Portfolio is the read-only view strategies see. Only safe to use from
// the engine goroutine or after Run returns.
func (e *Engine) Portfolio() portfolio.View { return e.pf }

// Orders returns every order the run created, in creation order.
func (e *Engine) Orders() []broker.Order {
	out := make([]broker.Order, 0, len(e.orderIDs))
	for _, oid := range e.orderIDs {
		out = append(out, *e.orders[oid])
	}
	return out
}

// Fills returns every fill applied to the portfolio, in application order.
func (e *Engine) Fills() []broker.Fill {
	return append([]broker.Fill(nil), e.fills...)
}

// Run consumes the feed until it ends, the run halts or ctx is cancelled.
// It may be called once. A halted run returns its Result together with a
// *HaltError.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return nil, ErrNotIdle
	}
	e.state = Running
	e.mu.Unlock()

	name := strategy.Name(e.strat)
	e.log.Info("run started", zap.String("strategy", name))
	e.emit(Record{Kind: RecordStarted, Strategy: name})

	if n, ok := e.venue.(broker.Notifier); ok {
		e.runLive(ctx, n)
	} else {
		e.runBacktest(ctx)
	}
	return e.finish()
}

func (e *Engine) runBacktest(ctx context.Context) {
	for e.running() {
		if err := ctx.Err(); err != nil {
			e.halt(HaltCancelled, err)
			return
		}
		ev, err := e.feed.Next(ctx)
		e.handle(ctx, ev, err)
	}
}

type item struct {
	ev  market.Event
	err error
}

// runLive multiplexes feed events with asynchronous venue reports. The
// feed is read by a pump goroutine; everything else stays on this one.
func (e *Engine) runLive(ctx context.Context, n broker.Notifier) {
	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()

	items := make(chan item, 1)
	go e.pump(pumpCtx, items)

	for e.running() {
		select {
		case <-ctx.Done():
			e.halt(HaltCancelled, ctx.Err())
		case <-n.Ready():
			e.execute(ctx, e.drain())
		case it := <-items:
			e.handle(ctx, it.ev, it.err)
		}
	}
}

func (e *Engine) pump(ctx context.Context, out chan<- item) {
	for {
		ev, err := e.feed.Next(ctx)
		select {
		case out <- item{ev: ev, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			if _, gap := feed.AsGap(err); !gap {
				return
			}
		}
	}
}

// handle processes one feed result: an event, end of stream or an error.
func (e *Engine) handle(ctx context.Context, ev market.Event, err error) {
	if err != nil {
		gap, isGap := feed.AsGap(err)
		switch {
		case errors.Is(err, io.EOF):
			e.complete()
			return
		case isGap && e.cfg.GapPolicy == GapFlag:
			e.log.Warn("feed gap", zap.String("instrument", gap.Instrument),
				zap.Uint64("expected", gap.Expected), zap.Uint64("got", gap.Got))
			ev = gap.Event
			ev.Flags |= market.FlagGap
		case isGap:
			e.halt(HaltGap, err)
			return
		case ctx.Err() != nil:
			e.halt(HaltCancelled, ctx.Err())
			return
		default:
			e.halt(HaltFeedError, err)
			return
		}
	}
	e.process(ctx, ev)
}

// process runs one event through the loop: match, apply fills, mark,
// dispatch, then execute intents. Every fill produced before the event is
// applied before the strategy sees it.
func (e *Engine) process(ctx context.Context, ev market.Event) {
	e.events++
	if e.first.IsZero() {
		e.first = ev.Time
	}
	e.last = ev.Time

	if m, ok := e.venue.(broker.Matcher); ok {
		m.Match(ev)
	}
	followUps := e.drain()

	if px, ok := ev.Price(); ok {
		e.pf.Mark(ev.Instrument, px)
	}
	e.trackDrawdown()

	rec := ev
	e.emit(Record{Kind: RecordEvent, Time: ev.Time, Event: &rec})

	e.execute(ctx, followUps)
	if !e.running() {
		return
	}
	e.execute(ctx, e.strat.OnEvent(ev, e.pf))

	if e.cfg.SnapshotEvery > 0 && e.events%e.cfg.SnapshotEvery == 0 {
		snap := e.pf.Snapshot(e.now())
		e.emit(Record{Kind: RecordSnapshot, Snapshot: &snap})
	}
}

// execute performs intents in order. Intents returned by OnFill for fills
// that arrive meanwhile are queued behind them.
func (e *Engine) execute(ctx context.Context, intents []strategy.Intent) {
	for len(intents) > 0 && e.running() {
		in := intents[0]
		intents = intents[1:]

		switch in.Kind {
		case strategy.Place:
			e.place(ctx, in)
		case strategy.Cancel:
			e.cancel(ctx, in)
		default:
			e.log.Warn("ignoring intent", zap.Stringer("kind", in.Kind))
		}
		intents = append(intents, e.drain()...)
	}
}

func (e *Engine) place(ctx context.Context, in strategy.Intent) {
	now := e.now()
	e.nextID++
	o := &broker.Order{
		ID:         e.nextID,
		Instrument: in.Instrument,
		Side:       in.Side,
		Type:       in.Type,
		Qty:        in.Qty,
		LimitPrice: in.LimitPrice,
		Status:     broker.StatusNew,
		Created:    now,
		Updated:    now,
		Tag:        in.Tag,
	}
	if o.Type == 0 {
		o.Type = broker.Market
	}
	e.orders[o.ID] = o
	e.orderIDs = append(e.orderIDs, o.ID)

	ref := o.LimitPrice
	if o.Type == broker.Market || !ref.IsPositive() {
		ref, _ = e.pf.MarkPrice(o.Instrument)
	}
	dec := e.ledger.Check(risk.Request{Order: *o, RefPrice: ref, Now: now, Working: e.working()}, e.pf)
	if !dec.Allowed {
		e.riskRejects++
		e.log.Info("risk rejected", zap.Uint64("order", o.ID), zap.Error(dec.Err(o.ID)))
		e.setStatus(o, broker.StatusRejected, dec.Reason())
		e.reject(*o, strategy.RejectedByRisk, dec.Reason())
		return
	}

	_, err := e.venue.Submit(ctx, *o)
	switch {
	case err == nil:
		e.setStatus(o, broker.StatusSubmitted, "")
	case errors.Is(err, broker.ErrAckTimeout):
		e.log.Warn("order state unknown", zap.Uint64("order", o.ID), zap.Error(err))
		e.setStatus(o, broker.StatusUnknown, "ack timeout")
	default:
		reason := err.Error()
		var re *broker.RejectError
		if errors.As(err, &re) {
			reason = re.Reason
		}
		e.log.Info("venue rejected", zap.Uint64("order", o.ID), zap.Error(err))
		e.venueRejected(o, reason)
	}
}

func (e *Engine) cancel(ctx context.Context, in strategy.Intent) {
	o, ok := e.orders[in.OrderID]
	if !ok || o.Status.Terminal() || o.Status == broker.StatusNew {
		e.log.Debug("cancel ignored", zap.Uint64("order", in.OrderID))
		return
	}
	if err := e.venue.Cancel(ctx, o.ID); err != nil {
		if errors.Is(err, broker.ErrAlreadyTerminal) {
			e.log.Debug("cancel after terminal", zap.Uint64("order", o.ID))
			return
		}
		e.log.Warn("cancel failed", zap.Uint64("order", o.ID), zap.Error(err))
	}
}

func (e *Engine) venueRejected(o *broker.Order, reason string) {
	e.venueRejects++
	e.setStatus(o, broker.StatusRejected, reason)
	e.reject(*o, strategy.RejectedByVenue, reason)
	if limit := e.cfg.MaxVenueRejects; limit > 0 && e.venueRejects > limit {
		e.halt(HaltVenueRejects, fmt.Errorf("%d venue rejections exceed limit %d", e.venueRejects, limit))
	}
}

// drain applies every report the venue has queued and returns the intents
// the strategy produced in response to fills.
func (e *Engine) drain() []strategy.Intent {
	var out []strategy.Intent
	for _, r := range e.venue.Pending() {
		switch r.Kind {
		case broker.ReportFill:
			out = append(out, e.applyFill(r.Fill)...)
		case broker.ReportStatus:
			e.applyStatus(r)
		case broker.ReportConflict:
			f := r.Fill
			e.conflict(r.OrderID, &f, reasonOr(r.Reason, "unmatched execution"))
		case broker.ReportVenueDown:
			e.halt(HaltVenueDown, r.Err)
		}
	}
	return out
}

func (e *Engine) applyFill(f broker.Fill) []strategy.Intent {
	if e.pf.Applied(f.ID) {
		e.log.Debug("duplicate fill", zap.String("fill", f.ID))
		return nil
	}
	o, ok := e.orders[f.OrderID]
	switch {
	case !ok:
		e.conflict(f.OrderID, &f, "fill for unknown order")
		return nil
	case o.Status.Terminal():
		e.conflict(o.ID, &f, "fill on "+o.Status.String()+" order")
		return nil
	case o.Filled.Add(f.Qty).GreaterThan(o.Qty):
		e.conflict(o.ID, &f, fmt.Sprintf("overfill: %s + %s > %s", o.Filled, f.Qty, o.Qty))
		return nil
	}
	if f.Instrument == "" {
		f.Instrument = o.Instrument
	}
	if f.Side == 0 {
		f.Side = o.Side
	}
	if f.Time.IsZero() {
		f.Time = e.now()
	}

	before := e.pf.Realized()
	if _, err := e.pf.Apply(f); err != nil {
		e.conflict(o.ID, &f, err.Error())
		return nil
	}
	switch pnl := e.pf.Realized().Sub(before); pnl.Sign() {
	case 1:
		e.wins++
	case -1:
		e.losses++
	}

	total := o.Filled.Add(f.Qty)
	o.AvgPrice = o.AvgPrice.Mul(o.Filled).Add(f.Price.Mul(f.Qty)).Div(total)
	o.Filled = total
	e.fills = append(e.fills, f)

	rec := f
	e.emit(Record{Kind: RecordFill, Time: f.Time, Fill: &rec})

	status := broker.StatusPartiallyFilled
	if o.Filled.Equal(o.Qty) {
		status = broker.StatusFilled
	}
	e.setStatus(o, status, "")
	return e.strat.OnFill(f, e.pf)
}

func (e *Engine) applyStatus(r broker.Report) {
	o, ok := e.orders[r.OrderID]
	if !ok {
		e.log.Warn("status for unknown order", zap.Uint64("order", r.OrderID), zap.Stringer("status", r.Status))
		return
	}
	if o.Status.Terminal() {
		e.log.Debug("status after terminal", zap.Uint64("order", o.ID), zap.Stringer("status", r.Status))
		return
	}

	s := r.Status
	switch s {
	case broker.StatusSubmitted, broker.StatusPartiallyFilled:
		s = broker.StatusSubmitted
		if o.Filled.IsPositive() {
			s = broker.StatusPartiallyFilled
		}
	case broker.StatusFilled:
		if o.Filled.LessThan(o.Qty) {
			e.conflict(o.ID, nil, fmt.Sprintf("reported filled with %s of %s applied", o.Filled, o.Qty))
			return
		}
	case broker.StatusRejected:
		e.venueRejected(o, reasonOr(r.Reason, "rejected by venue"))
		return
	}
	if s == o.Status {
		return
	}
	e.setStatus(o, s, r.Reason)
}

// conflict records an execution the order book cannot absorb and moves
// the order, if known, to Unknown.
func (e *Engine) conflict(orderID uint64, f *broker.Fill, reason string) {
	c := ConflictError{OrderID: orderID, Reason: reason}
	if f != nil {
		fc := *f
		c.Fill = &fc
	}
	e.conflicts = append(e.conflicts, c)
	e.log.Warn("reconciliation conflict", zap.Error(&c))
	e.emit(Record{Kind: RecordConflict, Conflict: &c})

	if o, ok := e.orders[orderID]; ok && o.Status != broker.StatusUnknown {
		e.setStatus(o, broker.StatusUnknown, reason)
	}
}

func (e *Engine) setStatus(o *broker.Order, s broker.Status, reason string) {
	o.Status = s
	o.Updated = e.now()
	if reason != "" {
		o.Reason = reason
	}
	rec := *o
	e.emit(Record{Kind: RecordOrder, Order: &rec})
	if obs, ok := e.strat.(strategy.OrderObserver); ok {
		obs.OnOrder(*o)
	}
}

func (e *Engine) reject(o broker.Order, src strategy.RejectSource, reason string) {
	h, ok := e.strat.(strategy.RejectionHandler)
	if !ok {
		return
	}
	h.OnReject(strategy.Rejection{
		Intent: strategy.Intent{
			Kind:       strategy.Place,
			Instrument: o.Instrument,
			Side:       o.Side,
			Type:       o.Type,
			Qty:        o.Qty,
			LimitPrice: o.LimitPrice,
			Tag:        o.Tag,
		},
		Order:  o,
		Source: src,
		Reason: reason,
	})
}

// working lists orders that may still execute at the venue.
func (e *Engine) working() []broker.Order {
	var out []broker.Order
	for _, oid := range e.orderIDs {
		if o := e.orders[oid]; o.Status.Working() {
			out = append(out, *o)
		}
	}
	return out
}

func (e *Engine) trackDrawdown() {
	eq := e.pf.Equity()
	if eq.GreaterThan(e.peak) {
		e.peak = eq
		return
	}
	if !e.peak.IsPositive() {
		return
	}
	dd := e.peak.Sub(eq).Div(e.peak).Mul(decimal.NewFromInt(100))
	if dd.GreaterThan(e.maxDD) {
		e.maxDD = dd
	}
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Running
}

func (e *Engine) complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		e.state = Completed
	}
}

func (e *Engine) halt(reason string, err error) {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return
	}
	e.state = Halted
	e.reason = reason
	e.haltErr = err
	e.mu.Unlock()

	e.log.Warn("run halted", zap.String("reason", reason), zap.Error(err))
}

// finish applies reports that are already queued, takes the final
// snapshot and builds the Result.
func (e *Engine) finish() (*Result, error) {
	e.drain()
	e.trackDrawdown()

	snap := e.pf.Snapshot(e.now())
	state := e.State()
	res := e.result(state, snap)

	kind := RecordCompleted
	if state == Halted {
		kind = RecordHalted
	}
	e.emit(Record{Kind: kind, Snapshot: &snap, Reason: res.HaltReason})
	e.log.Info("run finished",
		zap.Stringer("state", state),
		zap.Int("events", res.Events),
		zap.Int("orders", len(res.Orders)),
		zap.Int("fills", len(res.Fills)),
		zap.String("equity", snap.Equity.StringFixed(2)))

	if state == Halted {
		e.mu.Lock()
		herr := &HaltError{Reason: e.reason, Err: e.haltErr}
		e.mu.Unlock()
		return res, herr
	}
	return res, nil
}

func (e *Engine) now() time.Time {
	if e.cfg.Clock != nil {
		return e.cfg.Clock()
	}
	return e.last
}

func (e *Engine) emit(r Record) {
	e.recSeq++
	r.RunID = e.cfg.RunID
	r.Seq = e.recSeq
	if r.Time.IsZero() {
		r.Time = e.now()
	}
	for _, o := range e.observers {
		o.Observe(r)
	}
}

func reasonOr(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}
