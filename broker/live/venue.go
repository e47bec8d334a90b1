// Package live forwards orders to an exchange Adapter and turns its
// asynchronous acknowledgements and fills into venue reports, reconciling
// outstanding orders after a connection loss.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/internal/queue"
	"github.com/rustyeddy/tradecore/market"
)

type Config struct {
	// AckTimeout bounds how long Submit waits for the exchange.
	AckTimeout time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	// MaxReconnects is the number of reconnect attempts after a
	// disconnect before the venue gives up.
	MaxReconnects int     `yaml:"max_reconnects" json:"max_reconnects"`
	Backoff       Backoff `yaml:"backoff" json:"backoff"`
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:    5 * time.Second,
		MaxReconnects: 5,
		Backoff:       DefaultBackoff(),
	}
}

type ackResult struct {
	ack broker.Ack
	err error
}

type tracked struct {
	order   broker.Order
	filled  decimal.Decimal
	unknown bool
}

type Venue struct {
	adapter Adapter
	cfg     Config
	log     *zap.Logger
	reports *queue.Queue[broker.Report]
	now     func() time.Time

	mu        sync.Mutex
	orders    map[uint64]*tracked
	waiting   map[uint64]chan ackResult
	seenFills map[string]struct{}
	connected bool
	down      bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ broker.Venue    = (*Venue)(nil)
	_ broker.Notifier = (*Venue)(nil)
)

// Dial connects the adapter and starts consuming its executions. The venue
// keeps running after ctx is done; stop it with Close.
func Dial(ctx context.Context, a Adapter, cfg Config, log *zap.Logger) (*Venue, error) {
	if a == nil {
		return nil, errors.New("live: Adapter is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	if err := a.Connect(ctx); err != nil {
		return nil, fmt.Errorf("live: connect: %w: %v", broker.ErrVenueUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &Venue{
		adapter:   a,
		cfg:       cfg,
		log:       log,
		reports:   queue.New[broker.Report](),
		now:       func() time.Time { return time.Now().UTC() },
		orders:    make(map[uint64]*tracked),
		waiting:   make(map[uint64]chan ackResult),
		seenFills: make(map[string]struct{}),
		connected: true,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go v.run(runCtx)
	return v, nil
}

// MarketData exposes the adapter's event stream for a live feed.
func (v *Venue) MarketData() <-chan market.Event { return v.adapter.MarketData() }

func (v *Venue) Ready() <-chan struct{} { return v.reports.Ready() }

func (v *Venue) Pending() []broker.Report { return v.reports.Drain() }

// Submit sends o and waits up to AckTimeout for the exchange to accept or
// reject it. When no answer arrives the order is left Unknown and
// ErrAckTimeout is returned; a later ack, fill or reconciliation resolves
// it through reports.
func (v *Venue) Submit(ctx context.Context, o broker.Order) (broker.Ack, error) {
	v.mu.Lock()
	if v.down || !v.connected {
		v.mu.Unlock()
		return broker.Ack{}, fmt.Errorf("submit order %d: %w", o.ID, broker.ErrVenueUnavailable)
	}
	if _, dup := v.orders[o.ID]; dup {
		v.mu.Unlock()
		return broker.Ack{}, broker.Reject(o.ID, "duplicate order id")
	}
	ch := make(chan ackResult, 1)
	v.orders[o.ID] = &tracked{order: o}
	v.waiting[o.ID] = ch
	v.mu.Unlock()

	if err := v.adapter.SubmitOrder(ctx, o); err != nil {
		v.mu.Lock()
		delete(v.orders, o.ID)
		delete(v.waiting, o.ID)
		v.mu.Unlock()
		if broker.IsReject(err) {
			return broker.Ack{}, err
		}
		return broker.Ack{}, fmt.Errorf("submit order %d: %w: %v", o.ID, broker.ErrVenueUnavailable, err)
	}

	timer := time.NewTimer(v.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.ack, res.err
	case <-timer.C:
	case <-ctx.Done():
	}

	v.mu.Lock()
	delete(v.waiting, o.ID)
	select {
	case res := <-ch:
		v.mu.Unlock()
		return res.ack, res.err
	default:
	}
	reconcile := false
	if t, ok := v.orders[o.ID]; ok {
		t.unknown = true
		reconcile = v.connected
	}
	v.mu.Unlock()

	v.log.Warn("no acknowledgement", zap.Uint64("order", o.ID), zap.Duration("timeout", v.cfg.AckTimeout))
	if reconcile {
		go func() {
			if err := v.reconcileOne(v.ctx, o.ID); err != nil {
				v.log.Warn("reconcile after ack timeout", zap.Uint64("order", o.ID), zap.Error(err))
			}
		}()
	}
	return broker.Ack{}, fmt.Errorf("order %d: %w", o.ID, broker.ErrAckTimeout)
}

func (v *Venue) Cancel(ctx context.Context, id uint64) error {
	v.mu.Lock()
	_, ok := v.orders[id]
	up := v.connected && !v.down
	v.mu.Unlock()

	if !ok {
		return fmt.Errorf("cancel order %d: %w", id, broker.ErrAlreadyTerminal)
	}
	if !up {
		return fmt.Errorf("cancel order %d: %w", id, broker.ErrVenueUnavailable)
	}
	if err := v.adapter.CancelOrder(ctx, id); err != nil {
		if broker.IsReject(err) {
			return err
		}
		return fmt.Errorf("cancel order %d: %w: %v", id, broker.ErrVenueUnavailable, err)
	}
	return nil
}

// Close stops the venue and closes the adapter.
func (v *Venue) Close() error {
	v.cancel()
	<-v.done
	v.reports.Close()
	return v.adapter.Close()
}

func (v *Venue) run(ctx context.Context) {
	defer close(v.done)
	execs := v.adapter.Executions()
	for {
		select {
		case <-ctx.Done():
			return
		case ex, ok := <-execs:
			if !ok {
				if ctx.Err() == nil {
					v.markDown(errors.New("execution stream closed"))
				}
				return
			}
			if ex.Kind == ExecDisconnected {
				if !v.recover(ctx, ex.Reason) {
					return
				}
				continue
			}
			v.handle(ex)
		}
	}
}

func (v *Venue) handle(ex Execution) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := ex.OrderID
	switch ex.Kind {
	case ExecAck:
		if v.deliverAckLocked(id, ex.VenueOrderID) {
			return
		}
		if t, ok := v.orders[id]; ok && t.unknown {
			t.unknown = false
			v.push(broker.StatusReport(id, statusFor(t), "late ack"))
		}

	case ExecFill:
		f := ex.Fill
		if f.OrderID == 0 {
			f.OrderID = id
		}
		v.applyFillLocked(f)

	case ExecCancelled:
		if _, ok := v.orders[id]; !ok {
			v.log.Warn("cancel for unknown order", zap.Uint64("order", id))
			return
		}
		v.deliverAckLocked(id, ex.VenueOrderID)
		delete(v.orders, id)
		v.push(broker.StatusReport(id, broker.StatusCancelled, reasonOr(ex.Reason, "cancelled")))

	case ExecRejected:
		if ch, ok := v.waiting[id]; ok {
			delete(v.waiting, id)
			delete(v.orders, id)
			ch <- ackResult{err: broker.Reject(id, "%s", reasonOr(ex.Reason, "rejected by exchange"))}
			return
		}
		if _, ok := v.orders[id]; ok {
			delete(v.orders, id)
			v.push(broker.StatusReport(id, broker.StatusRejected, reasonOr(ex.Reason, "rejected by exchange")))
		}
	}
}

// deliverAckLocked completes a pending Submit for id.
func (v *Venue) deliverAckLocked(id uint64, venueID string) bool {
	ch, ok := v.waiting[id]
	if !ok {
		return false
	}
	delete(v.waiting, id)
	ch <- ackResult{ack: broker.Ack{OrderID: id, VenueOrderID: venueID, Time: v.now()}}
	return true
}

// applyFillLocked forwards a fill once per fill id. Fills for orders the
// venue is not tracking become conflicts.
func (v *Venue) applyFillLocked(f broker.Fill) {
	if _, seen := v.seenFills[f.ID]; seen {
		return
	}
	t, ok := v.orders[f.OrderID]
	if !ok {
		v.log.Warn("fill for unknown order", zap.Uint64("order", f.OrderID), zap.String("fill", f.ID))
		v.push(broker.Report{Kind: broker.ReportConflict, OrderID: f.OrderID, Fill: f, Reason: "fill for unknown order"})
		return
	}
	v.seenFills[f.ID] = struct{}{}
	v.deliverAckLocked(f.OrderID, "")

	t.filled = t.filled.Add(f.Qty)
	t.unknown = false
	v.push(broker.FillReport(f))
	if t.filled.GreaterThanOrEqual(t.order.Qty) {
		delete(v.orders, f.OrderID)
	}
}

// recover handles a disconnect: every outstanding order goes Unknown, the
// adapter is reconnected with backoff and each order is reconciled. It
// returns false when the venue is down for good.
func (v *Venue) recover(ctx context.Context, reason string) bool {
	v.mu.Lock()
	v.connected = false
	for id, ch := range v.waiting {
		delete(v.waiting, id)
		ch <- ackResult{err: fmt.Errorf("order %d: %w: connection lost", id, broker.ErrAckTimeout)}
	}
	for _, id := range v.outstandingLocked() {
		v.orders[id].unknown = true
		v.push(broker.StatusReport(id, broker.StatusUnknown, "connection lost"))
	}
	v.mu.Unlock()

	v.log.Warn("venue disconnected", zap.String("reason", reason))

	for attempt := 1; attempt <= v.cfg.MaxReconnects; attempt++ {
		if err := sleep(ctx, v.cfg.Backoff.Next(attempt)); err != nil {
			return false
		}
		if err := v.adapter.Connect(ctx); err != nil {
			v.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		v.mu.Lock()
		v.connected = true
		v.mu.Unlock()

		if err := v.reconcileAll(ctx); err != nil {
			v.log.Warn("reconcile failed", zap.Int("attempt", attempt), zap.Error(err))
			v.mu.Lock()
			v.connected = false
			v.mu.Unlock()
			continue
		}
		v.log.Info("venue reconnected", zap.Int("attempt", attempt))
		return true
	}

	v.markDown(fmt.Errorf("gave up after %d reconnect attempts: %s", v.cfg.MaxReconnects, reason))
	return false
}

func (v *Venue) markDown(err error) {
	v.mu.Lock()
	v.down = true
	v.connected = false
	for id, ch := range v.waiting {
		delete(v.waiting, id)
		ch <- ackResult{err: fmt.Errorf("order %d: %w", id, broker.ErrVenueUnavailable)}
	}
	v.mu.Unlock()

	v.log.Error("venue down", zap.Error(err))
	v.push(broker.Report{Kind: broker.ReportVenueDown, Err: fmt.Errorf("%w: %v", broker.ErrVenueUnavailable, err)})
}

func (v *Venue) reconcileAll(ctx context.Context) error {
	v.mu.Lock()
	var ids []uint64
	for _, id := range v.outstandingLocked() {
		if v.orders[id].unknown {
			ids = append(ids, id)
		}
	}
	v.mu.Unlock()

	for _, id := range ids {
		if err := v.reconcileOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// reconcileOne asks the exchange for the state of one order, replays any
// fills not yet forwarded and settles its status.
func (v *Venue) reconcileOne(ctx context.Context, id uint64) error {
	qctx, cancel := context.WithTimeout(ctx, v.cfg.AckTimeout)
	st, err := v.adapter.QueryOrder(qctx, id)
	cancel()

	v.mu.Lock()
	defer v.mu.Unlock()

	t, ok := v.orders[id]
	if !ok || !t.unknown {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) {
		delete(v.orders, id)
		v.push(broker.StatusReport(id, broker.StatusCancelled, "not found at exchange"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("query order %d: %w", id, err)
	}

	for _, f := range st.Fills {
		if f.OrderID == 0 {
			f.OrderID = id
		}
		v.applyFillLocked(f)
	}

	switch st.Status {
	case broker.StatusFilled, broker.StatusCancelled, broker.StatusRejected:
		delete(v.orders, id)
		v.push(broker.StatusReport(id, st.Status, "reconciled"))
	default:
		t.unknown = false
		v.push(broker.StatusReport(id, statusFor(t), "reconciled"))
	}
	return nil
}

// outstandingLocked returns tracked order ids in ascending order.
func (v *Venue) outstandingLocked() []uint64 {
	ids := make([]uint64, 0, len(v.orders))
	for id := range v.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (v *Venue) push(r broker.Report) {
	if err := v.reports.Push(r); err != nil {
		v.log.Debug("report dropped after close", zap.Stringer("kind", r.Kind), zap.Uint64("order", r.OrderID))
	}
}

// statusFor is the working status implied by what has filled so far.
func statusFor(t *tracked) broker.Status {
	if t.filled.IsPositive() {
		return broker.StatusPartiallyFilled
	}
	return broker.StatusSubmitted
}

func reasonOr(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
