// Package wsadapter speaks a JSON-over-websocket exchange protocol and
// implements live.Adapter on top of it.
//
// Outbound messages are "submit", "cancel" and "query"; the exchange
// answers with "exec" and "state" messages and streams "event" messages
// for market data.
package wsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/market"
)

const (
	TypeSubmit = "submit"
	TypeCancel = "cancel"
	TypeQuery  = "query"
	TypeEvent  = "event"
	TypeExec   = "exec"
	TypeState  = "state"

	// ErrNotFound is the error text an exchange uses in a state reply for
	// an order it has never seen.
	ErrNotFound = "not_found"
)

var errClosed = errors.New("wsadapter: closed")

// Message is the single envelope used in both directions.
type Message struct {
	Type    string           `json:"type"`
	Req     uint64           `json:"req,omitempty"`
	OrderID uint64           `json:"order_id,omitempty"`
	Order   *broker.Order    `json:"order,omitempty"`
	Event   *market.Event    `json:"event,omitempty"`
	Exec    *live.Execution  `json:"exec,omitempty"`
	State   *live.OrderState `json:"state,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type Config struct {
	URL          string
	APIKey       string
	WriteTimeout time.Duration
	Buffer       int
}

type reply struct {
	state live.OrderState
	err   error
}

type Adapter struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	md   chan market.Event
	ex   chan live.Execution
	quit chan struct{}
	wg   sync.WaitGroup

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	queries map[uint64]chan reply
	nextReq uint64
	closed  bool
}

var _ live.Adapter = (*Adapter)(nil)

func New(cfg Config, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		dialer:  websocket.DefaultDialer,
		md:      make(chan market.Event, cfg.Buffer),
		ex:      make(chan live.Execution, cfg.Buffer),
		quit:    make(chan struct{}),
		queries: make(map[uint64]chan reply),
	}
}

// Connect dials the exchange, replacing any previous connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errClosed
	}
	old := a.conn
	a.conn = nil
	a.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	header := make(http.Header)
	if a.cfg.APIKey != "" {
		header.Set("X-API-Key", a.cfg.APIKey)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", a.cfg.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return errClosed
	}
	a.conn = conn
	a.wg.Add(1)
	a.mu.Unlock()

	a.log.Info("ws connected", zap.String("url", a.cfg.URL))
	go a.readLoop(conn)
	return nil
}

func (a *Adapter) SubmitOrder(_ context.Context, o broker.Order) error {
	return a.write(Message{Type: TypeSubmit, OrderID: o.ID, Order: &o})
}

func (a *Adapter) CancelOrder(_ context.Context, id uint64) error {
	return a.write(Message{Type: TypeCancel, OrderID: id})
}

func (a *Adapter) QueryOrder(ctx context.Context, id uint64) (live.OrderState, error) {
	a.mu.Lock()
	a.nextReq++
	req := a.nextReq
	ch := make(chan reply, 1)
	a.queries[req] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.queries, req)
		a.mu.Unlock()
	}()

	if err := a.write(Message{Type: TypeQuery, Req: req, OrderID: id}); err != nil {
		return live.OrderState{}, err
	}
	select {
	case r := <-ch:
		return r.state, r.err
	case <-ctx.Done():
		return live.OrderState{}, ctx.Err()
	}
}

func (a *Adapter) MarketData() <-chan market.Event { return a.md }

func (a *Adapter) Executions() <-chan live.Execution { return a.ex }

// Close drops the connection and closes both channels.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	close(a.quit)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	a.wg.Wait()
	close(a.md)
	close(a.ex)
	return err
}

func (a *Adapter) write(m Message) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.New("wsadapter: not connected")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	if err := conn.WriteJSON(m); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer a.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.lost(conn, err)
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			a.log.Warn("bad message", zap.Error(err))
			continue
		}
		a.dispatch(m)
	}
}

func (a *Adapter) dispatch(m Message) {
	switch m.Type {
	case TypeEvent:
		if m.Event != nil {
			select {
			case a.md <- *m.Event:
			case <-a.quit:
			}
		}
	case TypeExec:
		if m.Exec != nil {
			a.emit(*m.Exec)
		}
	case TypeState:
		a.mu.Lock()
		ch, ok := a.queries[m.Req]
		a.mu.Unlock()
		if !ok {
			return
		}
		switch {
		case m.Error == ErrNotFound:
			ch <- reply{err: live.ErrOrderNotFound}
		case m.Error != "":
			ch <- reply{err: fmt.Errorf("query order %d: %s", m.OrderID, m.Error)}
		case m.State == nil:
			ch <- reply{err: fmt.Errorf("query order %d: empty state", m.OrderID)}
		default:
			ch <- reply{state: *m.State}
		}
	default:
		a.log.Debug("ignored message", zap.String("type", m.Type))
	}
}

// lost reports a dropped connection unless it was replaced or closed on
// purpose, and fails queries still waiting on it.
func (a *Adapter) lost(conn *websocket.Conn, err error) {
	a.mu.Lock()
	current := a.conn == conn && !a.closed
	if current {
		a.conn = nil
	}
	for req, ch := range a.queries {
		select {
		case ch <- reply{err: fmt.Errorf("connection lost: %w", err)}:
		default:
		}
		delete(a.queries, req)
	}
	a.mu.Unlock()

	if !current {
		return
	}
	a.log.Warn("ws connection lost", zap.Error(err))
	a.emit(live.Execution{Kind: live.ExecDisconnected, Reason: err.Error()})
}

func (a *Adapter) emit(ex live.Execution) {
	select {
	case a.ex <- ex:
	case <-a.quit:
	}
}
