package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/portfolio"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// SubscribeRequest is the only message clients send. Channels are record
// kinds ("fill", "order", "snapshot", ...) or "*" for all of them. A client
// that never subscribed receives every record; the first subscribe narrows
// the stream to the named channels.
type SubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// LiveState is the hub's running picture of the current run.
type LiveState struct {
	RunID     string              `json:"run_id"`
	Strategy  string              `json:"strategy"`
	State     string              `json:"state"`
	Reason    string              `json:"reason,omitempty"`
	Seq       uint64              `json:"seq"`
	Updated   time.Time           `json:"updated"`
	Events    int                 `json:"events"`
	Fills     int                 `json:"fills"`
	Conflicts int                 `json:"conflicts"`
	Snapshot  *portfolio.Snapshot `json:"snapshot,omitempty"`
	Orders    []broker.Order      `json:"orders"`
}

type message struct {
	kind string
	data []byte
}

// Hub fans engine records out to websocket clients. Observe never blocks
// the engine: when the broadcast buffer is full the record is dropped for
// the stream and counted.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	clients    map[*Client]struct{}
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	dropped atomic.Uint64
	nconns  atomic.Int64

	mu     sync.RWMutex
	live   LiveState
	orders map[uint64]broker.Order
}

var _ engine.Observer = (*Hub)(nil)

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log.Named("ws"),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan message, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		orders:     make(map[uint64]broker.Order),
	}
}

// AllowOrigins sets the browser origins allowed to open the stream, using
// the same patterns as the REST cors handler ("*", "https://*.example.com").
// Requests without an Origin header are not from browsers and always pass.
// With no origins only same-origin pages may connect. Call it before
// serving.
func (h *Hub) AllowOrigins(origins ...string) {
	if len(origins) == 0 {
		h.upgrader.CheckOrigin = nil
		return
	}
	c := cors.New(cors.Options{AllowedOrigins: origins})
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.nconns.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.nconns.Store(int64(len(h.clients)))
			h.log.Debug("client connected", zap.String("client", c.id), zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.nconns.Store(int64(len(h.clients)))
				h.log.Debug("client disconnected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
			}

		case m := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(m.kind) {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					// Slow client.
					close(c.send)
					delete(h.clients, c)
					h.nconns.Store(int64(len(h.clients)))
					h.log.Warn("dropping slow client", zap.String("client", c.id))
				}
			}
		}
	}
}

// Observe updates the live state and queues the record for clients.
func (h *Hub) Observe(r engine.Record) {
	h.track(r)

	data, err := json.Marshal(r)
	if err != nil {
		h.log.Error("marshal record", zap.Uint64("seq", r.Seq), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message{kind: r.Kind.String(), data: data}:
	default:
		h.dropped.Add(1)
	}
}

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int { return int(h.nconns.Load()) }

// Dropped is the number of records the stream skipped.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) track(r engine.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r.Kind == engine.RecordStarted || r.RunID != h.live.RunID {
		h.live = LiveState{RunID: r.RunID, State: engine.Running.String()}
		h.orders = make(map[uint64]broker.Order)
	}
	h.live.Seq = r.Seq
	h.live.Updated = r.Time

	switch r.Kind {
	case engine.RecordStarted:
		h.live.Strategy = r.Strategy
	case engine.RecordEvent:
		h.live.Events++
	case engine.RecordOrder:
		if r.Order != nil {
			h.orders[r.Order.ID] = *r.Order
		}
	case engine.RecordFill:
		h.live.Fills++
	case engine.RecordConflict:
		h.live.Conflicts++
	case engine.RecordSnapshot:
		h.live.Snapshot = r.Snapshot
	case engine.RecordCompleted:
		h.live.State = engine.Completed.String()
		h.live.Snapshot = r.Snapshot
	case engine.RecordHalted:
		h.live.State = engine.Halted.String()
		h.live.Reason = r.Reason
		h.live.Snapshot = r.Snapshot
	}
}

// Live returns a copy of the current run's state.
func (h *Hub) Live() LiveState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.live
	out.Orders = make([]broker.Order, 0, len(h.orders))
	for _, o := range h.orders {
		out.Orders = append(out.Orders, o)
	}
	sort.Slice(out.Orders, func(i, j int) bool { return out.Orders[i].ID < out.Orders[j].ID })
	return out
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu   sync.RWMutex
	all      bool
	explicit bool
	subs     map[string]struct{}
}

func (c *Client) wants(kind string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.subs[kind]
	return ok
}

func (c *Client) subscribe(channels []string, on bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	// The first subscribe replaces the implicit everything.
	if on && !c.explicit {
		c.all = false
	}
	c.explicit = true
	for _, ch := range channels {
		switch {
		case on && ch == "*":
			c.all = true
		case on:
			c.subs[ch] = struct{}{}
		case ch == "*":
			c.all = false
			c.subs = make(map[string]struct{})
		default:
			if c.all {
				c.all = false
				c.subs = recordKinds()
			}
			delete(c.subs, ch)
		}
	}
}

func recordKinds() map[string]struct{} {
	out := make(map[string]struct{})
	for k := engine.RecordEvent; k <= engine.RecordStarted; k++ {
		out[k.String()] = struct{}{}
	}
	return out
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req SubscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.log.Debug("invalid message", zap.String("client", c.id), zap.Error(err))
			continue
		}
		switch req.Op {
		case "subscribe":
			c.subscribe(req.Channels, true)
		case "unsubscribe":
			c.subscribe(req.Channels, false)
		default:
			c.hub.log.Debug("unknown op", zap.String("client", c.id), zap.String("op", req.Op))
		}
	}
}

// writePump sends one record per text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   conn.RemoteAddr().String(),
		subs: make(map[string]struct{}),
	}
	if chans := r.URL.Query()["channel"]; len(chans) > 0 {
		c.subscribe(chans, true)
	} else {
		c.all = true
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
