package wsadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/market"
)

// exchange is a minimal server side of the protocol.
type exchange struct {
	t     *testing.T
	mu    sync.Mutex
	conns []*websocket.Conn
	keys  []string
}

func (x *exchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	x.mu.Lock()
	x.conns = append(x.conns, conn)
	x.keys = append(x.keys, r.Header.Get("X-API-Key"))
	x.mu.Unlock()

	ev := market.NewTrade(time.Unix(1, 0).UTC(), "BTC_USD", decimal.NewFromInt(100), decimal.NewFromInt(1))
	_ = conn.WriteJSON(Message{Type: TypeEvent, Event: &ev})

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		switch m.Type {
		case TypeSubmit:
			_ = conn.WriteJSON(Message{Type: TypeExec, Exec: &live.Execution{
				Kind: live.ExecAck, OrderID: m.OrderID, VenueOrderID: "V1",
			}})
		case TypeCancel:
			_ = conn.WriteJSON(Message{Type: TypeExec, Exec: &live.Execution{
				Kind: live.ExecCancelled, OrderID: m.OrderID,
			}})
		case TypeQuery:
			if m.OrderID != 1 {
				_ = conn.WriteJSON(Message{Type: TypeState, Req: m.Req, OrderID: m.OrderID, Error: ErrNotFound})
				continue
			}
			_ = conn.WriteJSON(Message{Type: TypeState, Req: m.Req, OrderID: 1, State: &live.OrderState{
				OrderID: 1,
				Status:  broker.StatusFilled,
				Fills: []broker.Fill{{
					ID: "X-1", OrderID: 1, Instrument: "BTC_USD", Side: broker.Buy,
					Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
				}},
			}})
		}
	}
}

func (x *exchange) drop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, c := range x.conns {
		_ = c.Close()
	}
}

func start(t *testing.T) (*exchange, *Adapter) {
	t.Helper()
	x := &exchange{t: t}
	srv := httptest.NewServer(x)
	t.Cleanup(srv.Close)

	a := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), APIKey: "secret"}, nil)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Connect(context.Background()))
	return x, a
}

func nextExec(t *testing.T, a *Adapter) live.Execution {
	t.Helper()
	select {
	case ex := <-a.Executions():
		return ex
	case <-time.After(2 * time.Second):
		t.Fatal("no execution")
	}
	return live.Execution{}
}

func TestMarketDataAndAck(t *testing.T) {
	t.Parallel()

	x, a := start(t)

	select {
	case ev := <-a.MarketData():
		assert.Equal(t, "BTC_USD", ev.Instrument)
		assert.Equal(t, market.KindTrade, ev.Kind)
		assert.True(t, ev.Trade.Price.Equal(decimal.NewFromInt(100)))
	case <-time.After(2 * time.Second):
		t.Fatal("no market data")
	}

	o := broker.Order{ID: 7, Instrument: "BTC_USD", Side: broker.Buy, Type: broker.Market, Qty: decimal.NewFromInt(1)}
	require.NoError(t, a.SubmitOrder(context.Background(), o))
	ex := nextExec(t, a)
	assert.Equal(t, live.ExecAck, ex.Kind)
	assert.Equal(t, uint64(7), ex.OrderID)
	assert.Equal(t, "V1", ex.VenueOrderID)

	require.NoError(t, a.CancelOrder(context.Background(), 7))
	assert.Equal(t, live.ExecCancelled, nextExec(t, a).Kind)

	x.mu.Lock()
	assert.Equal(t, []string{"secret"}, x.keys)
	x.mu.Unlock()
}

func TestQueryOrder(t *testing.T) {
	t.Parallel()

	_, a := start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st, err := a.QueryOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, st.Status)
	require.Len(t, st.Fills, 1)
	assert.Equal(t, "X-1", st.Fills[0].ID)

	_, err = a.QueryOrder(ctx, 2)
	assert.ErrorIs(t, err, live.ErrOrderNotFound)
}

func TestDroppedConnectionIsSignalled(t *testing.T) {
	t.Parallel()

	x, a := start(t)
	x.drop()

	ex := nextExec(t, a)
	assert.Equal(t, live.ExecDisconnected, ex.Kind)

	err := a.SubmitOrder(context.Background(), broker.Order{ID: 1})
	assert.Error(t, err)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.SubmitOrder(context.Background(), broker.Order{ID: 2, Qty: decimal.NewFromInt(1)}))
	assert.Equal(t, live.ExecAck, nextExec(t, a).Kind)
}

func TestCloseClosesChannels(t *testing.T) {
	t.Parallel()

	_, a := start(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	for range a.MarketData() {
	}
	_, ok := <-a.Executions()
	assert.False(t, ok)
	assert.Error(t, a.Connect(context.Background()))
}
