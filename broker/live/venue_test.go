package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/broker/live/livetest"
)

func testConfig() live.Config {
	return live.Config{
		AckTimeout:    50 * time.Millisecond,
		MaxReconnects: 3,
		Backoff:       live.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
}

func dial(t *testing.T, fake *livetest.Fake, cfg live.Config) *live.Venue {
	t.Helper()
	v, err := live.Dial(context.Background(), fake, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func order(id uint64, qty int64) broker.Order {
	return broker.Order{
		ID:         id,
		Instrument: "BTC_USD",
		Side:       broker.Buy,
		Type:       broker.Market,
		Qty:        decimal.NewFromInt(qty),
	}
}

// collect drains reports until done is satisfied or a deadline passes.
func collect(t *testing.T, v *live.Venue, done func([]broker.Report) bool) []broker.Report {
	t.Helper()
	var got []broker.Report
	deadline := time.After(2 * time.Second)
	for !done(got) {
		select {
		case <-v.Ready():
			got = append(got, v.Pending()...)
		case <-deadline:
			t.Fatalf("timed out with %d reports: %+v", len(got), got)
		}
	}
	return got
}

func hasStatus(id uint64, s broker.Status) func([]broker.Report) bool {
	return func(rs []broker.Report) bool {
		for _, r := range rs {
			if r.Kind == broker.ReportStatus && r.OrderID == id && r.Status == s {
				return true
			}
		}
		return false
	}
}

func TestDialFailure(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	fake.FailConnects(1)
	_, err := live.Dial(context.Background(), fake, testConfig(), nil)
	assert.ErrorIs(t, err, broker.ErrVenueUnavailable)

	_, err = live.Dial(context.Background(), nil, testConfig(), nil)
	assert.Error(t, err)
}

func TestSubmitAcknowledged(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	v := dial(t, fake, testConfig())

	ack, err := v.Submit(context.Background(), order(1, 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.OrderID)
	assert.Equal(t, "EX-1", ack.VenueOrderID)
	assert.Equal(t, []uint64{1}, fake.Submitted())

	_, err = v.Submit(context.Background(), order(1, 5))
	assert.True(t, broker.IsReject(err), "duplicate id must be rejected")
}

func TestSubmitRejectedByExchange(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	fake.Reject = "insufficient margin"
	v := dial(t, fake, testConfig())

	_, err := v.Submit(context.Background(), order(1, 5))
	require.Error(t, err)
	assert.True(t, broker.IsReject(err))
	assert.Contains(t, err.Error(), "insufficient margin")

	// The refused order is not tracked.
	assert.ErrorIs(t, v.Cancel(context.Background(), 1), broker.ErrAlreadyTerminal)
}

func TestAckTimeoutLeavesOrderUnknownThenReconciles(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	fake.AutoAck = false
	v := dial(t, fake, testConfig())

	_, err := v.Submit(context.Background(), order(1, 5))
	require.ErrorIs(t, err, broker.ErrAckTimeout)

	got := collect(t, v, hasStatus(1, broker.StatusSubmitted))
	last := got[len(got)-1]
	assert.Equal(t, "reconciled", last.Reason)

	// A late ack for a reconciled order changes nothing.
	fake.Send(live.Execution{Kind: live.ExecAck, OrderID: 1})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, v.Pending())
}

func TestAckTimeoutOrderMissingAtExchange(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	fake.Drop = true
	v := dial(t, fake, testConfig())

	_, err := v.Submit(context.Background(), order(4, 1))
	require.ErrorIs(t, err, broker.ErrAckTimeout)

	got := collect(t, v, hasStatus(4, broker.StatusCancelled))
	assert.Equal(t, "not found at exchange", got[len(got)-1].Reason)
}

func TestFillsAreDedupedAndUnknownOrdersConflict(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	v := dial(t, fake, testConfig())
	_, err := v.Submit(context.Background(), order(1, 10))
	require.NoError(t, err)

	f := fake.Fill(1, "X-1", decimal.NewFromInt(4), decimal.NewFromInt(100), true)
	fake.Send(live.Execution{Kind: live.ExecFill, OrderID: 1, Fill: f})
	fake.Send(live.Execution{Kind: live.ExecFill, OrderID: 99, Fill: broker.Fill{
		ID: "X-99", OrderID: 99, Instrument: "BTC_USD", Side: broker.Sell,
		Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
	}})

	got := collect(t, v, func(rs []broker.Report) bool {
		for _, r := range rs {
			if r.Kind == broker.ReportConflict {
				return true
			}
		}
		return false
	})
	require.Len(t, got, 2)
	assert.Equal(t, broker.ReportFill, got[0].Kind)
	assert.Equal(t, "X-1", got[0].Fill.ID)
	assert.Equal(t, broker.ReportConflict, got[1].Kind)
	assert.Equal(t, uint64(99), got[1].OrderID)
}

func TestCancelConfirmed(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	v := dial(t, fake, testConfig())
	_, err := v.Submit(context.Background(), order(2, 3))
	require.NoError(t, err)

	require.NoError(t, v.Cancel(context.Background(), 2))
	collect(t, v, hasStatus(2, broker.StatusCancelled))

	assert.ErrorIs(t, v.Cancel(context.Background(), 2), broker.ErrAlreadyTerminal)
}

func TestDisconnectReconcilesOutstandingOrders(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	v := dial(t, fake, testConfig())
	ctx := context.Background()

	_, err := v.Submit(ctx, order(1, 10))
	require.NoError(t, err)
	_, err = v.Submit(ctx, order(2, 10))
	require.NoError(t, err)
	_, err = v.Submit(ctx, order(3, 10))
	require.NoError(t, err)

	// While the connection is down order 1 fills in full, order 2 is
	// cancelled by the exchange and order 3 fills in part.
	fill1 := fake.Fill(1, "X-1", decimal.NewFromInt(10), decimal.NewFromInt(101), false)
	fake.SetStatus(2, broker.StatusCancelled)
	fake.Fill(3, "X-3", decimal.NewFromInt(4), decimal.NewFromInt(99), false)
	fake.FailConnects(1)
	fake.Disconnect("read: connection reset")

	got := collect(t, v, func(rs []broker.Report) bool {
		return hasStatus(1, broker.StatusFilled)(rs) &&
			hasStatus(2, broker.StatusCancelled)(rs) &&
			hasStatus(3, broker.StatusPartiallyFilled)(rs)
	})

	var unknown []uint64
	var fills []string
	for _, r := range got {
		switch r.Kind {
		case broker.ReportStatus:
			if r.Status == broker.StatusUnknown {
				unknown = append(unknown, r.OrderID)
			}
		case broker.ReportFill:
			fills = append(fills, r.Fill.ID)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, unknown)
	assert.Equal(t, []string{"X-1", "X-3"}, fills)
	assert.Equal(t, 3, fake.Connects(), "dial, one failed attempt, then success")

	// A redelivered fill from before the disconnect is dropped.
	fake.Send(live.Execution{Kind: live.ExecFill, OrderID: 1, Fill: fill1})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, v.Pending())

	// The venue is usable again.
	_, err = v.Submit(ctx, order(4, 1))
	require.NoError(t, err)
}

func TestVenueDownAfterReconnectsExhausted(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	cfg := testConfig()
	cfg.MaxReconnects = 2
	v := dial(t, fake, cfg)

	_, err := v.Submit(context.Background(), order(1, 1))
	require.NoError(t, err)

	fake.FailConnects(100)
	fake.Disconnect("eof")

	got := collect(t, v, func(rs []broker.Report) bool {
		return len(rs) > 0 && rs[len(rs)-1].Kind == broker.ReportVenueDown
	})
	down := got[len(got)-1]
	assert.ErrorIs(t, down.Err, broker.ErrVenueUnavailable)
	assert.True(t, hasStatus(1, broker.StatusUnknown)(got))

	_, err = v.Submit(context.Background(), order(2, 1))
	assert.ErrorIs(t, err, broker.ErrVenueUnavailable)
	assert.ErrorIs(t, v.Cancel(context.Background(), 1), broker.ErrVenueUnavailable)
}

func TestVenueDownWhenReconcileKeepsFailing(t *testing.T) {
	t.Parallel()

	fake := livetest.New()
	cfg := testConfig()
	cfg.MaxReconnects = 1
	v := dial(t, fake, cfg)

	_, err := v.Submit(context.Background(), order(1, 1))
	require.NoError(t, err)

	fake.FailQueries(errors.New("503 service unavailable"))
	fake.Disconnect("eof")

	got := collect(t, v, func(rs []broker.Report) bool {
		return len(rs) > 0 && rs[len(rs)-1].Kind == broker.ReportVenueDown
	})
	assert.True(t, hasStatus(1, broker.StatusUnknown)(got))
}

func TestBackoffNext(t *testing.T) {
	t.Parallel()

	b := live.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
		{10, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Next(tt.attempt), "attempt %d", tt.attempt)
	}

	j := live.Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := j.Next(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestExecKindText(t *testing.T) {
	t.Parallel()

	for _, k := range []live.ExecKind{live.ExecAck, live.ExecFill, live.ExecCancelled, live.ExecRejected, live.ExecDisconnected} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back live.ExecKind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	var bad live.ExecKind
	assert.Error(t, bad.UnmarshalText([]byte("bogus")))
}
