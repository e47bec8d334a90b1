package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/broker/sim"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/journal"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/strategies"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func runEngine(t *testing.T, obs engine.Observer) *engine.Result {
	t.Helper()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []market.Event
	for i, p := range []string{"100", "101", "102", "103"} {
		events = append(events, market.NewTrade(t0.Add(time.Duration(i)*time.Minute), "X", d(p), d("50")))
	}
	f, err := feed.NewHistorical(context.Background(), feed.NewSliceSource(events...), []string{"X"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	venue := sim.New(market.NewInstruments(market.InstrumentMeta{Symbol: "X", TickSize: d("0.01"), LotSize: d("1"), MinQty: d("1")}))
	strat := &strategies.OpenOnceStrategy{Instrument: "X", Qty: d("10")}

	e, err := engine.New(engine.Config{RunID: "sink-run", InitialCash: d("10000"), SnapshotEvery: 2},
		f, venue, strat, engine.WithObservers(obs))
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestSinkJournalsRun(t *testing.T) {
	t.Parallel()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	sink := journal.NewSink(j, nil)
	res := runEngine(t, sink)
	require.NoError(t, sink.Err())

	ctx := context.Background()
	run, err := j.GetRun(ctx, "sink-run")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.State)
	assert.Equal(t, "open-once", run.Strategy)
	assert.Equal(t, 4, run.Events)
	assert.Equal(t, 1, run.Orders)
	assert.Equal(t, 1, run.Fills)
	assert.True(t, run.InitialCash.Equal(d("10000")), run.InitialCash.String())
	assert.True(t, run.FinalEquity.Equal(res.Final.Equity))
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), run.Started.UTC())

	orders, err := j.ListOrders(ctx, "sink-run")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, broker.StatusFilled, orders[0].Status)
	assert.True(t, orders[0].AvgPrice.Equal(d("101")))

	fills, err := j.ListFills(ctx, "sink-run")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, res.Fills[0].ID, fills[0].ID)

	snaps, err := j.ListSnapshots(ctx, "sink-run")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(snaps), 2)
	assert.True(t, snaps[len(snaps)-1].Equity.Equal(res.Final.Equity))
}

type failing struct{ journal.Journal }

func (failing) StartRun(journal.Run) error                      { return errors.New("disk full") }
func (failing) FinishRun(journal.Run) error                     { return nil }
func (failing) RecordOrder(string, broker.Order) error          { return nil }
func (failing) RecordFill(string, broker.Fill) error            { return errors.New("disk full") }
func (failing) RecordSnapshot(string, portfolio.Snapshot) error { return nil }

func TestSinkKeepsWriteErrors(t *testing.T) {
	t.Parallel()

	sink := journal.NewSink(failing{}, nil)
	res := runEngine(t, sink)

	assert.Equal(t, engine.Completed, res.State, "journal failures never stop a run")
	err := sink.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "started record 1")
	assert.Contains(t, err.Error(), "fill record")
	assert.Equal(t, "completed", sink.Run().State)
}
