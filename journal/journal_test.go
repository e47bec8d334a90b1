package journal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleRun() Run {
	return Run{
		RunID:       "run-1",
		Strategy:    "open-once",
		State:       "completed",
		Started:     t0,
		Finished:    t0.Add(time.Hour),
		InitialCash: d("10000"),
		FinalEquity: d("10250.5"),
		NetPnL:      d("250.5"),
		Events:      42,
		Orders:      2,
		Fills:       1,
	}
}

func sampleOrder(id uint64, status broker.Status) broker.Order {
	return broker.Order{
		ID:         id,
		Instrument: "BTC_USD",
		Side:       broker.Buy,
		Type:       broker.Limit,
		Qty:        d("1.5"),
		LimitPrice: d("100.25"),
		Status:     status,
		Filled:     d("0"),
		Created:    t0,
		Updated:    t0.Add(time.Second),
		Tag:        "entry",
	}
}

func sampleFill(id string, order uint64) broker.Fill {
	return broker.Fill{
		ID:         id,
		OrderID:    order,
		Instrument: "BTC_USD",
		Side:       broker.Buy,
		Qty:        d("1.5"),
		Price:      d("100.25"),
		Fee:        d("0.015"),
		Time:       t0.Add(2 * time.Second),
	}
}

func sampleSnapshot(at time.Duration, equity string) portfolio.Snapshot {
	return portfolio.Snapshot{
		Time:       t0.Add(at),
		Cash:       d("9849.61"),
		Equity:     d(equity),
		Realized:   d("0"),
		Unrealized: d("1.2"),
		Fees:       d("0.015"),
		NetPnL:     d(equity).Sub(d("10000")),
	}
}
