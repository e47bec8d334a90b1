package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradecore/broker"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(id string, side broker.Side, qty, px string) broker.Fill {
	return broker.Fill{
		ID:         id,
		OrderID:    1,
		Instrument: "BTC_USD",
		Side:       side,
		Qty:        d(qty),
		Price:      d(px),
		Time:       time.Unix(0, 0).UTC(),
	}
}

func TestApplyOpenAndAverage(t *testing.T) {
	t.Parallel()

	p := New(d("10000"))
	ok, err := p.Apply(fill("f1", broker.Buy, "10", "100"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Apply(fill("f2", broker.Buy, "10", "110"))
	require.NoError(t, err)
	assert.True(t, ok)

	pos := p.Position("BTC_USD")
	assert.True(t, pos.Qty.Equal(d("20")))
	assert.True(t, pos.AvgPrice.Equal(d("105")), pos.AvgPrice.String())
	assert.True(t, p.Cash().Equal(d("7900")), p.Cash().String())
	assert.True(t, p.Realized().IsZero())
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	p := New(d("1000"))
	f := fill("dup", broker.Buy, "1", "100")

	ok, err := p.Apply(f)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Apply(f)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, p.Position("BTC_USD").Qty.Equal(d("1")))
	assert.True(t, p.Cash().Equal(d("900")))
	assert.True(t, p.Applied("dup"))
}

func TestApplyRealizesAndFlips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fills    []broker.Fill
		qty      string
		avg      string
		realized string
	}{
		{
			name:     "partial reduce long",
			fills:    []broker.Fill{fill("a", broker.Buy, "10", "100"), fill("b", broker.Sell, "4", "110")},
			qty:      "6",
			avg:      "100",
			realized: "40",
		},
		{
			name:     "close short at loss",
			fills:    []broker.Fill{fill("a", broker.Sell, "5", "100"), fill("b", broker.Buy, "5", "104")},
			qty:      "0",
			avg:      "0",
			realized: "-20",
		},
		{
			name:     "flip long to short",
			fills:    []broker.Fill{fill("a", broker.Buy, "10", "100"), fill("b", broker.Sell, "15", "90")},
			qty:      "-5",
			avg:      "90",
			realized: "-100",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := New(d("100000"))
			for _, f := range tt.fills {
				_, err := p.Apply(f)
				require.NoError(t, err)
			}
			pos := p.Position("BTC_USD")
			assert.True(t, pos.Qty.Equal(d(tt.qty)), "qty %s", pos.Qty)
			assert.True(t, pos.AvgPrice.Equal(d(tt.avg)), "avg %s", pos.AvgPrice)
			assert.True(t, p.Realized().Equal(d(tt.realized)), "realized %s", p.Realized())
		})
	}
}

func TestApplyRejectsInvalidFill(t *testing.T) {
	t.Parallel()

	p := New(d("100"))
	tests := []broker.Fill{
		fill("", broker.Buy, "1", "1"),
		fill("x", broker.Buy, "0", "1"),
		fill("y", broker.Buy, "1", "-1"),
		{ID: "z", Qty: d("1"), Price: d("1")},
	}
	for _, f := range tests {
		_, err := p.Apply(f)
		assert.ErrorIs(t, err, ErrInvalidFill)
	}
	assert.Empty(t, p.Positions())
}

func TestFeesReduceCashAndEquity(t *testing.T) {
	t.Parallel()

	p := New(d("1000"))
	f := fill("f", broker.Buy, "1", "100")
	f.Fee = d("0.5")
	_, err := p.Apply(f)
	require.NoError(t, err)

	assert.True(t, p.Cash().Equal(d("899.5")))
	assert.True(t, p.Fees().Equal(d("0.5")))
	assert.True(t, p.Equity().Equal(d("999.5")))
}

func TestMarkMovesEquityNotCash(t *testing.T) {
	t.Parallel()

	p := New(d("1000"))
	_, err := p.Apply(fill("f", broker.Buy, "2", "100"))
	require.NoError(t, err)

	p.Mark("BTC_USD", d("120"))
	assert.True(t, p.Cash().Equal(d("800")))
	assert.True(t, p.Equity().Equal(d("1040")))
	assert.True(t, p.Unrealized().Equal(d("40")))

	// Non-positive marks are ignored.
	p.Mark("BTC_USD", d("0"))
	m, ok := p.MarkPrice("BTC_USD")
	require.True(t, ok)
	assert.True(t, m.Equal(d("120")))

	snap := p.Snapshot(time.Unix(10, 0).UTC())
	assert.True(t, snap.NetPnL.Equal(d("40")))
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "BTC_USD", snap.Positions[0].Instrument)
}

func TestPositionsSorted(t *testing.T) {
	t.Parallel()

	p := New(d("100000"))
	for i, sym := range []string{"ZZZ", "AAA", "MMM"} {
		f := fill(string(rune('a'+i)), broker.Buy, "1", "10")
		f.Instrument = sym
		_, err := p.Apply(f)
		require.NoError(t, err)
	}
	var syms []string
	for _, pos := range p.Positions() {
		syms = append(syms, pos.Instrument)
	}
	assert.Equal(t, []string{"AAA", "MMM", "ZZZ"}, syms)
}
