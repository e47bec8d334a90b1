package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEventBefore(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Event{Time: t0, Seq: 1}
	b := Event{Time: t0, Seq: 2}
	c := Event{Time: t0.Add(time.Second), Seq: 0}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
	assert.False(t, a.Before(a))
}

func TestEventPrice(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ev    Event
		want  string
		valid bool
	}{
		{"trade", NewTrade(t0, "X", d("101.5"), d("3")), "101.5", true},
		{"quote mid", NewQuote(t0, "X", d("99"), d("101")), "100", true},
		{"one sided quote", NewQuote(t0, "X", d("0"), d("101")), "0", false},
		{"delta", Event{Kind: KindBookDelta, Delta: BookDelta{Side: Bid, Price: d("98"), Size: d("1")}}, "98", true},
		{"empty", Event{}, "0", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.ev.Price()
			assert.Equal(t, tt.valid, ok)
			assert.True(t, got.Equal(d(tt.want)), "price = %s, want %s", got, tt.want)
		})
	}
}

func TestKindText(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindQuote, KindTrade, KindBookDelta} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("candle")
	assert.Error(t, err)
}

func TestEventJSONKeepsKindReadable(t *testing.T) {
	t.Parallel()

	ev := NewTrade(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "EUR_USD", d("1.1"), d("5"))
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"trade"`)
	assert.Contains(t, string(b), `"price":"1.1"`)
}

func TestInstrumentValidation(t *testing.T) {
	t.Parallel()

	in := DefaultInstruments()

	m, err := in.Lookup("BTC_USD")
	require.NoError(t, err)
	assert.True(t, m.ValidPrice(d("100.01")))
	assert.False(t, m.ValidPrice(d("100.001")))
	assert.False(t, m.ValidPrice(d("-1")))

	assert.NoError(t, m.ValidQty(d("0.0002")))
	assert.Error(t, m.ValidQty(d("0.00005")))
	assert.Error(t, m.ValidQty(d("0")))

	_, err = in.Lookup("DOGE_USD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	assert.Equal(t, []string{"BTC_USD", "EUR_USD", "USD_JPY"}, in.Symbols())
}
