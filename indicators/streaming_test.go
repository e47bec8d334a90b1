package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var closes = []float64{102, 105, 106, 108, 110, 107, 111, 115, 113, 118}

// batchMA and batchEMA recompute over the whole series for comparison.
func batchMA(values []float64, period int) float64 {
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func batchEMA(values []float64, period int) float64 {
	k := 2.0 / float64(period+1)
	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}
	ema /= float64(period)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
	}
	return ema
}

func TestSimpleMAStreaming(t *testing.T) {
	t.Parallel()

	t.Run("basic functionality", func(t *testing.T) {
		ma := NewMA(3)
		assert.Equal(t, "MA(3)", ma.Name())
		assert.Equal(t, 3, ma.Warmup())
		assert.False(t, ma.Ready())
		assert.Equal(t, 0.0, ma.Value())

		ma.Update(closes[0])
		ma.Update(closes[1])
		assert.False(t, ma.Ready())

		ma.Update(closes[2])
		assert.True(t, ma.Ready())
		assert.InDelta(t, (102.0+105.0+106.0)/3.0, ma.Value(), 1e-9)

		ma.Update(closes[3])
		assert.InDelta(t, (105.0+106.0+108.0)/3.0, ma.Value(), 1e-9)
	})

	t.Run("reset functionality", func(t *testing.T) {
		ma := NewMA(2)
		ma.Update(1)
		ma.Update(2)
		assert.True(t, ma.Ready())

		ma.Reset()
		assert.False(t, ma.Ready())
		assert.Equal(t, 0.0, ma.Value())
	})

	t.Run("matches batch calculation", func(t *testing.T) {
		ma := NewMA(4)
		for i, v := range closes {
			ma.Update(v)
			if i+1 < 4 {
				continue
			}
			want := batchMA(closes[:i+1], 4)
			assert.InDelta(t, want, ma.Value(), 1e-9)
		}
	})
}

func TestExponentialMAStreaming(t *testing.T) {
	t.Parallel()

	t.Run("seeded with sma", func(t *testing.T) {
		ema := NewEMA(3)
		assert.Equal(t, "EMA(3)", ema.Name())
		for _, v := range closes[:3] {
			ema.Update(v)
		}
		assert.True(t, ema.Ready())
		assert.InDelta(t, (102.0+105.0+106.0)/3.0, ema.Value(), 1e-9)

		ema.Update(108)
		// (108 - 104.333) * 0.5 + 104.333
		assert.InDelta(t, 106.1666666667, ema.Value(), 1e-9)
		assert.InDelta(t, batchEMA(closes[:4], 3), ema.Value(), 1e-9)
	})

	t.Run("matches batch calculation", func(t *testing.T) {
		ema := NewEMA(5)
		for i, v := range closes {
			ema.Update(v)
			if i+1 < 5 {
				assert.False(t, ema.Ready())
				continue
			}
			want := batchEMA(closes[:i+1], 5)
			assert.InDelta(t, want, ema.Value(), 1e-9)
		}
	})

	t.Run("reset", func(t *testing.T) {
		ema := NewEMA(2)
		ema.Update(1)
		ema.Update(2)
		ema.Reset()
		assert.False(t, ema.Ready())
	})
}

func TestNewByKind(t *testing.T) {
	t.Parallel()

	ind, ok := New("ema", 4)
	require.True(t, ok)
	assert.Equal(t, "EMA(4)", ind.Name())

	ind, ok = New("sma", 2)
	require.True(t, ok)
	assert.Equal(t, "MA(2)", ind.Name())

	_, ok = New("rsi", 14)
	assert.False(t, ok)
}
