package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	t.Parallel()
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)

	assert.Nil(t, SMA([]float64{1}, 0))

	short := SMA([]float64{1, 2}, 3)
	require.Len(t, short, 2)
	assert.True(t, math.IsNaN(short[0]))
	assert.True(t, math.IsNaN(short[1]))
}

func TestSMAMatchesRollingMean(t *testing.T) {
	t.Parallel()
	x := []float64{10.5, 11.25, 9.75, 12, 13.5, 12.25, 14, 15.5, 13.75, 16}
	const p = 4
	out := SMA(x, p)
	for i := p - 1; i < len(x); i++ {
		var sum float64
		for _, v := range x[i-p+1 : i+1] {
			sum += v
		}
		assert.InDelta(t, sum/p, out[i], 1e-9, "index %d", i)
	}
}

func TestEMA(t *testing.T) {
	t.Parallel()
	// k = 2/(3+1) = 0.5, seeded with mean(1,2,3) = 2.
	out := EMA([]float64{1, 2, 3, 6, 2}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 4.0, out[3], 1e-12)
	assert.InDelta(t, 3.0, out[4], 1e-12)

	assert.Nil(t, EMA([]float64{1}, 0))
	assert.True(t, math.IsNaN(EMA([]float64{1}, 2)[0]))
}

func TestMeanStdUsesSampleDeviation(t *testing.T) {
	t.Parallel()
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	assert.InDelta(t, 5.0, mean[7], 1e-12)
	// Population deviation of this set is 2; the sample deviation is sqrt(32/7).
	assert.InDelta(t, math.Sqrt(32.0/7.0), std[7], 1e-12)
	assert.True(t, math.IsNaN(std[6]))
}

func TestMeanStdFlatSeries(t *testing.T) {
	t.Parallel()
	_, std := MeanStd([]float64{10, 10, 10, 10}, 3)
	assert.Equal(t, 0.0, std[3])
}

func TestRSI(t *testing.T) {
	t.Parallel()

	t.Run("warmup", func(t *testing.T) {
		out := RSI([]float64{1, 2, 3}, 3)
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("mixed", func(t *testing.T) {
		// Deltas: +2, -1, +1 => avg gain 1, avg loss 1/3 => rs 3 => 75.
		out := RSI([]float64{10, 12, 11, 12}, 3)
		assert.InDelta(t, 75.0, out[3], 1e-9)
	})

	t.Run("only gains use sentinel", func(t *testing.T) {
		out := RSI([]float64{1, 2, 3, 4}, 3)
		assert.Greater(t, out[3], 99.99)
		assert.Less(t, out[3], 100.0)
	})

	t.Run("flat is neutral", func(t *testing.T) {
		out := RSI([]float64{5, 5, 5, 5, 5}, 3)
		assert.Equal(t, RSINeutral, out[3])
		assert.Equal(t, RSINeutral, out[4])
	})

	t.Run("only losses", func(t *testing.T) {
		out := RSI([]float64{4, 3, 2, 1}, 3)
		assert.Equal(t, 0.0, out[3])
	})
}

func TestLast(t *testing.T) {
	t.Parallel()
	assert.True(t, math.IsNaN(Last(nil)))
	assert.Equal(t, 3.0, Last([]float64{1, 2, 3}))
}
