// Package indicators implements the rolling price statistics used by the
// built-in strategies. Every function returns a slice aligned to its input,
// with NaN for positions where the window is not yet populated.
package indicators

import (
	"math"

	ta "github.com/thrasher-corp/gct-ta/indicators"
)

// SMA returns the simple moving average of x over p points.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	if len(x) < p {
		return nans(len(x))
	}
	return warmup(ta.SMA(x, p), p-1)
}

// EMA returns the exponential moving average of x over p points, seeded with
// the simple average of the first p values.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	if len(x) < p {
		return nans(len(x))
	}
	return warmup(ta.EMA(x, p), p-1)
}

// warmup replaces the zero-filled lookback of a library series with NaN.
func warmup(out []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MeanStd returns the rolling mean and sample standard deviation (n-1
// denominator) of x over p points. A window of one point has an undefined
// sample deviation and yields NaN.
func MeanStd(x []float64, p int) (mean, std []float64) {
	if p <= 0 {
		return nil, nil
	}
	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)

	for i := 0; i < n; i++ {
		if i < p-1 {
			mean[i] = math.NaN()
			std[i] = math.NaN()
			continue
		}
		window := x[i-p+1 : i+1]

		var sum float64
		for _, v := range window {
			sum += v
		}
		m := sum / float64(p)
		mean[i] = m

		if p < 2 {
			std[i] = math.NaN()
			continue
		}
		var ss float64
		for _, v := range window {
			d := v - m
			ss += d * d
		}
		std[i] = math.Sqrt(ss / float64(p-1))
	}
	return mean, std
}

// RSIRatioSentinel replaces avg_gain/avg_loss when the average loss is zero.
const RSIRatioSentinel = 1e10

// RSINeutral is reported when a window holds neither gains nor losses.
const RSINeutral = 50.0

// RSI returns the relative strength index of x over p close-to-close changes.
// Average gain and loss are simple means of the positive and negated-negative
// parts of the one-step deltas, so the first defined value is at index p.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	n := len(x)
	out := nans(n)
	for i := p; i < n; i++ {
		var gain, loss float64
		for j := i - p + 1; j <= i; j++ {
			d := x[j] - x[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		out[i] = rsiValue(gain/float64(p), loss/float64(p))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return RSINeutral
		}
		return 100 - 100/(1+RSIRatioSentinel)
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Last returns the final element of x, or NaN when x is empty.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}
