package strategy

import (
	"fmt"
	"math"

	"quantdesk/internal/domain"
)

// Series is a validated, time-ordered run of bars for a single instrument.
type Series struct {
	Symbol   string
	Exchange string
	bars     []domain.Bar
}

// NewSeries validates bars and wraps them in a Series. Bars must belong to
// one (symbol, exchange) pair, have strictly increasing timestamps, finite
// non-negative prices and volume, a positive close, and high >= low. An
// empty input produces an empty Series.
func NewSeries(bars []domain.Bar) (*Series, error) {
	s := &Series{bars: bars}
	if len(bars) == 0 {
		return s, nil
	}
	s.Symbol = bars[0].Symbol
	s.Exchange = bars[0].Exchange

	for i, b := range bars {
		if err := checkBar(b); err != nil {
			return nil, fmt.Errorf("bar %d at %s: %w", i, b.Timestamp.Format("2006-01-02T15:04:05"), err)
		}
		if b.Symbol != s.Symbol || b.Exchange != s.Exchange {
			return nil, fmt.Errorf("bar %d: %w: %s/%s in series of %s/%s",
				i, ErrMalformedBar, b.Symbol, b.Exchange, s.Symbol, s.Exchange)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("bar %d: %w: %s follows %s",
				i, ErrUnorderedBars, b.Timestamp, bars[i-1].Timestamp)
		}
	}
	return s, nil
}

func checkBar(b domain.Bar) error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedBar)
	}
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: price %v", ErrMalformedBar, v)
		}
	}
	if b.Close <= 0 {
		return fmt.Errorf("%w: close %v", ErrMalformedBar, b.Close)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrMalformedBar, b.High, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: volume %d", ErrMalformedBar, b.Volume)
	}
	return nil
}

// Len returns the number of bars.
func (s *Series) Len() int {
	return len(s.bars)
}

// Bar returns the i-th bar.
func (s *Series) Bar(i int) domain.Bar {
	return s.bars[i]
}

// History returns bars 0..i inclusive. The slice is capacity-limited so
// appending to it cannot expose later bars.
func (s *Series) History(i int) []domain.Bar {
	n := i + 1
	return s.bars[:n:n]
}

// Closes returns every close price in time order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}
