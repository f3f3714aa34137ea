package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/domain"
)

func TestNewSeries(t *testing.T) {
	s, err := NewSeries(makeBars(10, 11, 12))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, "NASDAQ", s.Exchange)
	assert.Equal(t, []float64{10, 11, 12}, s.Closes())

	h := s.History(1)
	assert.Len(t, h, 2)
	assert.Equal(t, 2, cap(h), "history must not expose later bars")
}

func TestNewSeriesEmpty(t *testing.T) {
	s, err := NewSeries(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestNewSeriesRejects(t *testing.T) {
	mutate := func(i int, f func(*domain.Bar)) []domain.Bar {
		bars := makeBars(10, 11, 12)
		f(&bars[i])
		return bars
	}

	cases := []struct {
		name string
		bars []domain.Bar
		want error
	}{
		{"duplicate timestamp", mutate(2, func(b *domain.Bar) { b.Timestamp = day0.AddDate(0, 0, 1) }), ErrUnorderedBars},
		{"out of order", mutate(0, func(b *domain.Bar) { b.Timestamp = day0.AddDate(0, 0, 5) }), ErrUnorderedBars},
		{"zero close", mutate(1, func(b *domain.Bar) { b.Close = 0 }), ErrMalformedBar},
		{"negative open", mutate(1, func(b *domain.Bar) { b.Open = -1 }), ErrMalformedBar},
		{"nan high", mutate(1, func(b *domain.Bar) { b.High = math.NaN() }), ErrMalformedBar},
		{"high below low", mutate(1, func(b *domain.Bar) { b.Low = b.High + 1 }), ErrMalformedBar},
		{"negative volume", mutate(1, func(b *domain.Bar) { b.Volume = -5 }), ErrMalformedBar},
		{"missing timestamp", mutate(0, func(b *domain.Bar) { b.Timestamp = time.Time{} }), ErrMalformedBar},
		{"mixed symbols", mutate(2, func(b *domain.Bar) { b.Symbol = "MSFT" }), ErrMalformedBar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSeries(tc.bars)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
