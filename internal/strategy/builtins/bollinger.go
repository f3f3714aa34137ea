package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

var _ strategy.Strategy = (*BollingerBreakout)(nil)

// BollingerBreakout buys a close below the lower band and sells a close above
// the upper band. Bands sit numStd sample deviations around the rolling mean.
type BollingerBreakout struct {
	window int
	numStd float64
}

// NewBollingerBreakout creates a BollingerBreakout strategy.
func NewBollingerBreakout(window int, numStd float64) *BollingerBreakout {
	return &BollingerBreakout{window: window, numStd: numStd}
}

// Name returns "bollinger_bands".
func (b *BollingerBreakout) Name() string {
	return BollingerName
}

// Signal compares the last close of history against its bands. A flat
// window has zero width and produces no signal.
func (b *BollingerBreakout) Signal(history []domain.Bar) domain.SignalType {
	if len(history) < b.window {
		return domain.SignalFlat
	}
	closes := strategy.Closes(history, b.window)
	mean, std := indicators.MeanStd(closes, b.window)
	m, sd := indicators.Last(mean), indicators.Last(std)
	if math.IsNaN(m) || math.IsNaN(sd) {
		return domain.SignalFlat
	}

	price := closes[len(closes)-1]
	switch {
	case price < m-b.numStd*sd:
		return domain.SignalLongEntry
	case price > m+b.numStd*sd:
		return domain.SignalLongExit
	}
	return domain.SignalFlat
}
