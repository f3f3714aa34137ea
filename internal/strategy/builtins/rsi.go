package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

var _ strategy.Strategy = (*RSIThreshold)(nil)

// RSIThreshold enters when the RSI drops below the oversold level and exits
// when it rises above the overbought level.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIThreshold creates an RSIThreshold over period close-to-close changes.
func NewRSIThreshold(period int, oversold, overbought float64) *RSIThreshold {
	return &RSIThreshold{period: period, oversold: oversold, overbought: overbought}
}

// Name returns "rsi_strategy".
func (r *RSIThreshold) Name() string {
	return RSIName
}

// Signal evaluates the RSI at the last bar of history.
func (r *RSIThreshold) Signal(history []domain.Bar) domain.SignalType {
	if len(history) <= r.period {
		return domain.SignalFlat
	}
	v := indicators.Last(indicators.RSI(strategy.Closes(history, r.period+1), r.period))
	switch {
	case math.IsNaN(v):
		return domain.SignalFlat
	case v < r.oversold:
		return domain.SignalLongEntry
	case v > r.overbought:
		return domain.SignalLongExit
	}
	return domain.SignalFlat
}
