// Package builtins provides the strategy implementations that ship with
// quantdesk and the catalog that registers them.
package builtins

import (
	"fmt"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It is in
// position while the short-period SMA is above the long-period SMA, entering
// on the bar where that starts and exiting on the bar where it stops.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods. short must be below long.
func NewSMACross(short, long int) (*SMACross, error) {
	if short <= 0 || short >= long {
		return nil, fmt.Errorf("%w: short_window %d must be positive and below long_window %d",
			strategy.ErrInvalidParameter, short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

// Name returns "sma_crossover".
func (s *SMACross) Name() string {
	return SMACrossoverName
}

// Signal compares the in-position state at the last bar of history with the
// state one bar earlier. Bars before the long SMA is defined are flat.
func (s *SMACross) Signal(history []domain.Bar) domain.SignalType {
	n := len(history)
	if n < s.longPeriod {
		return domain.SignalFlat
	}

	closes := strategy.Closes(history, s.longPeriod+1)
	short := indicators.SMA(closes, s.shortPeriod)
	long := indicators.SMA(closes, s.longPeriod)

	last := len(closes) - 1
	now := short[last] > long[last]
	// NaN comparisons are false, so a prior bar inside warmup counts as flat.
	prev := last > 0 && short[last-1] > long[last-1]

	switch {
	case now && !prev:
		return domain.SignalLongEntry
	case !now && prev:
		return domain.SignalLongExit
	}
	return domain.SignalFlat
}
