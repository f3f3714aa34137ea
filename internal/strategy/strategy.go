// Package strategy defines the Strategy interface for signal generators,
// the Registry catalog of available strategies, and the Backtester that
// replays a price series through a strategy and a simulated broker.
package strategy

import (
	"errors"

	"quantdesk/internal/domain"
)

var (
	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidParameter is returned when a strategy parameter is
	// unrecognised, of the wrong type, or out of range.
	ErrInvalidParameter = errors.New("invalid strategy parameter")

	// ErrInvalidConfig is returned for malformed run configurations.
	ErrInvalidConfig = errors.New("invalid backtest config")

	// ErrUnorderedBars is returned when bar timestamps are not strictly
	// increasing.
	ErrUnorderedBars = errors.New("bars not in strictly increasing time order")

	// ErrMalformedBar is returned for bars with unusable price data.
	ErrMalformedBar = errors.New("malformed bar")

	// ErrSignalLength is returned when a signal sequence does not line up
	// with its price series.
	ErrSignalLength = errors.New("signal count does not match bar count")
)

// Strategy is implemented by every signal generator.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Signal derives the signal for the last bar of history. history holds
	// every bar up to and including the current one and must not be
	// retained or modified.
	Signal(history []domain.Bar) domain.SignalType
}

// Generate evaluates s against every prefix of series and returns one
// signal per bar, index-aligned with the series.
func Generate(s Strategy, series *Series) []domain.Signal {
	signals := make([]domain.Signal, series.Len())
	for i := range signals {
		signals[i] = domain.Signal{
			Timestamp: series.Bar(i).Timestamp,
			Type:      s.Signal(series.History(i)),
		}
	}
	return signals
}

// Closes returns the close prices of the last n bars of history, or all of
// them when history is shorter than n.
func Closes(history []domain.Bar, n int) []float64 {
	if n > len(history) {
		n = len(history)
	}
	tail := history[len(history)-n:]
	out := make([]float64, len(tail))
	for i, b := range tail {
		out[i] = b.Close
	}
	return out
}
