package builtins

import (
	"fmt"

	"quantdesk/internal/strategy"
)

// Catalog names of the built-in strategies.
const (
	SMACrossoverName = "sma_crossover"
	RSIName          = "rsi_strategy"
	BollingerName    = "bollinger_bands"
)

// Definitions returns the catalog entries for every built-in strategy.
func Definitions() []strategy.Definition {
	return []strategy.Definition{
		{
			Name:        SMACrossoverName,
			DisplayName: "SMA Crossover",
			Description: "Buy when the short moving average crosses above the long moving average, sell when it crosses below",
			Parameters: []strategy.ParamSpec{
				{Name: "short_window", Type: strategy.ParamInt, Default: 20, Min: 5, Max: 100, Description: "Short moving average window"},
				{Name: "long_window", Type: strategy.ParamInt, Default: 50, Min: 20, Max: 200, Description: "Long moving average window"},
			},
			New: func(p strategy.Params) (strategy.Strategy, error) {
				return NewSMACross(p.Int("short_window"), p.Int("long_window"))
			},
		},
		{
			Name:        RSIName,
			DisplayName: "RSI Strategy",
			Description: "Buy when RSI is oversold, sell when RSI is overbought",
			Parameters: []strategy.ParamSpec{
				{Name: "rsi_period", Type: strategy.ParamInt, Default: 14, Min: 5, Max: 50, Description: "RSI lookback period"},
				{Name: "oversold_threshold", Type: strategy.ParamInt, Default: 30, Min: 10, Max: 40, Description: "Oversold level"},
				{Name: "overbought_threshold", Type: strategy.ParamInt, Default: 70, Min: 60, Max: 90, Description: "Overbought level"},
			},
			New: func(p strategy.Params) (strategy.Strategy, error) {
				return NewRSIThreshold(p.Int("rsi_period"), p.Float("oversold_threshold"), p.Float("overbought_threshold")), nil
			},
		},
		{
			Name:        BollingerName,
			DisplayName: "Bollinger Bands",
			Description: "Buy when price touches the lower band, sell when price touches the upper band",
			Parameters: []strategy.ParamSpec{
				{Name: "window", Type: strategy.ParamInt, Default: 20, Min: 10, Max: 50, Description: "Moving average window"},
				{Name: "num_std", Type: strategy.ParamFloat, Default: 2.0, Min: 1.0, Max: 3.0, Description: "Band width in standard deviations"},
			},
			New: func(p strategy.Params) (strategy.Strategy, error) {
				return NewBollingerBreakout(p.Int("window"), p.Float("num_std")), nil
			},
		},
	}
}

// NewRegistry returns a Registry holding every built-in strategy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	for _, d := range Definitions() {
		if _, dup := r.Get(d.Name); dup {
			panic(fmt.Sprintf("builtins: duplicate strategy %q", d.Name))
		}
		r.Register(d)
	}
	return r
}
