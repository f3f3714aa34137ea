package engine

import (
	"fmt"

	"quantdesk/internal/strategy"
)

// Sizing policy names accepted by NewSizer.
const (
	SizingFixed          = "fixed"
	SizingEquityFraction = "equity_fraction"
)

// NewSizer builds the entry sizing policy for the engine.
//
//   - fixed: tradeSize units per entry (e.g. 100).
//   - equity_fraction: as many whole units as fit in maxPositionPct of
//     current equity (e.g. 0.10 for 10%).
func NewSizer(policy string, tradeSize, maxPositionPct float64) (strategy.Sizer, error) {
	switch policy {
	case "", SizingFixed:
		if tradeSize <= 0 {
			return nil, fmt.Errorf("trade size must be positive, got %v", tradeSize)
		}
		return strategy.FixedSizer{Qty: tradeSize}, nil
	case SizingEquityFraction:
		if maxPositionPct <= 0 || maxPositionPct > 1 {
			return nil, fmt.Errorf("max position fraction must be in (0, 1], got %v", maxPositionPct)
		}
		return strategy.EquityFractionSizer{Fraction: maxPositionPct}, nil
	default:
		return nil, fmt.Errorf("unknown sizing policy %q", policy)
	}
}
