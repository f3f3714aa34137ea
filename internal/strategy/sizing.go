package strategy

import "math"

// DefaultTradeSize is the quantity bought on every entry unless a run
// configures another Sizer.
const DefaultTradeSize = 100

// Sizer decides how many units an entry buys.
type Sizer interface {
	// Size returns the quantity to buy at price given the current account
	// equity. A non-positive result skips the entry.
	Size(price, equity float64) float64
}

// FixedSizer buys the same quantity on every entry regardless of capital.
type FixedSizer struct {
	Qty float64
}

// Size returns the fixed quantity.
func (f FixedSizer) Size(_, _ float64) float64 {
	return f.Qty
}

// EquityFractionSizer buys as many whole units as fit in Fraction of the
// current equity (e.g. 0.10 for 10%), commission included.
type EquityFractionSizer struct {
	Fraction float64
	// CommissionRate is set by Simulate to the run's rate.
	CommissionRate float64
}

// Size returns floor(equity*Fraction / (price*(1+CommissionRate))).
func (e EquityFractionSizer) Size(price, equity float64) float64 {
	if price <= 0 || e.Fraction <= 0 {
		return 0
	}
	return math.Floor(equity * e.Fraction / (price * (1 + e.CommissionRate)))
}

func (e EquityFractionSizer) withCommission(rate float64) Sizer {
	e.CommissionRate = rate
	return e
}

// commissionAware sizers budget for the commission of the fill they size.
type commissionAware interface {
	withCommission(rate float64) Sizer
}
