package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"quantdesk/internal/domain"
)

// TradingDaysPerYear annualizes the per-bar Sharpe ratio. It assumes daily
// bars whatever the actual interval.
const TradingDaysPerYear = 252

// ProfitFactorCap is reported as the profit factor when there are winning
// trades but no losing ones.
const ProfitFactorCap = 999

// Summarize computes the performance metrics of a completed run. Returns
// are measured against the first snapshot of the curve. An empty curve
// yields a zeroed result with empty sequences.
func Summarize(curve []domain.PortfolioSnapshot, trades []domain.Trade) domain.BacktestResult {
	res := domain.BacktestResult{
		EquityCurve: curve,
		Trades:      trades,
		Orders:      []domain.Order{},
	}
	if res.EquityCurve == nil {
		res.EquityCurve = []domain.PortfolioSnapshot{}
	}
	if res.Trades == nil {
		res.Trades = []domain.Trade{}
	}
	if len(curve) == 0 {
		return res
	}

	initial := curve[0].TotalEquity
	final := curve[len(curve)-1].TotalEquity
	res.InitialCapital = initial
	res.FinalCapital = final
	if initial != 0 {
		res.TotalReturnPct = (final - initial) / initial * 100
	}

	res.MaxDrawdownPct = maxDrawdown(curve) * 100
	res.SharpeRatio = sharpe(curve)

	var grossWin, grossLoss float64
	for _, t := range trades {
		switch {
		case t.RealizedPnL > 0:
			res.WinningTrades++
			grossWin += t.RealizedPnL
		case t.RealizedPnL < 0:
			res.LosingTrades++
			grossLoss -= t.RealizedPnL
		}
	}
	res.TotalTrades = len(trades)
	if res.TotalTrades > 0 {
		res.WinRatePct = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	}
	switch {
	case grossLoss > 0:
		res.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		res.ProfitFactor = ProfitFactorCap
	}
	return res
}

// maxDrawdown returns the most negative (equity-peak)/peak ratio along the
// curve; never positive.
func maxDrawdown(curve []domain.PortfolioSnapshot) float64 {
	var worst float64
	peak := math.Inf(-1)
	for _, p := range curve {
		if p.TotalEquity > peak {
			peak = p.TotalEquity
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.TotalEquity - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// sharpe returns mean/stdev of the bar-to-bar percentage changes in equity,
// annualized by sqrt(TradingDaysPerYear). Changes from a zero equity are
// skipped; fewer than two changes or zero deviation yield 0.
func sharpe(curve []domain.PortfolioSnapshot) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].TotalEquity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(TradingDaysPerYear)
}

// RoundMetrics returns a copy of res with its percentage and ratio metrics
// rounded to two decimal places for reporting. The record streams are
// shared, not copied.
func RoundMetrics(res domain.BacktestResult) domain.BacktestResult {
	res.TotalReturnPct = round2(res.TotalReturnPct)
	res.WinRatePct = round2(res.WinRatePct)
	res.MaxDrawdownPct = round2(res.MaxDrawdownPct)
	res.SharpeRatio = round2(res.SharpeRatio)
	res.ProfitFactor = round2(res.ProfitFactor)
	return res
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
