package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/domain"
)

func curve(values ...float64) []domain.PortfolioSnapshot {
	out := make([]domain.PortfolioSnapshot, len(values))
	for i, v := range values {
		out[i] = domain.PortfolioSnapshot{Timestamp: day0.AddDate(0, 0, i), Cash: v, TotalEquity: v}
	}
	return out
}

func TestSummarizeEmpty(t *testing.T) {
	res := Summarize(nil, nil)
	assert.Zero(t, res.TotalReturnPct)
	assert.Zero(t, res.TotalTrades)
	assert.Zero(t, res.SharpeRatio)
	assert.NotNil(t, res.EquityCurve)
	assert.NotNil(t, res.Trades)
	assert.NotNil(t, res.Orders)
}

func TestSummarizeReturnAndDrawdown(t *testing.T) {
	res := Summarize(curve(100, 110, 99, 120), nil)

	assert.InDelta(t, 20, res.TotalReturnPct, 1e-9)
	assert.InDelta(t, -10, res.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 100.0, res.InitialCapital)
	assert.Equal(t, 120.0, res.FinalCapital)
}

func TestSummarizeDrawdownNeverPositive(t *testing.T) {
	res := Summarize(curve(100, 101, 102, 103), nil)
	assert.Zero(t, res.MaxDrawdownPct)

	res = Summarize(curve(100), nil)
	assert.Zero(t, res.MaxDrawdownPct)
	assert.Zero(t, res.SharpeRatio)
}

func TestSummarizeSharpe(t *testing.T) {
	values := []float64{100, 110, 99, 120}
	res := Summarize(curve(values...), nil)

	rets := []float64{0.1, -0.1, 120.0/99.0 - 1}
	mean := (rets[0] + rets[1] + rets[2]) / 3
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	want := mean / math.Sqrt(ss/2) * math.Sqrt(TradingDaysPerYear)
	assert.InDelta(t, want, res.SharpeRatio, 1e-9)

	flat := Summarize(curve(100, 100, 100), nil)
	assert.Zero(t, flat.SharpeRatio, "zero deviation contributes zero")
}

func TestSummarizeTrades(t *testing.T) {
	trades := []domain.Trade{
		{Side: domain.OrderSideBuy},
		{Side: domain.OrderSideSell, RealizedPnL: 300},
		{Side: domain.OrderSideBuy},
		{Side: domain.OrderSideSell, RealizedPnL: -100},
	}
	res := Summarize(curve(100, 100), trades)

	assert.Equal(t, 4, res.TotalTrades)
	assert.Equal(t, 1, res.WinningTrades)
	assert.Equal(t, 1, res.LosingTrades)
	assert.InDelta(t, 25, res.WinRatePct, 1e-9)
	assert.InDelta(t, 3, res.ProfitFactor, 1e-9)

	onlyWins := Summarize(curve(100, 100), trades[:2])
	assert.Equal(t, float64(ProfitFactorCap), onlyWins.ProfitFactor)
}

func TestRoundMetrics(t *testing.T) {
	res := domain.BacktestResult{
		TotalReturnPct: 12.3456,
		WinRatePct:     33.3333,
		MaxDrawdownPct: -7.005,
		SharpeRatio:    1.23999,
		ProfitFactor:   math.Inf(1),
		EquityCurve:    curve(100),
	}
	got := RoundMetrics(res)

	assert.Equal(t, 12.35, got.TotalReturnPct)
	assert.Equal(t, 33.33, got.WinRatePct)
	assert.Equal(t, 1.24, got.SharpeRatio)
	assert.True(t, math.IsInf(got.ProfitFactor, 1))
	require.Len(t, got.EquityCurve, 1)
	assert.Equal(t, 12.3456, res.TotalReturnPct, "input is not modified")
}
