package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/domain"
)

func newTestBacktester(bars []domain.Bar) (*Backtester, *memBarStore) {
	st := &memBarStore{bars: map[string][]domain.Bar{}}
	_ = st.WriteBars(context.Background(), bars)

	r := NewRegistry()
	r.Register(Definition{
		Name: "scripted",
		Parameters: []ParamSpec{
			{Name: "entry", Type: ParamInt, Default: 1, Min: 0, Max: 100},
			{Name: "exit", Type: ParamInt, Default: 3, Min: 0, Max: 100},
		},
		New: func(p Params) (Strategy, error) {
			return scripted{at: map[int]domain.SignalType{
				p.Int("entry"): domain.SignalLongEntry,
				p.Int("exit"):  domain.SignalLongExit,
			}}, nil
		},
	})
	return NewBacktester(st, r, DefaultOptions()), st
}

func baseConfig() RunConfig {
	return RunConfig{
		StrategyName:   "scripted",
		Symbol:         "AAPL",
		Exchange:       "NASDAQ",
		Start:          day0,
		End:            day0.AddDate(1, 0, 0),
		InitialCapital: 100000,
	}
}

func TestBacktesterRun(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 100, 105, 110, 110))

	res, err := bt.Run(context.Background(), baseConfig())
	require.NoError(t, err)

	require.Len(t, res.Orders, 2)
	require.Len(t, res.Trades, 2)
	assert.Len(t, res.EquityCurve, 5)
	assert.Equal(t, 2, res.TotalTrades)
	assert.Equal(t, 1, res.WinningTrades)
	assert.Equal(t, 100000.0, res.InitialCapital)

	// buy 100 @100 (+10 commission), sell 100 @110 (-11 commission)
	assert.InDelta(t, 100979, res.FinalCapital, 1e-6)
	assert.InDelta(t, 0.979, res.TotalReturnPct, 1e-9)
}

func TestBacktesterRunWithParameters(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 100, 105, 110, 110))

	cfg := baseConfig()
	cfg.Parameters = map[string]float64{"entry": 2, "exit": 4}
	res, err := bt.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 105.0, res.Trades[0].Price)
	assert.Equal(t, 110.0, res.Trades[1].Price)
}

func TestBacktesterCommissionOverride(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 100, 105, 110, 110))

	zero := 0.0
	cfg := baseConfig()
	cfg.CommissionRate = &zero
	res, err := bt.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.InDelta(t, 101000, res.FinalCapital, 1e-6)
	for _, tr := range res.Trades {
		assert.Zero(t, tr.Commission)
	}
}

func TestBacktesterFullEquityEntryFits(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 100, 105, 110, 110))

	cfg := baseConfig()
	cfg.Sizer = EquityFractionSizer{Fraction: 1}
	res, err := bt.Run(context.Background(), cfg)
	require.NoError(t, err)

	// floor(100000 / (100 * 1.001)) = 999; 1000 units would overdraw.
	require.Len(t, res.Orders, 2)
	assert.Equal(t, 999.0, res.Orders[0].Qty)
	assert.Equal(t, domain.OrderSideBuy, res.Orders[0].Side)
}

func TestBacktesterEmptyRange(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 101))

	cfg := baseConfig()
	cfg.Start = day0.AddDate(5, 0, 0)
	cfg.End = day0.AddDate(6, 0, 0)
	res, err := bt.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Zero(t, res.TotalReturnPct)
	assert.Zero(t, res.TotalTrades)
	assert.Empty(t, res.EquityCurve)
	assert.NotNil(t, res.Orders)
}

func TestBacktesterRejects(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 101))

	cases := []struct {
		name   string
		mutate func(*RunConfig)
		want   error
	}{
		{"unknown strategy", func(c *RunConfig) { c.StrategyName = "nope" }, ErrUnknownStrategy},
		{"bad parameter", func(c *RunConfig) { c.Parameters = map[string]float64{"entry": 500} }, ErrInvalidParameter},
		{"unknown parameter", func(c *RunConfig) { c.Parameters = map[string]float64{"window": 5} }, ErrInvalidParameter},
		{"no symbol", func(c *RunConfig) { c.Symbol = "" }, ErrInvalidConfig},
		{"zero capital", func(c *RunConfig) { c.InitialCapital = 0 }, ErrInvalidConfig},
		{"end before start", func(c *RunConfig) { c.End = c.Start.Add(-time.Hour) }, ErrInvalidConfig},
		{"commission out of range", func(c *RunConfig) { rate := 1.5; c.CommissionRate = &rate }, ErrInvalidConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			_, err := bt.Run(context.Background(), cfg)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBacktesterStoreError(t *testing.T) {
	bt, st := newTestBacktester(nil)
	boom := errors.New("disk gone")
	st.err = boom

	_, err := bt.Run(context.Background(), baseConfig())
	assert.ErrorIs(t, err, boom)
}

func TestBacktesterConcurrentRuns(t *testing.T) {
	bt, _ := newTestBacktester(makeBars(100, 100, 105, 110, 110))

	const n = 8
	results := make(chan *domain.BacktestResult, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := bt.Run(context.Background(), baseConfig())
			if err != nil {
				results <- nil
				return
			}
			results <- res
		}()
	}

	var first *domain.BacktestResult
	for i := 0; i < n; i++ {
		res := <-results
		require.NotNil(t, res)
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first, res)
	}
}
