package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"quantdesk/internal/broker"
	"quantdesk/internal/domain"
	"quantdesk/internal/store"
	"quantdesk/internal/trace"
)

// DefaultCommissionRate is the fraction of notional charged on every fill.
const DefaultCommissionRate = 0.001

// RunConfig describes a single backtest request.
type RunConfig struct {
	StrategyName   string
	Symbol         string
	Exchange       string
	Start, End     time.Time
	InitialCapital float64
	Parameters     map[string]float64

	// CommissionRate overrides the Backtester's rate when non-nil. Zero is a
	// valid override.
	CommissionRate *float64
	// Sizer overrides the Backtester's sizer for this run when non-nil.
	Sizer Sizer
}

// Options configures a Backtester.
type Options struct {
	CommissionRate float64
	Sizer          Sizer
	Logger         *slog.Logger
}

// DefaultOptions returns the 0.1% commission, fixed 100-unit configuration.
func DefaultOptions() Options {
	return Options{
		CommissionRate: DefaultCommissionRate,
		Sizer:          FixedSizer{Qty: DefaultTradeSize},
	}
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics. It holds no per-run state and is safe for concurrent
// use; every Run builds its own simulator and broker.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	opts     Options
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, opts Options) *Backtester {
	if opts.Sizer == nil {
		opts.Sizer = FixedSizer{Qty: DefaultTradeSize}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		opts:     opts,
		log:      log.With("component", "backtester"),
	}
}

// Registry returns the strategy catalog the Backtester resolves names in.
func (bt *Backtester) Registry() *Registry {
	return bt.registry
}

// Run executes a backtest for cfg. An unknown strategy or invalid
// parameters fail before any data is read. A date range without bars
// yields a zeroed result rather than an error.
func (bt *Backtester) Run(ctx context.Context, cfg RunConfig) (*domain.BacktestResult, error) {
	ctx, span := trace.StartSpan(ctx, "backtest.run",
		attribute.String("strategy", cfg.StrategyName),
		attribute.String("symbol", cfg.Symbol),
		attribute.String("exchange", cfg.Exchange),
	)
	defer span.End()

	if err := validate(cfg); err != nil {
		return nil, err
	}
	strat, params, err := bt.registry.Build(cfg.StrategyName, cfg.Parameters)
	if err != nil {
		return nil, err
	}

	bars, err := bt.store.ReadBars(ctx, cfg.Symbol, cfg.Exchange, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s/%s: %w", cfg.Symbol, cfg.Exchange, err)
	}
	series, err := NewSeries(bars)
	if err != nil {
		return nil, fmt.Errorf("loading series for %s/%s: %w", cfg.Symbol, cfg.Exchange, err)
	}
	if series.Len() == 0 {
		bt.log.Warn("no bars in range",
			"symbol", cfg.Symbol,
			"exchange", cfg.Exchange,
			"start", cfg.Start.Format("2006-01-02"),
			"end", cfg.End.Format("2006-01-02"),
		)
	}

	opts := bt.opts
	if cfg.Sizer != nil {
		opts.Sizer = cfg.Sizer
	}
	if cfg.CommissionRate != nil {
		opts.CommissionRate = *cfg.CommissionRate
	}
	opts.Logger = bt.log

	res, err := Simulate(ctx, strat, series, cfg.InitialCapital, opts)
	if err != nil {
		return nil, err
	}

	bt.log.Info("backtest complete",
		"strategy", cfg.StrategyName,
		"symbol", cfg.Symbol,
		"params", params,
		"bars", series.Len(),
		"trades", res.TotalTrades,
		"return_pct", res.TotalReturnPct,
	)
	return res, nil
}

// Simulate runs strat over series starting from initialCapital and returns
// the summarized result. It performs no I/O and is deterministic for fixed
// inputs.
func Simulate(ctx context.Context, strat Strategy, series *Series, initialCapital float64, opts Options) (*domain.BacktestResult, error) {
	signals := Generate(strat, series)
	if ca, ok := opts.Sizer.(commissionAware); ok {
		opts.Sizer = ca.withCommission(opts.CommissionRate)
	}

	b := broker.NewSimulatorBroker(initialCapital, opts.CommissionRate)
	exec, err := NewSimulator(b, opts.Sizer, opts.Logger).Run(ctx, series, signals)
	if err != nil {
		return nil, fmt.Errorf("simulating %s: %w", strat.Name(), err)
	}

	res := Summarize(exec.EquityCurve, exec.Trades)
	res.Orders = exec.Orders
	return &res, nil
}

func validate(cfg RunConfig) error {
	switch {
	case cfg.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	case cfg.InitialCapital <= 0:
		return fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidConfig, cfg.InitialCapital)
	case cfg.CommissionRate != nil && (*cfg.CommissionRate < 0 || *cfg.CommissionRate >= 1):
		return fmt.Errorf("%w: commission rate must be in [0, 1), got %v", ErrInvalidConfig, *cfg.CommissionRate)
	case !cfg.End.IsZero() && cfg.End.Before(cfg.Start):
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidConfig,
			cfg.End.Format("2006-01-02"), cfg.Start.Format("2006-01-02"))
	}
	return nil
}
