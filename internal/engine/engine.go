// Package engine coordinates backtest execution with run persistence: it
// validates requests, drives the Backtester, and records each run with its
// trade and order books.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"quantdesk/internal/domain"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trace"
)

// Request is a caller's backtest submission. Zero values for Exchange, End
// and InitialCapital take the engine defaults.
type Request struct {
	Name           string             `json:"name"`
	StrategyName   string             `json:"strategy_name"`
	Symbol         string             `json:"symbol"`
	Exchange       string             `json:"exchange"`
	Start          time.Time          `json:"start_date"`
	End            time.Time          `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	Parameters     map[string]float64 `json:"parameters"`
	// CommissionRate overrides the configured rate when set.
	CommissionRate *float64 `json:"commission_rate,omitempty"`
}

// Options configures an Engine.
type Options struct {
	InitialCapital float64
	Logger         *slog.Logger
	// Now is the clock used for run timestamps; time.Now when nil.
	Now func() time.Time
}

// Engine orchestrates backtest runs by delegating to a Backtester for
// execution and to stores for persistence.
type Engine struct {
	backtester *strategy.Backtester
	bars       store.BarStore
	runs       store.RunStore
	watchlist  store.WatchlistStore
	opts       Options
	log        *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(
	bt *strategy.Backtester,
	bars store.BarStore,
	runs store.RunStore,
	watchlist store.WatchlistStore,
	opts Options,
) *Engine {
	if opts.InitialCapital <= 0 {
		opts.InitialCapital = 100000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		backtester: bt,
		bars:       bars,
		runs:       runs,
		watchlist:  watchlist,
		opts:       opts,
		log:        log.With("component", "engine"),
	}
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

// RunBacktest validates req, records a running run, executes it, and stores
// the outcome. Requests that fail validation are rejected without a record.
// When execution fails the run is stored as failed and returned together
// with the error.
func (e *Engine) RunBacktest(ctx context.Context, req Request) (*domain.BacktestRun, error) {
	ctx, span := trace.StartSpan(ctx, "engine.run_backtest",
		attribute.String("strategy", req.StrategyName),
		attribute.String("symbol", req.Symbol),
	)
	defer span.End()

	cfg, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	run := &domain.BacktestRun{
		Name:           req.Name,
		StrategyName:   cfg.StrategyName,
		Symbol:         cfg.Symbol,
		Exchange:       cfg.Exchange,
		Start:          cfg.Start,
		End:            cfg.End,
		InitialCapital: cfg.InitialCapital,
		Parameters:     cfg.Parameters,
		Status:         domain.RunStatusRunning,
		CreatedAt:      e.opts.Now().UTC(),
	}
	if run.Name == "" {
		run.Name = fmt.Sprintf("%s %s", cfg.StrategyName, cfg.Symbol)
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	span.SetAttributes(attribute.String("run_id", run.ID))
	e.log.Info("backtest started", "run_id", run.ID, "strategy", run.StrategyName, "symbol", run.Symbol)

	res, runErr := e.backtester.Run(ctx, cfg)
	if runErr == nil {
		runErr = e.saveBooks(ctx, run.ID, res)
	}

	done := e.opts.Now().UTC()
	run.CompletedAt = &done
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = runErr.Error()
		span.RecordError(runErr)
		e.log.Error("backtest failed", "run_id", run.ID, "error", runErr)
	} else {
		rounded := strategy.RoundMetrics(*res)
		run.Status = domain.RunStatusCompleted
		run.Result = &rounded
		e.log.Info("backtest completed",
			"run_id", run.ID,
			"trades", rounded.TotalTrades,
			"return_pct", rounded.TotalReturnPct,
			"sharpe", rounded.SharpeRatio,
		)
	}

	// The outcome is persisted even if the caller has gone away.
	if err := e.runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return run, fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if runErr != nil {
		return run, fmt.Errorf("run %s: %w", run.ID, runErr)
	}
	return run, nil
}

// resolve fills request defaults and rejects anything the Backtester would
// reject, before a run record exists.
func (e *Engine) resolve(req Request) (strategy.RunConfig, error) {
	cfg := strategy.RunConfig{
		StrategyName:   req.StrategyName,
		Symbol:         strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Exchange:       req.Exchange,
		Start:          req.Start,
		End:            req.End,
		InitialCapital: req.InitialCapital,
		CommissionRate: req.CommissionRate,
	}
	if cfg.Exchange == "" {
		cfg.Exchange = store.DefaultExchange
	}
	if cfg.End.IsZero() {
		cfg.End = e.opts.Now().UTC()
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = e.opts.InitialCapital
	}

	switch {
	case cfg.Symbol == "":
		return cfg, fmt.Errorf("%w: symbol is required", strategy.ErrInvalidConfig)
	case cfg.InitialCapital < 0:
		return cfg, fmt.Errorf("%w: initial capital must be positive, got %v", strategy.ErrInvalidConfig, cfg.InitialCapital)
	case cfg.CommissionRate != nil && (*cfg.CommissionRate < 0 || *cfg.CommissionRate >= 1):
		return cfg, fmt.Errorf("%w: commission rate must be in [0, 1), got %v", strategy.ErrInvalidConfig, *cfg.CommissionRate)
	case cfg.End.Before(cfg.Start):
		return cfg, fmt.Errorf("%w: end %s before start %s", strategy.ErrInvalidConfig,
			cfg.End.Format("2006-01-02"), cfg.Start.Format("2006-01-02"))
	}

	def, ok := e.backtester.Registry().Get(req.StrategyName)
	if !ok {
		return cfg, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, req.StrategyName)
	}
	params, err := def.Resolve(req.Parameters)
	if err != nil {
		return cfg, err
	}
	if _, err := def.New(params); err != nil {
		return cfg, err
	}
	cfg.Parameters = params
	return cfg, nil
}

func (e *Engine) saveBooks(ctx context.Context, runID string, res *domain.BacktestResult) error {
	if err := e.runs.SaveTrades(ctx, runID, res.Trades); err != nil {
		return fmt.Errorf("saving trades: %w", err)
	}
	if err := e.runs.SaveOrders(ctx, runID, res.Orders); err != nil {
		return fmt.Errorf("saving orders: %w", err)
	}
	return nil
}

// GetRun returns a stored run with its result.
func (e *Engine) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	return e.runs.GetRun(ctx, id)
}

// ListRuns returns stored runs newest first, without results.
func (e *Engine) ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error) {
	return e.runs.ListRuns(ctx, limit, offset)
}

// DeleteRun removes a run and its books.
func (e *Engine) DeleteRun(ctx context.Context, id string) error {
	if err := e.runs.DeleteRun(ctx, id); err != nil {
		return err
	}
	e.log.Info("backtest deleted", "run_id", id)
	return nil
}

// Trades returns the trade book of a run.
func (e *Engine) Trades(ctx context.Context, id string) ([]domain.Trade, error) {
	if _, err := e.runs.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return e.runs.ListTrades(ctx, id)
}

// Orders returns the order book of a run.
func (e *Engine) Orders(ctx context.Context, id string) ([]domain.Order, error) {
	if _, err := e.runs.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return e.runs.ListOrders(ctx, id)
}

// ---------------------------------------------------------------------------
// Catalog and market data
// ---------------------------------------------------------------------------

// Strategies returns the strategy catalog.
func (e *Engine) Strategies() []strategy.Definition {
	return e.backtester.Registry().Definitions()
}

// Symbols lists the watchlist entries on exchange together with any other
// symbols that have stored bars there, sorted by symbol.
func (e *Engine) Symbols(ctx context.Context, exchange string) ([]domain.SymbolInfo, error) {
	if exchange == "" {
		exchange = store.DefaultExchange
	}
	stored, err := e.bars.ListSymbols(ctx, exchange)
	if err != nil {
		return nil, fmt.Errorf("listing symbols on %s: %w", exchange, err)
	}
	items, err := e.watchlist.ListWatchlist(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}

	bySymbol := make(map[string]*domain.SymbolInfo)
	for _, item := range items {
		if !strings.EqualFold(item.Exchange, exchange) {
			continue
		}
		bySymbol[item.Symbol] = &domain.SymbolInfo{
			Symbol:   item.Symbol,
			Exchange: exchange,
			Name:     item.Name,
			Watched:  true,
		}
	}
	for _, sym := range stored {
		info, ok := bySymbol[sym]
		if !ok {
			info = &domain.SymbolInfo{Symbol: sym, Exchange: exchange}
			bySymbol[sym] = info
		}
		info.HasBars = true
	}

	out := make([]domain.SymbolInfo, 0, len(bySymbol))
	for _, info := range bySymbol {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Bars returns stored bars for charting.
func (e *Engine) Bars(ctx context.Context, symbol, exchange string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := e.bars.ReadBars(ctx, strings.ToUpper(symbol), exchange, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Watchlist
// ---------------------------------------------------------------------------

// Watchlist returns the symbols the gatherer maintains.
func (e *Engine) Watchlist(ctx context.Context) ([]domain.WatchlistItem, error) {
	return e.watchlist.ListWatchlist(ctx)
}

// Watch adds a symbol to the watchlist.
func (e *Engine) Watch(ctx context.Context, item domain.WatchlistItem) error {
	item.Symbol = strings.ToUpper(strings.TrimSpace(item.Symbol))
	if item.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", strategy.ErrInvalidConfig)
	}
	return e.watchlist.AddSymbol(ctx, item)
}

// Unwatch removes a symbol from the watchlist.
func (e *Engine) Unwatch(ctx context.Context, symbol, exchange string) error {
	return e.watchlist.RemoveSymbol(ctx, symbol, exchange)
}
