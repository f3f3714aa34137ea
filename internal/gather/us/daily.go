// Package us gathers daily US equity bars from the Alpaca market-data API.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/gather"
	"quantdesk/internal/store"
	"quantdesk/internal/util"
)

const dateLayout = "2006-01-02"

var (
	_ gather.Gatherer   = (*DailyBarGatherer)(nil)
	_ gather.Downloader = (*DailyBarGatherer)(nil)
)

// BarSource fetches bars for several symbols in one request.
// *marketdata.Client satisfies it.
type BarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewAlpacaClients builds the market-data and trading clients from cfg.
func NewAlpacaClients(cfg config.Alpaca) (*marketdata.Client, *alpaca.Client) {
	md := marketdata.ClientOpts{APIKey: cfg.APIKey, APISecret: cfg.APISecret}
	if cfg.DataURL != "" {
		md.BaseURL = cfg.DataURL
	}
	tr := alpaca.ClientOpts{APIKey: cfg.APIKey, APISecret: cfg.APISecret}
	if cfg.BaseURL != "" {
		tr.BaseURL = cfg.BaseURL
	}
	return marketdata.NewClient(md), alpaca.NewClient(tr)
}

// DailyOptions configures a DailyBarGatherer.
type DailyOptions struct {
	Exchange        string
	StartDate       time.Time
	Feed            string
	BatchSize       int
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	// ProgressDir holds the resume markers; <ProgressDir>/<exchange>/daily.
	ProgressDir string
	Logger      *slog.Logger
	Now         func() time.Time
}

// DailyBarGatherer keeps the bar store current for every watchlist symbol on
// one exchange. Each pass fetches from the day after a symbol's newest stored
// bar through the latest settled session.
type DailyBarGatherer struct {
	source    BarSource
	calendar  Calendar
	bars      store.BarStore
	watchlist store.WatchlistStore
	limiter   *util.RateLimiter
	opts      DailyOptions
	log       *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. A nil calendar treats
// yesterday (UTC) as the latest settled session.
func NewDailyBarGatherer(
	source BarSource,
	calendar Calendar,
	bars store.BarStore,
	watchlist store.WatchlistStore,
	opts DailyOptions,
) *DailyBarGatherer {
	if opts.Exchange == "" {
		opts.Exchange = store.DefaultExchange
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarGatherer{
		source:    source,
		calendar:  calendar,
		bars:      bars,
		watchlist: watchlist,
		limiter:   util.NewRateLimiter(opts.RateLimitPerMin),
		opts:      opts,
		log:       log.With("gatherer", "us-daily", "exchange", opts.Exchange),
	}
}

// FromConfig builds a DailyBarGatherer on the Alpaca clients described by
// cfg. Resume markers live under the data directory.
func FromConfig(cfg *config.Config, bars store.BarStore, watchlist store.WatchlistStore, log *slog.Logger) (*DailyBarGatherer, error) {
	start, err := time.Parse(dateLayout, cfg.Gather.StartDate)
	if err != nil {
		return nil, fmt.Errorf("gather.start_date: %w", err)
	}
	md, trading := NewAlpacaClients(cfg.Alpaca)
	return NewDailyBarGatherer(md, trading, bars, watchlist, DailyOptions{
		Exchange:        cfg.Gather.Exchange,
		StartDate:       start,
		Feed:            cfg.Alpaca.Feed,
		BatchSize:       cfg.Gather.BatchSize,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxAttempts:     cfg.Gather.MaxAttempts,
		ProgressDir:     cfg.Storage.DataDir,
		Logger:          log,
	}), nil
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run performs one pass. It is idempotent within a session and resumes an
// interrupted pass without refetching symbols that came back empty.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	end, err := g.endDate()
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endStr := end.Format(dateLayout)

	tracker, err := newProgressTracker(filepath.Join(g.opts.ProgressDir, g.opts.Exchange, "daily"))
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endStr {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	pending, err := g.pending(ctx, tracker, end)
	if err != nil {
		return err
	}
	batches := batchByStart(pending, g.opts.BatchSize)
	g.log.Info("starting pass", "endDate", endStr, "symbols", len(pending), "batches", len(batches))

	var written int
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := g.gatherBatch(ctx, tracker, batch, end)
		if err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		written += n
	}

	if err := tracker.MarkCompleted(endStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("pass complete", "endDate", endStr, "bars", written)
	return nil
}

func (g *DailyBarGatherer) endDate() (time.Time, error) {
	now := g.opts.Now()
	if g.calendar != nil {
		return LatestFinishedTradingDay(g.calendar, now)
	}
	y, m, d := now.UTC().AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// symbolStart is a symbol still missing bars, with the first day to fetch.
type symbolStart struct {
	symbol string
	from   time.Time
}

// pending returns the watchlist symbols on the gatherer's exchange that lack
// bars through end.
func (g *DailyBarGatherer) pending(ctx context.Context, tracker *progressTracker, end time.Time) ([]symbolStart, error) {
	items, err := g.watchlist.ListWatchlist(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}

	var out []symbolStart
	for _, item := range items {
		if !strings.EqualFold(item.Exchange, g.opts.Exchange) || tracker.IsTriedEmpty(item.Symbol) {
			continue
		}
		existing, err := g.bars.ReadBars(ctx, item.Symbol, g.opts.Exchange, g.opts.StartDate, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("reading stored bars for %s: %w", item.Symbol, err)
		}
		from := g.opts.StartDate
		if n := len(existing); n > 0 {
			y, m, d := existing[n-1].Timestamp.UTC().Date()
			from = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
		}
		if from.After(end) {
			continue
		}
		out = append(out, symbolStart{symbol: item.Symbol, from: from})
	}
	return out, nil
}

// batchByStart groups symbols sharing a start date into batches of at most
// size symbols, so no request refetches history another symbol already has.
func batchByStart(pending []symbolStart, size int) [][]symbolStart {
	sorted := append([]symbolStart(nil), pending...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].from.Equal(sorted[j].from) {
			return sorted[i].from.Before(sorted[j].from)
		}
		return sorted[i].symbol < sorted[j].symbol
	})

	var batches [][]symbolStart
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && j-i < size && sorted[j].from.Equal(sorted[i].from) {
			j++
		}
		batches = append(batches, sorted[i:j])
		i = j
	}
	return batches
}

func (g *DailyBarGatherer) gatherBatch(ctx context.Context, tracker *progressTracker, batch []symbolStart, end time.Time) (int, error) {
	symbols := make([]string, len(batch))
	for i, s := range batch {
		symbols[i] = s.symbol
	}

	raw, err := g.fetch(ctx, symbols, batch[0].from, end)
	if err != nil {
		return 0, err
	}
	bars, empty, err := g.save(ctx, symbols, raw)
	if err != nil {
		return 0, err
	}
	if len(empty) > 0 {
		if err := tracker.MarkEmpty(empty); err != nil {
			g.log.Error("marking empty failed", "error", err)
		}
	}

	g.log.Info("batch done", "from", batch[0].from.Format(dateLayout), "symbols", len(symbols), "bars", len(bars), "empty", len(empty))
	return len(bars), nil
}

// fetch requests daily bars for symbols over [from, through end's session],
// rate-limited and retried.
func (g *DailyBarGatherer) fetch(ctx context.Context, symbols []string, from, end time.Time) (map[string][]marketdata.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     from,
		End:       end.Add(24*time.Hour - time.Second),
		Feed:      marketdata.Feed(g.opts.Feed),
	}

	var raw map[string][]marketdata.Bar
	err := util.Retry(ctx, g.opts.MaxAttempts, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = g.source.GetMultiBars(symbols, req)
		if err != nil {
			g.log.Warn("GetMultiBars failed", "symbols", len(symbols), "error", err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	return raw, nil
}

// save writes the converted bars and returns them with the symbols that
// came back empty.
func (g *DailyBarGatherer) save(ctx context.Context, symbols []string, raw map[string][]marketdata.Bar) ([]domain.Bar, []string, error) {
	bars := ConvertBars(raw, g.opts.Exchange)
	if len(bars) > 0 {
		if err := g.bars.WriteBars(ctx, bars); err != nil {
			return nil, nil, fmt.Errorf("writing bars: %w", err)
		}
	}
	var empty []string
	for _, sym := range symbols {
		if len(raw[sym]) == 0 {
			empty = append(empty, sym)
		}
	}
	return bars, empty, nil
}

// ---------------------------------------------------------------------------
// On-demand download
// ---------------------------------------------------------------------------

// Download fetches daily bars for symbols over r regardless of what the
// store already holds, replacing stored bars on the same days. A zero
// r.Start means the configured start date and a zero r.End the latest
// settled session. A batch that still fails after retries is reported per
// symbol and the rest continue; only cancellation and storage errors abort.
func (g *DailyBarGatherer) Download(ctx context.Context, symbols []string, r gather.DateRange) (*gather.DownloadResult, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to download")
	}
	if r.Start.IsZero() {
		r.Start = g.opts.StartDate
	}
	if r.End.IsZero() {
		end, err := g.endDate()
		if err != nil {
			return nil, fmt.Errorf("determining end date: %w", err)
		}
		r.End = end
	}
	if r.End.Before(r.Start) {
		return nil, fmt.Errorf("end %s before start %s", r.End.Format(dateLayout), r.Start.Format(dateLayout))
	}

	res := &gather.DownloadResult{
		Exchange:   g.opts.Exchange,
		Start:      r.Start,
		End:        r.End,
		Status:     gather.DownloadSuccess,
		Downloaded: []string{},
		Empty:      []string{},
		Failed:     []gather.DownloadFailure{},
	}
	for i := 0; i < len(symbols); i += g.opts.BatchSize {
		batch := symbols[i:min(i+g.opts.BatchSize, len(symbols))]

		raw, err := g.fetch(ctx, batch, r.Start, r.End)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			for _, sym := range batch {
				res.Failed = append(res.Failed, gather.DownloadFailure{Symbol: sym, Error: err.Error()})
			}
			continue
		}
		bars, empty, err := g.save(ctx, batch, raw)
		if err != nil {
			return nil, err
		}
		res.Bars += len(bars)
		res.Empty = append(res.Empty, empty...)
		for _, sym := range batch {
			if len(raw[sym]) > 0 {
				res.Downloaded = append(res.Downloaded, sym)
			}
		}
	}
	if len(res.Failed) > 0 {
		res.Status = gather.DownloadPartial
	}

	g.log.Info("download done",
		"symbols", len(symbols),
		"bars", res.Bars,
		"empty", len(res.Empty),
		"failed", len(res.Failed),
		"start", r.Start.Format(dateLayout),
		"end", r.End.Format(dateLayout),
	)
	return res, nil
}

// normalizeSymbols upper-cases, trims and deduplicates symbols, keeping the
// first occurrence order.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ConvertBars flattens an Alpaca multi-bar response into domain bars tagged
// with exchange, ordered by symbol then time.
func ConvertBars(raw map[string][]marketdata.Bar, exchange string) []domain.Bar {
	symbols := make([]string, 0, len(raw))
	for sym := range raw {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var bars []domain.Bar
	for _, sym := range symbols {
		for _, ab := range raw[sym] {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(sym),
				Exchange:   exchange,
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars
}
