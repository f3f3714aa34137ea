// Package store defines storage interfaces for persisting and retrieving
// bar data, backtest runs with their trade and order books, and the
// gatherer's watchlist.
package store

import (
	"context"
	"errors"
	"time"

	"quantdesk/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultExchange is used for bars and watchlist entries that carry no
// exchange.
const DefaultExchange = "us"

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage, replacing any existing
	// bars with the same symbol, exchange, and timestamp.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and exchange within
	// [start, end], in ascending time order.
	ReadBars(ctx context.Context, symbol string, exchange string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available on the given exchange.
	ListSymbols(ctx context.Context, exchange string) ([]string, error)
}

// RunStore persists backtest runs and the trade and order books they produce.
type RunStore interface {
	// CreateRun assigns run an ID and inserts it.
	CreateRun(ctx context.Context, run *domain.BacktestRun) error

	// UpdateRun persists the status, error, result, and completion time of
	// an existing run.
	UpdateRun(ctx context.Context, run *domain.BacktestRun) error

	// GetRun retrieves a single run by its ID.
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)

	// ListRuns returns runs newest first. Results are omitted from the
	// listing.
	ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error)

	// DeleteRun removes a run together with its trades and orders.
	DeleteRun(ctx context.Context, id string) error

	// SaveTrades stores the trade book of a run.
	SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error

	// ListTrades returns the trade book of a run, newest fill first.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// SaveOrders stores the order book of a run.
	SaveOrders(ctx context.Context, runID string, orders []domain.Order) error

	// ListOrders returns the order book of a run, newest order first.
	ListOrders(ctx context.Context, runID string) ([]domain.Order, error)
}

// WatchlistStore persists the set of symbols the gatherer maintains.
type WatchlistStore interface {
	// AddSymbol inserts or updates a watchlist entry.
	AddSymbol(ctx context.Context, item domain.WatchlistItem) error

	// RemoveSymbol deletes a watchlist entry.
	RemoveSymbol(ctx context.Context, symbol, exchange string) error

	// ListWatchlist returns every entry sorted by symbol.
	ListWatchlist(ctx context.Context) ([]domain.WatchlistItem, error)
}
