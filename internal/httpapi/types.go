// Package httpapi provides the HTTP REST API for quantdesk: the strategy
// catalog, backtest submission and results, stored bars for charting, and
// the gatherer watchlist.
package httpapi

import (
	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/strategy"
)

// DateLayout is the wire format of calendar dates in requests.
const DateLayout = "2006-01-02"

// BacktestRequest is the JSON body of POST /api/backtests. Dates use
// DateLayout; end_date defaults to today.
type BacktestRequest struct {
	Name           string             `json:"name"`
	StrategyName   string             `json:"strategy_name"`
	Symbol         string             `json:"symbol"`
	Exchange       string             `json:"exchange"`
	StartDate      string             `json:"start_date"`
	EndDate        string             `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	Parameters     map[string]float64 `json:"parameters"`
	CommissionRate *float64           `json:"commission_rate,omitempty"`
}

// StrategiesResponse lists the strategy catalog.
type StrategiesResponse struct {
	Strategies []strategy.Definition `json:"strategies"`
}

// SymbolsResponse lists the watched or stored symbols on one exchange.
type SymbolsResponse struct {
	Exchange string              `json:"exchange"`
	Symbols  []domain.SymbolInfo `json:"symbols"`
}

// RunsResponse is a page of stored runs.
type RunsResponse struct {
	Runs   []domain.BacktestRun `json:"runs"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// TradesResponse is the trade book of a run.
type TradesResponse struct {
	RunID  string         `json:"run_id"`
	Trades []domain.Trade `json:"trades"`
}

// OrdersResponse is the order book of a run.
type OrdersResponse struct {
	RunID  string         `json:"run_id"`
	Orders []domain.Order `json:"orders"`
}

// BarsResponse carries chart data for one symbol.
type BarsResponse struct {
	Symbol   string       `json:"symbol"`
	Exchange string       `json:"exchange"`
	Bars     []domain.Bar `json:"bars"`
}

// TimeframesResponse lists the chart intervals.
type TimeframesResponse struct {
	Timeframes []engine.Timeframe `json:"timeframes"`
}

// DownloadRequest is the JSON body of POST /api/download. Empty dates take
// the gatherer's start date and the latest settled session.
type DownloadRequest struct {
	Symbols   []string `json:"symbols"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// WatchlistResponse lists the watchlist.
type WatchlistResponse struct {
	Items []domain.WatchlistItem `json:"items"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Run is set when a backtest was recorded but failed during execution.
	Run *domain.BacktestRun `json:"run,omitempty"`
}
