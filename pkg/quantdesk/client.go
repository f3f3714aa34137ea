// Package quantdesk is a Go client for the quantdesk-server REST API.
package quantdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/gather"
	"quantdesk/internal/httpapi"
	"quantdesk/internal/strategy"
)

// Wire types returned by the API.
type (
	Run             = domain.BacktestRun
	Result          = domain.BacktestResult
	Trade           = domain.Trade
	Order           = domain.Order
	Bar             = domain.Bar
	WatchlistItem   = domain.WatchlistItem
	Strategy        = strategy.Definition
	BacktestRequest = httpapi.BacktestRequest
	SymbolInfo      = domain.SymbolInfo
	Chart           = engine.Chart
	Timeframe       = engine.Timeframe
	DownloadResult  = gather.DownloadResult
)

// DateLayout formats the dates of a BacktestRequest.
const DateLayout = httpapi.DateLayout

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Run is the stored run when a backtest was recorded but failed.
	Run *Run
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantdesk: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the quantdesk-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantdesk API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// ListStrategies returns the strategy catalog.
func (c *Client) ListStrategies(ctx context.Context) ([]Strategy, error) {
	var out httpapi.StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// RunBacktest submits a backtest and waits for the completed run.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/api/backtests", nil, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches a stored run with its results.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns a page of stored runs, newest first, without results.
func (c *Client) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out httpapi.RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/backtests", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// DeleteRun removes a stored run and its records.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/backtests/"+url.PathEscape(id), nil, nil, nil)
}

// Trades returns the trade book of a run.
func (c *Client) Trades(ctx context.Context, id string) ([]Trade, error) {
	var out httpapi.TradesResponse
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id)+"/trades", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Trades, nil
}

// Orders returns the order book of a run.
func (c *Client) Orders(ctx context.Context, id string) ([]Order, error) {
	var out httpapi.OrdersResponse
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id)+"/orders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// GetBars retrieves daily bars for a symbol. Zero times leave the range open.
func (c *Client) GetBars(ctx context.Context, symbol, exchange string, start, end time.Time) ([]Bar, error) {
	q := url.Values{}
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	if !start.IsZero() {
		q.Set("start", start.Format(DateLayout))
	}
	if !end.IsZero() {
		q.Set("end", end.Format(DateLayout))
	}

	var out httpapi.BarsResponse
	if err := c.do(ctx, http.MethodGet, "/api/bars/"+url.PathEscape(symbol), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

// Symbols lists the watched or stored symbols on exchange.
func (c *Client) Symbols(ctx context.Context, exchange string) ([]SymbolInfo, error) {
	q := url.Values{}
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	var out httpapi.SymbolsResponse
	if err := c.do(ctx, http.MethodGet, "/api/symbols", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Symbols, nil
}

// ChartOptions selects the range and overlays of a chart. Zero values take
// the server defaults.
type ChartOptions struct {
	Exchange   string
	Start, End time.Time
	EMAPeriod  int
	RSIPeriod  int
}

// Chart retrieves daily bars for symbol with EMA and RSI overlays.
func (c *Client) Chart(ctx context.Context, symbol string, opts ChartOptions) (*Chart, error) {
	q := url.Values{}
	if opts.Exchange != "" {
		q.Set("exchange", opts.Exchange)
	}
	if !opts.Start.IsZero() {
		q.Set("start", opts.Start.Format(DateLayout))
	}
	if !opts.End.IsZero() {
		q.Set("end", opts.End.Format(DateLayout))
	}
	if opts.EMAPeriod > 0 {
		q.Set("ema", strconv.Itoa(opts.EMAPeriod))
	}
	if opts.RSIPeriod > 0 {
		q.Set("rsi", strconv.Itoa(opts.RSIPeriod))
	}

	var out Chart
	if err := c.do(ctx, http.MethodGet, "/api/charts/"+url.PathEscape(symbol), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Timeframes lists the chart intervals the server offers.
func (c *Client) Timeframes(ctx context.Context) ([]Timeframe, error) {
	var out httpapi.TimeframesResponse
	if err := c.do(ctx, http.MethodGet, "/api/timeframes", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Timeframes, nil
}

// Download asks the server to fetch daily bars for symbols now. Zero times
// take the server's gather start date and latest settled session.
func (c *Client) Download(ctx context.Context, symbols []string, start, end time.Time) (*DownloadResult, error) {
	in := httpapi.DownloadRequest{Symbols: symbols}
	if !start.IsZero() {
		in.StartDate = start.Format(DateLayout)
	}
	if !end.IsZero() {
		in.EndDate = end.Format(DateLayout)
	}
	var out DownloadResult
	if err := c.do(ctx, http.MethodPost, "/api/download", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchlist returns the gatherer watchlist.
func (c *Client) Watchlist(ctx context.Context) ([]WatchlistItem, error) {
	var out httpapi.WatchlistResponse
	if err := c.do(ctx, http.MethodGet, "/api/watchlist", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Watch adds a symbol to the watchlist.
func (c *Client) Watch(ctx context.Context, symbol, exchange, name string) error {
	q := url.Values{}
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	if name != "" {
		q.Set("name", name)
	}
	return c.do(ctx, http.MethodPut, "/api/watchlist/"+url.PathEscape(symbol), q, nil, nil)
}

// Unwatch removes a symbol from the watchlist.
func (c *Client) Unwatch(ctx context.Context, symbol, exchange string) error {
	q := url.Values{}
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	return c.do(ctx, http.MethodDelete, "/api/watchlist/"+url.PathEscape(symbol), q, nil, nil)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Run: e.Run}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
