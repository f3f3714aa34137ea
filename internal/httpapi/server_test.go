package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/gather"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, d gather.Downloader) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	bars := store.NewParquetStore(filepath.Join(dir, "bars"))
	db, err := store.NewSQLiteStore(filepath.Join(dir, "quantdesk.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Flat, ramp, collapse: one SMA(5/20) round trip.
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seed := make([]domain.Bar, 60)
	for i := range seed {
		c := 100.0
		switch {
		case i >= 40:
			c = 20
		case i >= 25:
			c = 100 + float64(i-24)*2
		}
		seed[i] = domain.Bar{Symbol: "AAPL", Timestamp: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	if err := bars.WriteBars(context.Background(), seed); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	bt := strategy.NewBacktester(bars, builtins.NewRegistry(), strategy.DefaultOptions())
	eng := engine.NewEngine(bt, bars, db, db, engine.Options{})

	api := NewServer(eng, nil)
	if d != nil {
		api.WithDownloader(d)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestStrategies(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/strategies", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want *", got)
	}

	var body struct {
		Strategies []struct {
			Name       string `json:"name"`
			Parameters []struct {
				Name    string  `json:"name"`
				Type    string  `json:"type"`
				Default float64 `json:"default"`
			} `json:"parameters"`
		} `json:"strategies"`
	}
	decode(t, resp, &body)
	if len(body.Strategies) != 3 {
		t.Fatalf("got %d strategies, want 3", len(body.Strategies))
	}
	if body.Strategies[2].Name != "sma_crossover" || body.Strategies[2].Parameters[0].Default != 20 {
		t.Errorf("unexpected catalog entry: %+v", body.Strategies[2])
	}
}

func TestBacktestLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/backtests", BacktestRequest{
		StrategyName: "sma_crossover",
		Symbol:       "aapl",
		StartDate:    "2024-01-01",
		EndDate:      "2024-12-31",
		Parameters:   map[string]float64{"short_window": 5, "long_window": 20},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	var run domain.BacktestRun
	decode(t, resp, &run)
	if run.ID == "" || run.Status != domain.RunStatusCompleted {
		t.Fatalf("run = %+v, want completed with an id", run)
	}
	if run.Result == nil || run.Result.TotalTrades != 2 {
		t.Fatalf("result = %+v, want 2 trades", run.Result)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/backtests/"+run.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET run status = %d, want 200", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/backtests/"+run.ID+"/trades", nil)
	var trades TradesResponse
	decode(t, resp, &trades)
	if len(trades.Trades) != 2 || trades.Trades[0].Side != domain.OrderSideSell {
		t.Errorf("trades = %+v, want sell then buy", trades.Trades)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/backtests/"+run.ID+"/orders", nil)
	var orders OrdersResponse
	decode(t, resp, &orders)
	if len(orders.Orders) != 2 || orders.Orders[1].ID != "BUY_1" {
		t.Errorf("orders = %+v, want SELL_2, BUY_1", orders.Orders)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/backtests?limit=5", nil)
	var page RunsResponse
	decode(t, resp, &page)
	if len(page.Runs) != 1 || page.Limit != 5 {
		t.Errorf("page = %+v, want one run with limit 5", page)
	}

	resp = do(t, http.MethodDelete, srv.URL+"/api/backtests/"+run.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/backtests/"+run.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET deleted run status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateBacktestRejects(t *testing.T) {
	srv := newTestServer(t)

	cases := map[string]BacktestRequest{
		"unknown strategy": {StrategyName: "macd", Symbol: "AAPL", StartDate: "2024-01-01"},
		"bad parameter":    {StrategyName: "rsi_strategy", Symbol: "AAPL", StartDate: "2024-01-01", Parameters: map[string]float64{"rsi_period": 2}},
		"bad date":         {StrategyName: "rsi_strategy", Symbol: "AAPL", StartDate: "01/02/2024"},
		"missing symbol":   {StrategyName: "rsi_strategy", StartDate: "2024-01-01"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/backtests", req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body ErrorResponse
			decode(t, resp, &body)
			if body.Error == "" {
				t.Error("error body missing message")
			}
		})
	}

	resp := do(t, http.MethodPost, srv.URL+"/api/backtests", map[string]any{"strategy": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp.StatusCode)
	}
}

func TestSymbolsAndBars(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/symbols", nil)
	var symbols SymbolsResponse
	decode(t, resp, &symbols)
	if len(symbols.Symbols) != 1 || symbols.Symbols[0].Symbol != "AAPL" || !symbols.Symbols[0].HasBars {
		t.Errorf("symbols = %+v, want [AAPL with bars]", symbols.Symbols)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/bars/aapl?start=2024-01-02&end=2024-01-06", nil)
	var bars BarsResponse
	decode(t, resp, &bars)
	if len(bars.Bars) != 5 {
		t.Errorf("got %d bars, want 5", len(bars.Bars))
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/bars/aapl?start=yesterday", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad start status = %d, want 400", resp.StatusCode)
	}
}

func TestWatchlistRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/watchlist/nvda?name=Nvidia", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/watchlist", nil)
	var wl WatchlistResponse
	decode(t, resp, &wl)
	if len(wl.Items) != 1 || wl.Items[0].Symbol != "NVDA" || wl.Items[0].Name != "Nvidia" {
		t.Errorf("watchlist = %+v, want NVDA", wl.Items)
	}

	resp = do(t, http.MethodDelete, srv.URL+"/api/watchlist/NVDA", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}
	resp = do(t, http.MethodDelete, srv.URL+"/api/watchlist/NVDA", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodOptions, srv.URL+"/api/backtests", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
}

func TestChartRoute(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/charts/aapl?start=2024-01-02&end=2024-03-01&ema=5&rsi=14", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var chart engine.Chart
	decode(t, resp, &chart)
	if len(chart.Bars) != 60 || len(chart.EMA) != 56 || len(chart.RSI) != 46 {
		t.Errorf("chart sizes = %d/%d/%d, want 60/56/46", len(chart.Bars), len(chart.EMA), len(chart.RSI))
	}
	if chart.EMAPeriod != 5 || chart.Interval != "D" {
		t.Errorf("chart = %+v, want ema 5 on D", chart)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/charts/aapl?ema=0&rsi=900", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad rsi status = %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/timeframes", nil)
	var tf TimeframesResponse
	decode(t, resp, &tf)
	if len(tf.Timeframes) != 1 || tf.Timeframes[0].Value != "D" {
		t.Errorf("timeframes = %+v, want [D]", tf.Timeframes)
	}
}

type fakeDownloader struct {
	symbols []string
	rng     gather.DateRange
	err     error
}

func (f *fakeDownloader) Download(_ context.Context, symbols []string, r gather.DateRange) (*gather.DownloadResult, error) {
	f.symbols, f.rng = symbols, r
	if f.err != nil {
		return nil, f.err
	}
	return &gather.DownloadResult{
		Exchange: "us", Start: r.Start, End: r.End, Status: gather.DownloadSuccess,
		Downloaded: symbols, Empty: []string{}, Failed: []gather.DownloadFailure{}, Bars: 7,
	}, nil
}

func TestDownloadRoute(t *testing.T) {
	resp := do(t, http.MethodPost, newTestServer(t).URL+"/api/download", DownloadRequest{Symbols: []string{"AAPL"}})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", resp.StatusCode)
	}

	d := &fakeDownloader{}
	srv := newTestServerWith(t, d)

	resp = do(t, http.MethodPost, srv.URL+"/api/download", DownloadRequest{
		Symbols: []string{"AAPL", "MSFT"}, StartDate: "2024-01-02", EndDate: "2024-01-31",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res gather.DownloadResult
	decode(t, resp, &res)
	if res.Bars != 7 || len(res.Downloaded) != 2 {
		t.Errorf("result = %+v", res)
	}
	if !d.rng.Start.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) || !d.rng.End.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %+v", d.rng)
	}

	for name, body := range map[string]DownloadRequest{
		"no symbols":       {},
		"bad date":         {Symbols: []string{"AAPL"}, StartDate: "jan"},
		"end before start": {Symbols: []string{"AAPL"}, StartDate: "2024-02-01", EndDate: "2024-01-01"},
	} {
		resp = do(t, http.MethodPost, srv.URL+"/api/download", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}

	d.err = errors.New("alpaca down")
	resp = do(t, http.MethodPost, srv.URL+"/api/download", DownloadRequest{Symbols: []string{"AAPL"}})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("failing download status = %d, want 502", resp.StatusCode)
	}
}
