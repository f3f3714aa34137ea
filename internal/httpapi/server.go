package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/gather"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
)

const (
	defaultPageSize = 50
	maxBodyBytes    = 1 << 20
)

// Service is the backtest functionality the HTTP API exposes.
// *engine.Engine implements it.
type Service interface {
	RunBacktest(ctx context.Context, req engine.Request) (*domain.BacktestRun, error)
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error)
	DeleteRun(ctx context.Context, id string) error
	Trades(ctx context.Context, id string) ([]domain.Trade, error)
	Orders(ctx context.Context, id string) ([]domain.Order, error)
	Strategies() []strategy.Definition
	Symbols(ctx context.Context, exchange string) ([]domain.SymbolInfo, error)
	Bars(ctx context.Context, symbol, exchange string, start, end time.Time) ([]domain.Bar, error)
	Chart(ctx context.Context, req engine.ChartRequest) (*engine.Chart, error)
	Timeframes() []engine.Timeframe
	Watchlist(ctx context.Context) ([]domain.WatchlistItem, error)
	Watch(ctx context.Context, item domain.WatchlistItem) error
	Unwatch(ctx context.Context, symbol, exchange string) error
}

var _ Service = (*engine.Engine)(nil)

// Server serves the quantdesk HTTP API.
type Server struct {
	svc        Service
	downloader gather.Downloader
	log        *slog.Logger
}

// NewServer creates a new HTTP API server backed by svc.
func NewServer(svc Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, log: log.With("component", "httpapi")}
}

// WithDownloader enables POST /api/download. Without one the route
// answers 503.
func (s *Server) WithDownloader(d gather.Downloader) *Server {
	s.downloader = d
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/bars/{symbol}", s.handleBars)
	mux.HandleFunc("GET /api/charts/{symbol}", s.handleChart)
	mux.HandleFunc("GET /api/timeframes", s.handleTimeframes)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	mux.HandleFunc("POST /api/backtests", s.handleCreateBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)
	mux.HandleFunc("DELETE /api/backtests/{id}", s.handleDeleteBacktest)
	mux.HandleFunc("GET /api/backtests/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/backtests/{id}/orders", s.handleOrders)
}

// Handler returns an http.Handler with CORS and request logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, ErrorResponse{Error: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, strategy.ErrInvalidParameter),
		errors.Is(err, strategy.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, StrategiesResponse{Strategies: s.svc.Strategies()})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	exchange := exchangeParam(r)
	symbols, err := s.svc.Symbols(r.Context(), exchange)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, SymbolsResponse{Exchange: exchange, Symbols: symbols})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	exchange := exchangeParam(r)

	q := r.URL.Query()
	start, err := parseDate(q.Get("start"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(q.Get("end"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := s.svc.Bars(r.Context(), symbol, exchange, start, end)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, BarsResponse{Symbol: symbol, Exchange: exchange, Bars: bars})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := engine.ChartRequest{
		Symbol:   r.PathValue("symbol"),
		Exchange: exchangeParam(r),
	}
	var err error
	if req.Start, err = parseDate(q.Get("start"), time.Time{}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.End, err = parseDate(q.Get("end"), time.Time{}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.End.IsZero() {
		req.End = req.End.Add(24*time.Hour - time.Nanosecond)
	}
	if req.EMAPeriod, err = intParam(r, "ema", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RSIPeriod, err = intParam(r, "rsi", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chart, err := s.svc.Chart(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, chart)
}

func (s *Server) handleTimeframes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, TimeframesResponse{Timeframes: s.svc.Timeframes()})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.downloader == nil {
		writeError(w, http.StatusServiceUnavailable, "bar download is not configured")
		return
	}

	var body DownloadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(body.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}
	var (
		rng gather.DateRange
		err error
	)
	if rng.Start, err = parseDate(body.StartDate, time.Time{}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rng.End, err = parseDate(body.EndDate, time.Time{}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		writeError(w, http.StatusBadRequest, "end_date before start_date")
		return
	}

	res, err := s.downloader.Download(r.Context(), body.Symbols, rng)
	if err != nil {
		s.log.Error("download failed", "symbols", len(body.Symbols), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Watchlist(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, WatchlistResponse{Items: items})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	item := domain.WatchlistItem{
		Symbol:   strings.ToUpper(r.PathValue("symbol")),
		Exchange: exchangeParam(r),
		Name:     r.URL.Query().Get("name"),
	}
	if err := s.svc.Watch(r.Context(), item); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.svc.Unwatch(r.Context(), symbol, exchangeParam(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateBacktest(w http.ResponseWriter, r *http.Request) {
	var body BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req, err := toEngineRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.svc.RunBacktest(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if run != nil {
			status = http.StatusInternalServerError
		}
		if status == http.StatusInternalServerError {
			s.log.Error("backtest failed", "error", err)
		}
		writeJSONStatus(w, status, ErrorResponse{Error: err.Error(), Run: run})
		return
	}
	writeJSONStatus(w, http.StatusCreated, run)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := s.svc.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, RunsResponse{Runs: runs, Limit: limit, Offset: offset})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleDeleteBacktest(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := s.svc.Trades(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, TradesResponse{RunID: id, Trades: trades})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orders, err := s.svc.Orders(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, OrdersResponse{RunID: id, Orders: orders})
}

// ---------------------------------------------------------------------------
// Parameter helpers
// ---------------------------------------------------------------------------

func toEngineRequest(body BacktestRequest) (engine.Request, error) {
	start, err := parseDate(body.StartDate, time.Time{})
	if err != nil {
		return engine.Request{}, err
	}
	end, err := parseDate(body.EndDate, time.Time{})
	if err != nil {
		return engine.Request{}, err
	}
	if !end.IsZero() {
		// Include every bar stamped on the end date.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return engine.Request{
		Name:           body.Name,
		StrategyName:   body.StrategyName,
		Symbol:         body.Symbol,
		Exchange:       body.Exchange,
		Start:          start,
		End:            end,
		InitialCapital: body.InitialCapital,
		Parameters:     body.Parameters,
		CommissionRate: body.CommissionRate,
	}, nil
}

func parseDate(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func exchangeParam(r *http.Request) string {
	if v := r.URL.Query().Get("exchange"); v != "" {
		return v
	}
	return store.DefaultExchange
}
