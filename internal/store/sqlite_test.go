package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/domain"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return store
}

func newTestRun(created time.Time) *domain.BacktestRun {
	return &domain.BacktestRun{
		Name:           "crossover test",
		StrategyName:   "sma_crossover",
		Symbol:         "AAPL",
		Exchange:       "NASDAQ",
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
		Parameters:     map[string]float64{"short_window": 10, "long_window": 30},
		Status:         domain.RunStatusRunning,
		CreatedAt:      created,
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	store := openTestSQLite(t)

	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	run := newTestRun(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if len(run.ID) != 36 {
		t.Fatalf("CreateRun assigned ID %q, want a UUID", run.ID)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunStatusRunning || got.Result != nil {
		t.Errorf("fresh run = status %q result %v, want running with no result", got.Status, got.Result)
	}
	if got.Parameters["long_window"] != 30 {
		t.Errorf("Parameters = %v, want long_window 30", got.Parameters)
	}
	if !got.Start.Equal(run.Start) || !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("times round-tripped as start %v created %v", got.Start, got.CreatedAt)
	}

	completed := time.Date(2024, 6, 1, 12, 0, 5, 0, time.UTC)
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &completed
	run.Result = &domain.BacktestResult{
		TotalReturnPct: 12.5,
		TotalTrades:    2,
		SharpeRatio:    1.1,
		EquityCurve: []domain.PortfolioSnapshot{
			{Timestamp: run.Start, Cash: 100000, TotalEquity: 100000},
		},
	}
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun after update: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if got.Result == nil || got.Result.TotalReturnPct != 12.5 || len(got.Result.EquityCurve) != 1 {
		t.Errorf("Result = %+v, want the stored result", got.Result)
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	store := openTestSQLite(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}

	err = store.UpdateRun(context.Background(), &domain.BacktestRun{ID: "missing", Status: domain.RunStatusFailed})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run := newTestRun(base.Add(time.Duration(i) * time.Hour))
		run.Result = &domain.BacktestResult{TotalTrades: i}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns returned %d runs, want 3", len(runs))
	}
	if runs[0].ID != ids[2] || runs[2].ID != ids[0] {
		t.Errorf("ListRuns not newest first: got %s..%s", runs[0].ID, runs[2].ID)
	}
	if runs[0].Result != nil {
		t.Error("ListRuns included results")
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRuns(1, 1): %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("ListRuns(1, 1) = %v, want [%s]", page, ids[1])
	}
}

func TestSQLiteStoreTradesAndOrders(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	run := newTestRun(time.Now().UTC())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{ID: "BUY_1", Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 100,
			RequestedPrice: 150, Status: domain.OrderStatusFilled, Timestamp: ts, FilledQty: 100, FilledPrice: 150},
		{ID: "SELL_2", Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: 100,
			RequestedPrice: 160, Status: domain.OrderStatusFilled, Timestamp: ts.AddDate(0, 0, 5), FilledQty: 100, FilledPrice: 160},
	}
	trades := []domain.Trade{
		{OrderID: "BUY_1", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 100, Price: 150, Commission: 15, Timestamp: ts},
		{OrderID: "SELL_2", Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 100, Price: 160, Commission: 16, RealizedPnL: 1000, Timestamp: ts.AddDate(0, 0, 5)},
	}
	if err := store.SaveOrders(ctx, run.ID, orders); err != nil {
		t.Fatalf("SaveOrders: %v", err)
	}
	if err := store.SaveTrades(ctx, run.ID, trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}

	gotOrders, err := store.ListOrders(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(gotOrders) != 2 || gotOrders[0] != orders[1] || gotOrders[1] != orders[0] {
		t.Errorf("ListOrders = %+v, want newest first", gotOrders)
	}

	gotTrades, err := store.ListTrades(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(gotTrades) != 2 || gotTrades[0] != trades[1] || gotTrades[1] != trades[0] {
		t.Errorf("ListTrades = %+v, want newest first", gotTrades)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after delete error = %v, want ErrNotFound", err)
	}
	left, err := store.ListTrades(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListTrades after delete: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("DeleteRun left %d trades", len(left))
	}
	if err := store.DeleteRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreWatchlist(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	for _, item := range []domain.WatchlistItem{
		{Symbol: "msft", Name: "Microsoft"},
		{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple"},
		{Symbol: "AAPL", Exchange: "NASDAQ", Name: "Apple Inc."},
	} {
		if err := store.AddSymbol(ctx, item); err != nil {
			t.Fatalf("AddSymbol(%s): %v", item.Symbol, err)
		}
	}

	items, err := store.ListWatchlist(ctx)
	if err != nil {
		t.Fatalf("ListWatchlist: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListWatchlist returned %d items, want 2", len(items))
	}
	if items[0].Symbol != "AAPL" || items[0].Name != "Apple Inc." {
		t.Errorf("items[0] = %+v, want upserted AAPL", items[0])
	}
	if items[1].Symbol != "MSFT" || items[1].Exchange != DefaultExchange {
		t.Errorf("items[1] = %+v, want MSFT on %s", items[1], DefaultExchange)
	}

	if err := store.RemoveSymbol(ctx, "AAPL", "NASDAQ"); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	if err := store.RemoveSymbol(ctx, "AAPL", "NASDAQ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveSymbol error = %v, want ErrNotFound", err)
	}
}
