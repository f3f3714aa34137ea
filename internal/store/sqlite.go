package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"quantdesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ WatchlistStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore and WatchlistStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtests (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	strategy_name   TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	exchange        TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	initial_capital REAL NOT NULL,
	parameters      TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	results         TEXT,
	created_at      TEXT NOT NULL,
	completed_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_backtests_created ON backtests(created_at);

CREATE TABLE IF NOT EXISTS backtest_trades (
	run_id     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	order_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   REAL NOT NULL,
	price      REAL NOT NULL,
	commission REAL NOT NULL,
	pnl        REAL NOT NULL,
	timestamp  TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS backtest_orders (
	run_id          TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	order_id        TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	quantity        REAL NOT NULL,
	price           REAL NOT NULL,
	status          TEXT NOT NULL,
	filled_quantity REAL NOT NULL,
	filled_price    REAL NOT NULL,
	timestamp       TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS watchlist (
	symbol   TEXT NOT NULL,
	exchange TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	added_at TEXT NOT NULL,
	PRIMARY KEY (symbol, exchange)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// CreateRun assigns a new UUID to run, stamps CreatedAt when unset, and
// inserts it.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.BacktestRun) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generating run id: %w", err)
	}
	run.ID = id.String()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}

	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	results, err := encodeResult(run.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtests (id, name, strategy_name, symbol, exchange, start_date, end_date,
			initial_capital, parameters, status, error, results, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.StrategyName, run.Symbol, run.Exchange,
		formatTime(run.Start), formatTime(run.End), run.InitialCapital, string(params),
		string(run.Status), run.Error, results, formatTime(run.CreatedAt), formatTimePtr(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun persists the mutable fields of an existing run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.BacktestRun) error {
	results, err := encodeResult(run.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtests SET status = ?, error = ?, results = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.Error, results, formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	return requireRow(res, run.ID)
}

// GetRun retrieves a single run, including its result, by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, strategy_name, symbol, exchange, start_date, end_date, initial_capital,
			parameters, status, error, results, created_at, completed_at
		FROM backtests WHERE id = ?`, id)

	run, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first without their results. A non-positive
// limit returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, strategy_name, symbol, exchange, start_date, end_date, initial_capital,
			parameters, status, error, NULL, created_at, completed_at
		FROM backtests ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.BacktestRun{}
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its trade and order books in one transaction.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"backtest_trades", "backtest_orders"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("deleting %s of run %s: %w", table, id, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM backtests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveTrades replaces the trade book of a run.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM backtest_trades WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clearing trades of run %s: %w", runID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, seq, order_id, symbol, side, quantity, price,
			commission, pnl, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, i, t.OrderID, t.Symbol, string(t.Side), t.Qty,
			t.Price, t.Commission, t.RealizedPnL, formatTime(t.Timestamp)); err != nil {
			return fmt.Errorf("inserting trade %s: %w", t.OrderID, err)
		}
	}
	return tx.Commit()
}

// ListTrades returns the trade book of a run, newest fill first.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, symbol, side, quantity, price, commission, pnl, timestamp
		FROM backtest_trades WHERE run_id = ? ORDER BY seq DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing trades of run %s: %w", runID, err)
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		var (
			t    domain.Trade
			side string
			ts   string
		)
		if err := rows.Scan(&t.OrderID, &t.Symbol, &side, &t.Qty, &t.Price, &t.Commission, &t.RealizedPnL, &ts); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		if t.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveOrders replaces the order book of a run.
func (s *SQLiteStore) SaveOrders(ctx context.Context, runID string, orders []domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM backtest_orders WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clearing orders of run %s: %w", runID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_orders (run_id, seq, order_id, symbol, side, order_type, quantity,
			price, status, filled_quantity, filled_price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, o := range orders {
		if _, err := stmt.ExecContext(ctx, runID, i, o.ID, o.Symbol, string(o.Side), string(o.Type),
			o.Qty, o.RequestedPrice, string(o.Status), o.FilledQty, o.FilledPrice,
			formatTime(o.Timestamp)); err != nil {
			return fmt.Errorf("inserting order %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// ListOrders returns the order book of a run, newest order first.
func (s *SQLiteStore) ListOrders(ctx context.Context, runID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, symbol, side, order_type, quantity, price, status, filled_quantity,
			filled_price, timestamp
		FROM backtest_orders WHERE run_id = ? ORDER BY seq DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of run %s: %w", runID, err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		var (
			o                     domain.Order
			side, typ, status, ts string
		)
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &typ, &o.Qty, &o.RequestedPrice, &status,
			&o.FilledQty, &o.FilledPrice, &ts); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		if o.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ---------------------------------------------------------------------------
// WatchlistStore implementation
// ---------------------------------------------------------------------------

// AddSymbol inserts or updates a watchlist entry. Symbols are stored upper
// case and an empty exchange becomes DefaultExchange.
func (s *SQLiteStore) AddSymbol(ctx context.Context, item domain.WatchlistItem) error {
	if item.Exchange == "" {
		item.Exchange = DefaultExchange
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (symbol, exchange, name, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (symbol, exchange) DO UPDATE SET name = excluded.name`,
		strings.ToUpper(item.Symbol), item.Exchange, item.Name, formatTime(item.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("adding %s to watchlist: %w", item.Symbol, err)
	}
	return nil
}

// RemoveSymbol deletes a watchlist entry.
func (s *SQLiteStore) RemoveSymbol(ctx context.Context, symbol, exchange string) error {
	if exchange == "" {
		exchange = DefaultExchange
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM watchlist WHERE symbol = ? AND exchange = ?", strings.ToUpper(symbol), exchange)
	if err != nil {
		return fmt.Errorf("removing %s from watchlist: %w", symbol, err)
	}
	return requireRow(res, symbol)
}

// ListWatchlist returns every entry sorted by symbol.
func (s *SQLiteStore) ListWatchlist(ctx context.Context) ([]domain.WatchlistItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, exchange, name, added_at FROM watchlist ORDER BY symbol, exchange")
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}
	defer rows.Close()

	items := []domain.WatchlistItem{}
	for rows.Next() {
		var (
			item domain.WatchlistItem
			ts   string
		)
		if err := rows.Scan(&item.Symbol, &item.Exchange, &item.Name, &ts); err != nil {
			return nil, err
		}
		if item.AddedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, withResult bool) (*domain.BacktestRun, error) {
	var (
		run                            domain.BacktestRun
		start, end, params, status, ts string
		results, completed             sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Name, &run.StrategyName, &run.Symbol, &run.Exchange,
		&start, &end, &run.InitialCapital, &params, &status, &run.Error, &results,
		&ts, &completed); err != nil {
		return nil, err
	}

	var err error
	run.Status = domain.RunStatus(status)
	if run.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if run.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(ts); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(params), &run.Parameters); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	if withResult && results.Valid {
		run.Result = &domain.BacktestResult{}
		if err := json.Unmarshal([]byte(results.String), run.Result); err != nil {
			return nil, fmt.Errorf("decoding results: %w", err)
		}
	}
	return &run, nil
}

func encodeResult(res *domain.BacktestResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding results: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
