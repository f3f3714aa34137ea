// Package domain defines the core value types shared across quantdesk: price
// bars, trading signals, simulated orders and trades, portfolio snapshots,
// and the persisted backtest run records.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one OHLCV observation for a fixed interval.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the desired position change derived for one bar.
type SignalType string

const (
	SignalFlat      SignalType = "FLAT"
	SignalLongEntry SignalType = "LONG_ENTRY"
	SignalLongExit  SignalType = "LONG_EXIT"
)

// Signal attaches a SignalType to the timestamp of the bar it was derived
// from. Signals are intermediate values and are never persisted.
type Signal struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      SignalType `json:"type"`
}

// ---------------------------------------------------------------------------
// Orders and trades
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew    OrderStatus = "NEW"
	OrderStatusFilled OrderStatus = "FILLED"
)

// Order is a simulated order. The simulator records an order only once it
// has been filled, and never mutates it afterwards.
type Order struct {
	ID             string      `json:"order_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"order_type"`
	Qty            float64     `json:"quantity"`
	RequestedPrice float64     `json:"price"`
	Status         OrderStatus `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
	FilledQty      float64     `json:"filled_quantity"`
	FilledPrice    float64     `json:"filled_price"`
}

// Trade is the execution record produced by filling an Order.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Qty         float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	OrderID     string    `json:"order_id"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"pnl"`
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Position is an open holding in a single instrument.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"quantity"`
	AvgCost     float64 `json:"avg_price"`
	MarketPrice float64 `json:"current_price"`
}

// MarketValue returns Qty valued at MarketPrice.
func (p Position) MarketValue() float64 {
	return p.Qty * p.MarketPrice
}

// AccountInfo is a point-in-time view of an account's balances.
type AccountInfo struct {
	Cash          float64 `json:"cash"`
	PositionValue float64 `json:"position_value"`
	Equity        float64 `json:"equity"`
}

// PortfolioSnapshot is one point of the equity curve, taken after a bar has
// been processed.
type PortfolioSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Cash          float64   `json:"cash"`
	PositionQty   float64   `json:"position_quantity"`
	PositionValue float64   `json:"position_value"`
	TotalEquity   float64   `json:"value"`
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// BacktestResult holds the summary metrics and the full record streams of a
// single backtest run.
type BacktestResult struct {
	TotalReturnPct float64             `json:"total_return"`
	TotalTrades    int                 `json:"total_trades"`
	WinningTrades  int                 `json:"winning_trades"`
	LosingTrades   int                 `json:"losing_trades"`
	WinRatePct     float64             `json:"win_rate"`
	MaxDrawdownPct float64             `json:"max_drawdown"`
	SharpeRatio    float64             `json:"sharpe_ratio"`
	ProfitFactor   float64             `json:"profit_factor"`
	InitialCapital float64             `json:"initial_capital"`
	FinalCapital   float64             `json:"final_capital"`
	EquityCurve    []PortfolioSnapshot `json:"portfolio_values"`
	Trades         []Trade             `json:"trades"`
	Orders         []Order             `json:"orders"`
}

// ---------------------------------------------------------------------------
// Persisted records
// ---------------------------------------------------------------------------

// RunStatus is the lifecycle state of a persisted backtest run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// BacktestRun is the caller-side record of a backtest request and its
// outcome. The ID is assigned by the run store.
type BacktestRun struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	StrategyName   string             `json:"strategy_name"`
	Symbol         string             `json:"symbol"`
	Exchange       string             `json:"exchange"`
	Start          time.Time          `json:"start_date"`
	End            time.Time          `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	Parameters     map[string]float64 `json:"parameters"`
	Status         RunStatus          `json:"status"`
	Error          string             `json:"error,omitempty"`
	Result         *BacktestResult    `json:"results,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// WatchlistItem is a symbol the gatherer keeps bar data for.
type WatchlistItem struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Name     string    `json:"name"`
	AddedAt  time.Time `json:"added_at"`
}

// SymbolInfo is a symbol offered for backtesting: a watchlist entry, a
// symbol with stored bars, or both.
type SymbolInfo struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Name     string `json:"name"`
	Watched  bool   `json:"watched"`
	HasBars  bool   `json:"has_bars"`
}
