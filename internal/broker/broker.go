// Package broker defines the Broker interface and the in-memory simulated
// broker that fills backtest orders and tracks cash and position state.
package broker

import (
	"context"
	"errors"

	"quantdesk/internal/domain"
)

var (
	// ErrInsufficientFunds is returned when a buy cannot be covered by the
	// available cash including commission.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoPosition is returned when a sell is submitted without an open
	// position large enough to cover it.
	ErrNoPosition = errors.New("no open position")

	// ErrUnsupportedOrder is returned for order types the broker cannot fill.
	ErrUnsupportedOrder = errors.New("unsupported order")
)

// Broker abstracts order execution and account queries.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder executes the order and returns the resulting trade.
	SubmitOrder(ctx context.Context, order domain.Order) (domain.Trade, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's balances.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// MarkingBroker is a Broker whose valuations follow an externally supplied
// price, as in a bar-by-bar replay.
type MarkingBroker interface {
	Broker

	// Mark sets the current market price used to value holdings of symbol.
	Mark(symbol string, price float64)
}
