package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quantdesk/internal/broker"
	"quantdesk/internal/domain"
)

// Execution is the record stream produced by one simulated run.
type Execution struct {
	Orders      []domain.Order
	Trades      []domain.Trade
	EquityCurve []domain.PortfolioSnapshot
}

// Simulator turns a signal sequence into market orders against a
// MarkingBroker, one bar at a time. A Simulator and its broker belong to a
// single run and must not be shared.
type Simulator struct {
	broker broker.MarkingBroker
	sizer  Sizer
	log    *slog.Logger
}

// NewSimulator creates a Simulator that submits orders to b and sizes
// entries with sizer. A nil sizer buys DefaultTradeSize units.
func NewSimulator(b broker.MarkingBroker, sizer Sizer, log *slog.Logger) *Simulator {
	if sizer == nil {
		sizer = FixedSizer{Qty: DefaultTradeSize}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{broker: b, sizer: sizer, log: log}
}

// Run walks series in time order, acting on signals[i] at the close of bar
// i. It holds at most one long position: entries while long and exits while
// flat are ignored, and an entry the broker cannot fund is skipped without
// a record. A portfolio snapshot is taken after every bar.
func (s *Simulator) Run(ctx context.Context, series *Series, signals []domain.Signal) (*Execution, error) {
	if len(signals) != series.Len() {
		return nil, fmt.Errorf("%w: %d signals for %d bars", ErrSignalLength, len(signals), series.Len())
	}

	exec := &Execution{
		Orders:      []domain.Order{},
		Trades:      []domain.Trade{},
		EquityCurve: make([]domain.PortfolioSnapshot, 0, series.Len()),
	}

	var held float64
	for i := 0; i < series.Len(); i++ {
		bar := series.Bar(i)
		if !signals[i].Timestamp.Equal(bar.Timestamp) {
			return nil, fmt.Errorf("%w: signal %d at %s, bar at %s",
				ErrSignalLength, i, signals[i].Timestamp, bar.Timestamp)
		}
		s.broker.Mark(series.Symbol, bar.Close)

		switch signals[i].Type {
		case domain.SignalLongEntry:
			if held > 0 {
				break
			}
			acct, err := s.broker.GetAccount(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading account at bar %d: %w", i, err)
			}
			qty := s.sizer.Size(bar.Close, acct.Equity)
			if qty <= 0 {
				break
			}
			filled, err := s.fill(ctx, exec, series.Symbol, domain.OrderSideBuy, qty, bar)
			if err != nil {
				return nil, err
			}
			if filled {
				held = qty
			}

		case domain.SignalLongExit:
			if held <= 0 {
				break
			}
			if _, err := s.fill(ctx, exec, series.Symbol, domain.OrderSideSell, held, bar); err != nil {
				return nil, err
			}
			held = 0
		}

		acct, err := s.broker.GetAccount(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading account at bar %d: %w", i, err)
		}
		exec.EquityCurve = append(exec.EquityCurve, domain.PortfolioSnapshot{
			Timestamp:     bar.Timestamp,
			Cash:          acct.Cash,
			PositionQty:   held,
			PositionValue: acct.PositionValue,
			TotalEquity:   acct.Equity,
		})
	}
	return exec, nil
}

// fill submits a market order at the bar's close and records the order and
// trade on success. It reports false, with no error, when the broker
// rejects a buy for lack of funds.
func (s *Simulator) fill(
	ctx context.Context,
	exec *Execution,
	symbol string,
	side domain.OrderSide,
	qty float64,
	bar domain.Bar,
) (bool, error) {
	order := domain.Order{
		ID:             fmt.Sprintf("%s_%d", side, len(exec.Orders)+1),
		Symbol:         symbol,
		Side:           side,
		Type:           domain.OrderTypeMarket,
		Qty:            qty,
		RequestedPrice: bar.Close,
		Status:         domain.OrderStatusNew,
		Timestamp:      bar.Timestamp,
	}

	trade, err := s.broker.SubmitOrder(ctx, order)
	if errors.Is(err, broker.ErrInsufficientFunds) {
		s.log.Debug("entry skipped", "reason", err, "bar", bar.Timestamp, "price", bar.Close, "qty", qty)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("submitting %s at %s: %w", order.ID, bar.Timestamp, err)
	}

	order.Status = domain.OrderStatusFilled
	order.FilledQty = trade.Qty
	order.FilledPrice = trade.Price

	exec.Orders = append(exec.Orders, order)
	exec.Trades = append(exec.Trades, trade)
	return true, nil
}
