package broker

import (
	"context"
	"fmt"
	"sort"

	"quantdesk/internal/domain"
)

// Compile-time interface check.
var _ MarkingBroker = (*SimulatorBroker)(nil)

// SimulatorBroker fills market orders immediately and completely at their
// requested price and keeps cash and positions in memory. It is not safe for
// concurrent use; each backtest run owns its own instance.
type SimulatorBroker struct {
	cash           float64
	commissionRate float64
	positions      map[string]*domain.Position

	// Realized PnL is measured against the mean price of every buy filled
	// during the run, not against lot-matched entries.
	buyPriceSum float64
	buyCount    int
}

// NewSimulatorBroker creates a SimulatorBroker holding initialCash and
// charging commissionRate on the notional of every fill.
func NewSimulatorBroker(initialCash, commissionRate float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:           initialCash,
		commissionRate: commissionRate,
		positions:      make(map[string]*domain.Position),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder fills the order at order.RequestedPrice.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order domain.Order) (domain.Trade, error) {
	if order.Type != domain.OrderTypeMarket {
		return domain.Trade{}, fmt.Errorf("%w: type %q", ErrUnsupportedOrder, order.Type)
	}
	if order.Qty <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: quantity %v", ErrUnsupportedOrder, order.Qty)
	}

	switch order.Side {
	case domain.OrderSideBuy:
		return b.buy(order)
	case domain.OrderSideSell:
		return b.sell(order)
	default:
		return domain.Trade{}, fmt.Errorf("%w: side %q", ErrUnsupportedOrder, order.Side)
	}
}

func (b *SimulatorBroker) buy(order domain.Order) (domain.Trade, error) {
	price := order.RequestedPrice
	cost := price * order.Qty
	commission := cost * b.commissionRate

	if b.cash < cost+commission {
		return domain.Trade{}, ErrInsufficientFunds
	}
	b.cash -= cost + commission

	pos, ok := b.positions[order.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: order.Symbol}
		b.positions[order.Symbol] = pos
	}
	pos.AvgCost = (pos.AvgCost*pos.Qty + cost) / (pos.Qty + order.Qty)
	pos.Qty += order.Qty
	pos.MarketPrice = price

	b.buyPriceSum += price
	b.buyCount++

	return domain.Trade{
		Symbol:     order.Symbol,
		Side:       domain.OrderSideBuy,
		Qty:        order.Qty,
		Price:      price,
		Timestamp:  order.Timestamp,
		OrderID:    order.ID,
		Commission: commission,
	}, nil
}

func (b *SimulatorBroker) sell(order domain.Order) (domain.Trade, error) {
	pos, ok := b.positions[order.Symbol]
	if !ok || pos.Qty < order.Qty {
		return domain.Trade{}, ErrNoPosition
	}

	price := order.RequestedPrice
	proceeds := price * order.Qty
	commission := proceeds * b.commissionRate
	b.cash += proceeds - commission

	var pnl float64
	if b.buyCount > 0 {
		avgBuy := b.buyPriceSum / float64(b.buyCount)
		pnl = (price - avgBuy) * order.Qty
	}

	pos.Qty -= order.Qty
	pos.MarketPrice = price
	if pos.Qty == 0 {
		delete(b.positions, order.Symbol)
	}

	return domain.Trade{
		Symbol:      order.Symbol,
		Side:        domain.OrderSideSell,
		Qty:         order.Qty,
		Price:       price,
		Timestamp:   order.Timestamp,
		OrderID:     order.ID,
		Commission:  commission,
		RealizedPnL: pnl,
	}, nil
}

// Mark revalues any holding of symbol at price.
func (b *SimulatorBroker) Mark(symbol string, price float64) {
	if pos, ok := b.positions[symbol]; ok {
		pos.MarketPrice = price
	}
}

// Cash returns the current cash balance.
func (b *SimulatorBroker) Cash() float64 {
	return b.cash
}

// Position returns the open position for symbol, if any.
func (b *SimulatorBroker) Position(symbol string) (domain.Position, bool) {
	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// GetPositions returns copies of all open positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// GetAccount returns cash, the marked value of open positions, and their sum.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	var value float64
	for _, p := range b.positions {
		value += p.MarketValue()
	}
	return &domain.AccountInfo{
		Cash:          b.cash,
		PositionValue: value,
		Equity:        b.cash + value,
	}, nil
}
