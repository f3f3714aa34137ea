package strategy

import (
	"context"
	"time"

	"quantdesk/internal/domain"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// makeBars builds one daily bar per close for AAPL on NASDAQ.
func makeBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "AAPL",
			Exchange:  "NASDAQ",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// scripted emits fixed signals keyed by bar index.
type scripted struct {
	at map[int]domain.SignalType
}

func (s scripted) Name() string { return "scripted" }

func (s scripted) Signal(history []domain.Bar) domain.SignalType {
	if t, ok := s.at[len(history)-1]; ok {
		return t
	}
	return domain.SignalFlat
}

// memBarStore is an in-memory BarStore keyed by symbol.
type memBarStore struct {
	bars map[string][]domain.Bar
	err  error
}

func (m *memBarStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
	}
	return nil
}

func (m *memBarStore) ReadBars(_ context.Context, symbol, _ string, start, end time.Time) ([]domain.Bar, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Bar
	for _, b := range m.bars[symbol] {
		if b.Timestamp.Before(start) || (!end.IsZero() && b.Timestamp.After(end)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBarStore) ListSymbols(_ context.Context, _ string) ([]string, error) {
	var out []string
	for s := range m.bars {
		out = append(out, s)
	}
	return out, nil
}
