package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
)

// Chart overlay defaults and bounds.
const (
	DefaultEMAPeriod = 20
	DefaultRSIPeriod = 14
	maxOverlayPeriod = 500
)

// ChartRequest selects the bars and overlays for a chart. A zero Start is
// one year before End and a zero End is now. Zero periods take the defaults.
type ChartRequest struct {
	Symbol    string
	Exchange  string
	Start     time.Time
	End       time.Time
	EMAPeriod int
	RSIPeriod int
}

// Point is one defined value of an overlay series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Chart is daily bars with EMA and RSI overlays on the close. Overlay
// series omit the warmup bars, so they can be shorter than Bars.
type Chart struct {
	Symbol    string       `json:"symbol"`
	Exchange  string       `json:"exchange"`
	Interval  string       `json:"interval"`
	EMAPeriod int          `json:"ema_period"`
	RSIPeriod int          `json:"rsi_period"`
	Bars      []domain.Bar `json:"candlestick"`
	EMA       []Point      `json:"ema"`
	RSI       []Point      `json:"rsi"`
}

// Timeframe is a chart interval the bar store can serve.
type Timeframe struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Timeframes lists the chart intervals. Only daily bars are stored.
func (e *Engine) Timeframes() []Timeframe {
	return []Timeframe{{Value: "D", Label: "Daily"}}
}

// Chart reads stored bars for req and computes the overlays.
func (e *Engine) Chart(ctx context.Context, req ChartRequest) (*Chart, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Exchange == "" {
		req.Exchange = store.DefaultExchange
	}
	if req.EMAPeriod == 0 {
		req.EMAPeriod = DefaultEMAPeriod
	}
	if req.RSIPeriod == 0 {
		req.RSIPeriod = DefaultRSIPeriod
	}
	if req.End.IsZero() {
		req.End = e.opts.Now().UTC()
	}
	if req.Start.IsZero() {
		req.Start = req.End.AddDate(-1, 0, 0)
	}

	switch {
	case req.Symbol == "":
		return nil, fmt.Errorf("%w: symbol is required", strategy.ErrInvalidConfig)
	case req.EMAPeriod < 1 || req.EMAPeriod > maxOverlayPeriod:
		return nil, fmt.Errorf("%w: ema period must be in [1, %d], got %d", strategy.ErrInvalidConfig, maxOverlayPeriod, req.EMAPeriod)
	case req.RSIPeriod < 1 || req.RSIPeriod > maxOverlayPeriod:
		return nil, fmt.Errorf("%w: rsi period must be in [1, %d], got %d", strategy.ErrInvalidConfig, maxOverlayPeriod, req.RSIPeriod)
	case req.End.Before(req.Start):
		return nil, fmt.Errorf("%w: end %s before start %s", strategy.ErrInvalidConfig,
			req.End.Format("2006-01-02"), req.Start.Format("2006-01-02"))
	}

	bars, err := e.Bars(ctx, req.Symbol, req.Exchange, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	return &Chart{
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Interval:  "D",
		EMAPeriod: req.EMAPeriod,
		RSIPeriod: req.RSIPeriod,
		Bars:      bars,
		EMA:       points(bars, indicators.EMA(closes, req.EMAPeriod)),
		RSI:       points(bars, indicators.RSI(closes, req.RSIPeriod)),
	}, nil
}

func points(bars []domain.Bar, values []float64) []Point {
	out := []Point{}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		out = append(out, Point{Time: bars[i].Timestamp, Value: v})
	}
	return out
}
