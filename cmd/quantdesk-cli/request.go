package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"quantdesk/internal/engine"
)

const engineDate = "2006-01-02"

// buildRequest turns command-line flags into an engine request. An empty end
// date leaves the range open.
func buildRequest(strategyName, symbol, exchange, start, end string, capital float64, params []string) (engine.Request, error) {
	req := engine.Request{
		StrategyName:   strategyName,
		Symbol:         strings.ToUpper(symbol),
		Exchange:       exchange,
		InitialCapital: capital,
	}

	var err error
	if req.Start, err = time.Parse(engineDate, start); err != nil {
		return engine.Request{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if end != "" {
		if req.End, err = time.Parse(engineDate, end); err != nil {
			return engine.Request{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		req.End = req.End.Add(24*time.Hour - time.Nanosecond)
	}
	if req.Parameters, err = parseParams(params); err != nil {
		return engine.Request{}, err
	}
	return req, nil
}

// parseParams parses key=value pairs into a parameter map.
func parseParams(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}
