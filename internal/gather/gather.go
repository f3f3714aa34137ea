// Package gather downloads market data into the bar store.
package gather

import (
	"context"
	"log/slog"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Downloader fetches bars for named symbols on request, outside any
// scheduled pass.
type Downloader interface {
	Download(ctx context.Context, symbols []string, r DateRange) (*DownloadResult, error)
}

// Download statuses.
const (
	DownloadSuccess = "success"
	DownloadPartial = "partial"
)

// DownloadResult reports an on-demand download. A symbol lands in exactly
// one of Downloaded, Empty or Failed.
type DownloadResult struct {
	Exchange   string            `json:"exchange"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Status     string            `json:"status"`
	Downloaded []string          `json:"downloaded"`
	Empty      []string          `json:"empty"`
	Failed     []DownloadFailure `json:"failed"`
	Bars       int               `json:"bars"`
}

// DownloadFailure is a symbol whose request failed after retries.
type DownloadFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// RunEvery runs g immediately and then once per interval until ctx is
// cancelled. A failed pass is logged and the schedule continues. A
// non-positive interval runs a single pass and returns its error.
func RunEvery(ctx context.Context, g Gatherer, interval time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		return g.Run(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		if err := g.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("gather pass failed", "gatherer", g.Name(), "error", err)
		} else {
			log.Info("gather pass done", "gatherer", g.Name(), "elapsed", time.Since(start).Round(time.Millisecond))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
