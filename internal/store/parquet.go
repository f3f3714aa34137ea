package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantdesk/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Exchange   string  `parquet:"exchange"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toBarRecord(b domain.Bar, exchange string) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Exchange:   exchange,
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) toBar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Exchange:   r.Exchange,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by exchange, symbol
// and year. Each combination produces a separate file at:
//
//	<DataDir>/<exchange>/daily/<SYMBOL>/<YYYY>.parquet
//
// Bars without an exchange are filed under DefaultExchange.
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		exchange string
		symbol   string
		year     int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		exchange := b.Exchange
		if exchange == "" {
			exchange = DefaultExchange
		}
		k := key{exchange: exchange, symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toBarRecord(b, exchange))
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, k.exchange, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s/%d: %w", k.exchange, k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. A zero end reads through the last stored year.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, exchange string, start, end time.Time) ([]domain.Bar, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	symbol = strings.ToUpper(symbol)

	years, err := s.listYears(symbol, exchange)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if year < start.UTC().Year() || (!end.IsZero() && year > end.UTC().Year()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, exchange, year))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%s/%d: %w", exchange, symbol, year, err)
		}
		for _, r := range records {
			b := r.toBar()
			if b.Timestamp.Before(start) || (!end.IsZero() && b.Timestamp.After(end)) {
				continue
			}
			if b.Exchange == "" {
				b.Exchange = exchange
			}
			bars = append(bars, b)
		}
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// ListSymbols lists all symbols that have bar data on the given exchange.
func (s *ParquetStore) ListSymbols(_ context.Context, exchange string) ([]string, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	dir := filepath.Join(s.DataDir, exchange, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<exchange>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, exchange string, year int) string {
	return filepath.Join(s.DataDir, exchange, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// listYears returns the years with a bar file for symbol, ascending.
func (s *ParquetStore) listYears(symbol, exchange string) ([]int, error) {
	dir := filepath.Dir(s.barPath(symbol, exchange, 0))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		var year int
		if e.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &year); err != nil {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
