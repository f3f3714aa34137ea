package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	triedEmptyFile    = ".tried-empty"
	lastCompletedFile = ".last-completed"
)

// progressTracker remembers which session a gather pass last completed and
// which symbols returned no data during the current pass, so an interrupted
// pass resumes without refetching them.
type progressTracker struct {
	mu         sync.Mutex
	dir        string
	triedEmpty map[string]struct{}
	file       *os.File
	writer     *bufio.Writer
}

// newProgressTracker opens the tracker files under dir, loading any symbols
// recorded by an earlier interrupted pass.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{
		dir:        dir,
		triedEmpty: make(map[string]struct{}),
	}

	if data, err := os.ReadFile(pt.path(triedEmptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.triedEmpty[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) path(name string) string {
	return filepath.Join(p.dir, name)
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.path(triedEmptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", triedEmptyFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsTriedEmpty reports whether symbol already came back empty.
func (p *progressTracker) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[symbol]
	return ok
}

// MarkEmpty records symbols that returned no bars.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.triedEmpty[sym]; ok {
			continue
		}
		p.triedEmpty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", triedEmptyFile, err)
		}
	}
	return p.writer.Flush()
}

// LastCompleted returns the session date of the last completed pass, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(p.path(lastCompletedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsCompleted reports whether a pass already completed for date.
func (p *progressTracker) IsCompleted(date string) bool {
	return p.LastCompleted() == date
}

// MarkCompleted records date as done.
func (p *progressTracker) MarkCompleted(date string) error {
	return os.WriteFile(p.path(lastCompletedFile), []byte(date), 0o644)
}

// Reset forgets the tried-empty set, starting a fresh pass.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.triedEmpty = make(map[string]struct{})
	if err := os.Remove(p.path(triedEmptyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", triedEmptyFile, err)
	}
	return p.open()
}

// Close flushes and closes the tried-empty file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
