package jsonfile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/moksori-live/moksori/pkg/memory"
)

const (
	defaultMaxEntries = 100
	longTermIndent    = "    "
)

// LongTerm is the file-backed long-term memory store.
type LongTerm struct {
	path string
	max  int
	log  *slog.Logger

	mu      sync.Mutex
	entries []string
	dirty   bool
}

// LongTermOption is a functional option for LongTerm.
type LongTermOption func(*LongTerm)

// WithMaxEntries caps the number of stored memories. Defaults to 100.
func WithMaxEntries(n int) LongTermOption {
	return func(l *LongTerm) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) LongTermOption {
	return func(l *LongTerm) { l.log = log }
}

// NewLongTerm opens the long-term store at path, loading any existing
// memories. A missing file starts empty; an unreadable or malformed file is
// logged and also starts empty. Entries beyond the cap are trimmed oldest
// first.
func NewLongTerm(path string, opts ...LongTermOption) (*LongTerm, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonfile: long-term memory path must not be empty")
	}
	l := &LongTerm{path: path, max: defaultMaxEntries, log: slog.Default()}
	for _, o := range opts {
		o(l)
	}

	var entries []string
	found, err := readJSON(path, &entries)
	switch {
	case err != nil:
		l.log.Warn("failed to load long-term memory, starting fresh", "path", path, "error", err)
	case found:
		if len(entries) > l.max {
			entries = entries[len(entries)-l.max:]
		}
		l.entries = entries
		l.log.Info("long-term memory loaded", "path", path, "entries", len(entries))
	}
	return l, nil
}

// Add inserts text unless it is empty or already present, evicting the
// oldest entry beyond the cap. Persistence failures are logged, never
// returned; the value stays in memory and the next mutation retries.
func (l *LongTerm) Add(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if slices.Contains(l.entries, text) {
		if l.dirty {
			l.persistLocked()
		}
		return nil
	}
	l.entries = append(l.entries, text)
	if len(l.entries) > l.max {
		l.entries = slices.Delete(l.entries, 0, len(l.entries)-l.max)
	}
	l.log.Info("long-term memory added", "text", text)
	l.persistLocked()
	return nil
}

// Recent returns up to limit of the newest entries in chronological order.
// A non-positive limit returns everything.
func (l *LongTerm) Recent(ctx context.Context, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	return slices.Clone(l.entries[len(l.entries)-limit:]), nil
}

// All returns every entry in chronological order.
func (l *LongTerm) All(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries), nil
}

// Len returns the number of stored memories.
func (l *LongTerm) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// persistLocked writes the entries file. Must be called with mu held.
func (l *LongTerm) persistLocked() {
	entries := l.entries
	if entries == nil {
		entries = []string{}
	}
	if err := writeJSON(l.path, longTermIndent, entries); err != nil {
		l.dirty = true
		l.log.Error("failed to persist long-term memory", "path", l.path, "error", err)
		return
	}
	l.dirty = false
}

// Ensure LongTerm implements memory.LongTermStore at compile time.
var _ memory.LongTermStore = (*LongTerm)(nil)
