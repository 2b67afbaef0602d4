package jsonfile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/moksori-live/moksori/pkg/memory"
)

const coreIndent = "  "

// Core is the file-backed core memory store.
type Core struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	entries []memory.CoreEntry
}

// CoreOption is a functional option for Core.
type CoreOption func(*Core)

// WithCoreLogger sets the logger. Defaults to [slog.Default].
func WithCoreLogger(log *slog.Logger) CoreOption {
	return func(c *Core) { c.log = log }
}

// NewCore opens the core memory store at path, loading any existing entries.
// A missing file starts empty; an unreadable or malformed file is logged and
// also starts empty.
func NewCore(path string, opts ...CoreOption) (*Core, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonfile: core memory path must not be empty")
	}
	c := &Core{path: path, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}

	var entries []memory.CoreEntry
	found, err := readJSON(path, &entries)
	switch {
	case err != nil:
		c.log.Warn("failed to load core memory, starting fresh", "path", path, "error", err)
	case found:
		c.entries = entries
		c.log.Info("core memory loaded", "path", path, "entries", len(entries))
	}
	return c, nil
}

// Append stores one entry, stamping a zero Timestamp with the current local
// time. Persistence failures are logged, never returned.
func (c *Core) Append(ctx context.Context, e memory.CoreEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(memory.TimestampLayout)
	}
	c.entries = append(c.entries, e)
	c.log.Info("core memory saved",
		"text", e.MemoryText,
		"importance", e.ImportanceLevel,
		"category", e.Category)
	c.persistLocked()
	return nil
}

// Entries returns all entries in insertion order.
func (c *Core) Entries(ctx context.Context) ([]memory.CoreEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries), nil
}

// Len returns the number of stored entries.
func (c *Core) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// persistLocked writes the entries file. Must be called with mu held.
func (c *Core) persistLocked() {
	entries := c.entries
	if entries == nil {
		entries = []memory.CoreEntry{}
	}
	if err := writeJSON(c.path, coreIndent, entries); err != nil {
		c.log.Error("failed to persist core memory", "path", c.path, "error", err)
	}
}

// Ensure Core implements memory.CoreStore at compile time.
var _ memory.CoreStore = (*Core)(nil)
