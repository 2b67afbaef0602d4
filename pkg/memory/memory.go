// Package memory defines the streamer's durable memory stores.
//
// Memory is organised in two tiers:
//
//   - Long-term memory: one-sentence facts distilled from conversation by the
//     session summarizer. A capped, ordered set with idempotent insert and
//     FIFO eviction.
//   - Core memory: the few facts worth keeping indefinitely, extracted from
//     long-term memory by the distiller through the save_core_memory tool.
//     Append-only entries tagged with importance and category.
//
// The jsonfile backend is the default and defines the on-disk contract; the
// postgres backend adds embedding-based semantic recall on top of the same
// interfaces. Implementations must be safe for concurrent use.
package memory

import (
	"context"
	"strings"
)

// Importance levels for core memories, strongest first.
const (
	ImportanceCritical = "critical"
	ImportanceHigh     = "high"
	ImportanceMedium   = "medium"
)

// TimestampLayout is the wall-clock format core entries are stamped with.
const TimestampLayout = "2006-01-02 15:04:05"

// CoreEntry is one distilled fact in core memory.
type CoreEntry struct {
	MemoryText      string `json:"memory_text"`
	ImportanceLevel string `json:"importance_level"`
	Category        string `json:"category"`
	Timestamp       string `json:"timestamp"`
}

// LongTermStore holds distilled conversation facts.
type LongTermStore interface {
	// Add inserts text unless it is empty or already present. Beyond the
	// store's cap the oldest entry is evicted.
	Add(ctx context.Context, text string) error

	// Recent returns up to limit of the newest entries in chronological
	// order.
	Recent(ctx context.Context, limit int) ([]string, error)

	// All returns every entry in chronological order.
	All(ctx context.Context) ([]string, error)
}

// CoreStore holds the append-only core memory.
type CoreStore interface {
	// Append stores one entry. A zero Timestamp is stamped with the current
	// local time in TimestampLayout.
	Append(ctx context.Context, e CoreEntry) error

	// Entries returns all entries in insertion order.
	Entries(ctx context.Context) ([]CoreEntry, error)
}

// Searcher finds stored facts semantically related to a query. Backends
// without an embedding index do not implement it; callers fall back to the
// full list.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// FormatSummary renders core entries grouped by importance, strongest group
// first, skipping empty groups. Returns "" when entries is empty.
func FormatSummary(entries []CoreEntry) string {
	if len(entries) == 0 {
		return ""
	}

	groups := []struct {
		level  string
		header string
	}{
		{ImportanceCritical, "Critical:"},
		{ImportanceHigh, "High:"},
		{ImportanceMedium, "Medium:"},
	}

	var b strings.Builder
	for _, g := range groups {
		var lines []string
		for _, e := range entries {
			if e.ImportanceLevel == g.level {
				lines = append(lines, "- "+e.MemoryText+" ("+e.Category+")")
			}
		}
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(g.header)
		for _, line := range lines {
			b.WriteByte('\n')
			b.WriteString(line)
		}
	}
	return b.String()
}
