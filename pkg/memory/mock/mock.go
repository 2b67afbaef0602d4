// Package mock provides in-memory test doubles for the memory layer
// interfaces.
//
// Each mock behaves as a working store (adds are idempotent, reads return
// what was written) while recording every mutating call for assertion.
// All mocks are safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	ltm := &mock.LongTerm{}
//	ltm.Seed("the stream peaked at 500 viewers")
//
//	// inject ltm into the system under test …
//
//	if got := ltm.AddCount(); got != 1 {
//	    t.Errorf("expected 1 Add call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/moksori-live/moksori/pkg/memory"
)

// AddCall records a single invocation of LongTerm.Add.
type AddCall struct {
	Ctx  context.Context
	Text string
}

// SearchCall records a single invocation of LongTerm.Search.
type SearchCall struct {
	Ctx   context.Context
	Query string
	Limit int
}

// AppendCall records a single invocation of Core.Append.
type AppendCall struct {
	Ctx   context.Context
	Entry memory.CoreEntry
}

// ---- long-term store ---------------------------------------------------------

// LongTerm is a test double for [memory.LongTermStore] and [memory.Searcher].
type LongTerm struct {
	mu      sync.Mutex
	entries []string

	// --- Configurable responses ---

	// AddErr, if non-nil, is returned by Add without storing anything.
	AddErr error

	// RecentErr, if non-nil, is returned by Recent and All.
	RecentErr error

	// SearchResults is returned by Search.
	SearchResults []string

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// --- Call records (read after test) ---

	// AddCalls records every call to Add in order.
	AddCalls []AddCall

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall
}

// Seed stores texts directly without recording Add calls.
func (m *LongTerm) Seed(texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, texts...)
}

// Add records the call and stores text, skipping empty strings and duplicates.
func (m *LongTerm) Add(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls = append(m.AddCalls, AddCall{Ctx: ctx, Text: text})
	if m.AddErr != nil {
		return m.AddErr
	}
	if text == "" || slices.Contains(m.entries, text) {
		return nil
	}
	m.entries = append(m.entries, text)
	return nil
}

// Recent returns up to limit of the newest stored texts in chronological
// order. A non-positive limit returns everything.
func (m *LongTerm) Recent(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	return slices.Clone(m.entries[len(m.entries)-limit:]), nil
}

// All returns every stored text in chronological order.
func (m *LongTerm) All(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	return slices.Clone(m.entries), nil
}

// Search records the call and returns the configured results.
func (m *LongTerm) Search(ctx context.Context, query string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, SearchCall{Ctx: ctx, Query: query, Limit: limit})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return slices.Clone(m.SearchResults), nil
}

// Texts returns a snapshot of everything currently stored.
func (m *LongTerm) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// AddCount returns the number of Add calls so far.
func (m *LongTerm) AddCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AddCalls)
}

// Reset clears all recorded calls without altering stored texts.
func (m *LongTerm) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls = nil
	m.SearchCalls = nil
}

// ---- core store --------------------------------------------------------------

// Core is a test double for [memory.CoreStore]. Appended entries are stored
// verbatim, including a zero Timestamp.
type Core struct {
	mu      sync.Mutex
	entries []memory.CoreEntry

	// --- Configurable responses ---

	// AppendErr, if non-nil, is returned by Append without storing anything.
	AppendErr error

	// EntriesErr, if non-nil, is returned as the error from Entries.
	EntriesErr error

	// --- Call records (read after test) ---

	// AppendCalls records every call to Append in order.
	AppendCalls []AppendCall
}

// Seed stores entries directly without recording Append calls.
func (m *Core) Seed(entries ...memory.CoreEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
}

// Append records the call and stores the entry.
func (m *Core) Append(ctx context.Context, e memory.CoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{Ctx: ctx, Entry: e})
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns all stored entries in insertion order.
func (m *Core) Entries(_ context.Context) ([]memory.CoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EntriesErr != nil {
		return nil, m.EntriesErr
	}
	return slices.Clone(m.entries), nil
}

// AppendCount returns the number of Append calls so far.
func (m *Core) AppendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AppendCalls)
}

// Reset clears all recorded calls without altering stored entries.
func (m *Core) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = nil
}

// Ensure the mocks implement the memory contracts at compile time.
var (
	_ memory.LongTermStore = (*LongTerm)(nil)
	_ memory.Searcher      = (*LongTerm)(nil)
	_ memory.CoreStore     = (*Core)(nil)
)
