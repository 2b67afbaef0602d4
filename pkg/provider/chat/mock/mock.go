// Package mock provides a test double for the chat.Source interface.
package mock

import (
	"context"
	"sync"

	"github.com/moksori-live/moksori/pkg/provider/chat"
	"github.com/moksori-live/moksori/pkg/types"
)

// FetchCall records a single invocation of Source.FetchLatest.
type FetchCall struct {
	// Ctx is the context passed to FetchLatest.
	Ctx context.Context
	// Limit is the limit passed to FetchLatest.
	Limit int
}

// Source is a mock implementation of chat.Source.
type Source struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Lines is returned (up to the requested limit) by FetchLatest. The slice
	// should be ordered newest first, like a real platform.
	Lines []types.ChatLine

	// Err, if non-nil, is returned as the error from FetchLatest.
	Err error

	// FetchFunc, if non-nil, overrides the canned Lines/Err behaviour.
	FetchFunc func(ctx context.Context, limit int) ([]types.ChatLine, error)

	// --- Call records (read after test) ---

	// FetchCalls records every call to FetchLatest in order.
	FetchCalls []FetchCall
}

// FetchLatest records the call and returns the configured lines.
func (s *Source) FetchLatest(ctx context.Context, limit int) ([]types.ChatLine, error) {
	s.mu.Lock()
	s.FetchCalls = append(s.FetchCalls, FetchCall{Ctx: ctx, Limit: limit})
	fn := s.FetchFunc
	lines, err := s.Lines, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	if limit >= 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	out := make([]types.ChatLine, len(lines))
	copy(out, lines)
	return out, nil
}

// SetLines replaces the canned lines. Thread-safe, for tests that evolve the
// feed between polls.
func (s *Source) SetLines(lines []types.ChatLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = append([]types.ChatLine(nil), lines...)
}

// FetchCount returns the number of FetchLatest calls. Thread-safe.
func (s *Source) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.FetchCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls = nil
}

// Ensure Source implements chat.Source at compile time.
var _ chat.Source = (*Source)(nil)
