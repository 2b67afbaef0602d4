// Package chatlog maintains the rolling window of recent live-chat lines.
//
// The window is bounded; once full, the oldest lines are evicted. A watermark
// tracks how far into the window the last generated response has "seen", so
// each response can present chat as two sections: lines a previous response
// already reacted to, and lines that arrived since. [Window.SplitAndAdvance]
// returns both halves and moves the watermark in one atomic step, so no line
// is ever reported in both halves or skipped between responses.
package chatlog

import (
	"sync"

	"github.com/moksori-live/moksori/pkg/types"
)

// DefaultMaxLines is the window capacity when none is configured.
const DefaultMaxLines = 20

// Window is the rolling chat window. One writer (the chat feed) appends;
// the pipeline and the dashboard read. All methods are safe for concurrent
// use.
type Window struct {
	mu    sync.RWMutex
	lines []types.ChatLine
	mark  int // leading lines already consumed by a response
	max   int
}

// New creates a window retaining at most max lines. A non-positive max uses
// [DefaultMaxLines].
func New(max int) *Window {
	if max <= 0 {
		max = DefaultMaxLines
	}
	return &Window{
		lines: make([]types.ChatLine, 0, max),
		max:   max,
	}
}

// Append adds lines in the given order, evicting the oldest beyond the cap.
// Evicting a line the watermark had counted moves the watermark down with it.
func (w *Window) Append(lines ...types.ChatLine) {
	if len(lines) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lines = append(w.lines, lines...)
	if over := len(w.lines) - w.max; over > 0 {
		// Copy to a fresh slice so evicted lines can be garbage collected.
		fresh := make([]types.ChatLine, len(w.lines)-over, w.max)
		copy(fresh, w.lines[over:])
		w.lines = fresh
		w.mark = max(0, w.mark-over)
	}
}

// SplitAndAdvance returns the lines a previous response has already seen and
// the lines new since then, then advances the watermark to the current end of
// the window. Both halves are copies.
func (w *Window) SplitAndAdvance() (previous, recent []types.ChatLine) {
	w.mu.Lock()
	defer w.mu.Unlock()

	previous = make([]types.ChatLine, w.mark)
	copy(previous, w.lines[:w.mark])
	recent = make([]types.ChatLine, len(w.lines)-w.mark)
	copy(recent, w.lines[w.mark:])

	w.mark = len(w.lines)
	return previous, recent
}

// Snapshot returns a copy of the whole window in chronological order.
func (w *Window) Snapshot() []types.ChatLine {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]types.ChatLine, len(w.lines))
	copy(out, w.lines)
	return out
}

// Len returns the number of lines currently in the window.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.lines)
}
