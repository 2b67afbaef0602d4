// Package session holds the per-stream conversation state and the background
// workers that distill it into persistent memory.
//
// [History] is the capped, session-only conversation log. [Summarizer]
// periodically condenses it into one-sentence facts for the long-term store;
// [Distiller] periodically sifts the long-term store for facts worth keeping
// as core memories, letting the model pick them via the save_core_memory
// tool.
//
// All exported types are safe for concurrent use.
package session

import (
	"strings"
	"sync"
)

// Conversation roles.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// DefaultHistoryLimit is the history cap when none is configured.
const DefaultHistoryLimit = 50

// Line is one conversation history entry.
type Line struct {
	// Role is one of [RoleUser], [RoleModel], [RoleSystem].
	Role string

	// Text is the line content. For user lines this is the task prompt, not
	// the raw utterance.
	Text string
}

// History is the capped conversation log. It lives only for the process
// lifetime; nothing here is persisted.
type History struct {
	mu    sync.Mutex
	lines []Line
	max   int
}

// NewHistory creates a history retaining at most max lines. A non-positive
// max uses [DefaultHistoryLimit].
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryLimit
	}
	return &History{
		lines: make([]Line, 0, max),
		max:   max,
	}
}

// Append adds lines in order, evicting the oldest beyond the cap.
func (h *History) Append(lines ...Line) {
	if len(lines) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(lines...)
}

// AddExchange appends the user task prompt and the model response as one
// atomic pair, so readers never observe the question without its answer.
func (h *History) AddExchange(taskPrompt, response string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(
		Line{Role: RoleUser, Text: taskPrompt},
		Line{Role: RoleModel, Text: response},
	)
}

// AddSystem appends a system line, such as an interruption note.
func (h *History) AddSystem(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(Line{Role: RoleSystem, Text: text})
}

func (h *History) appendLocked(lines ...Line) {
	h.lines = append(h.lines, lines...)
	if over := len(h.lines) - h.max; over > 0 {
		// Copy to a fresh slice so evicted lines can be garbage collected.
		fresh := make([]Line, len(h.lines)-over, h.max)
		copy(fresh, h.lines[over:])
		h.lines = fresh
	}
}

// Lines returns a copy of the history in chronological order.
func (h *History) Lines() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Line, len(h.lines))
	copy(out, h.lines)
	return out
}

// Len returns the number of lines currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

// Format renders the history as "role: text" lines. Empty history renders as
// an empty string; callers own their placeholders.
func (h *History) Format() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	for i, l := range h.lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(l.Role)
		sb.WriteString(": ")
		sb.WriteString(l.Text)
	}
	return sb.String()
}
