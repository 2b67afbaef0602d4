// Package status is the thread-safe read view over the engine's state.
//
// The response pipeline publishes its speaking state and last prompt/response
// here, the workers bump counters, and the dashboard pulls a [Snapshot]
// combining that with the conversation history, the memory stores, and the
// rolling chat window. Writers never block readers for long: the speaking
// state is a single atomic word and everything else is copied out under a
// short mutex hold.
package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moksori-live/moksori/internal/chatlog"
	"github.com/moksori-live/moksori/internal/session"
	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/types"
)

// SpeakingState is the pipeline's observable activity.
type SpeakingState int32

const (
	// Idle means no response is being produced or played.
	Idle SpeakingState = iota

	// Synthesizing means a response is being generated or synthesized but
	// playback has not started.
	Synthesizing

	// Playing means response audio is being played.
	Playing
)

// String returns the lowercase name of the state.
func (s SpeakingState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Synthesizing:
		return "synthesizing"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Counters are the monotonically increasing tallies shown on the dashboard.
type Counters struct {
	ResponsesStarted   uint64 `json:"responses_started"`
	ResponsesCompleted uint64 `json:"responses_completed"`
	ResponsesPreempted uint64 `json:"responses_preempted"`
	ChatSeen           uint64 `json:"chat_seen"`
	ChatDropped        uint64 `json:"chat_dropped"`
	IdleFires          uint64 `json:"idle_fires"`
	MemoryWrites       uint64 `json:"memory_writes"`
}

// Snapshot is one consistent dashboard view.
type Snapshot struct {
	Speaking         string           `json:"speaking"`
	TokenTag         string           `json:"token_tag"`
	History          string           `json:"history"`
	LongTermMemories []string         `json:"long_term_memories"`
	CoreSummary      string           `json:"core_summary"`
	ChatWindow       []types.ChatLine `json:"chat_window"`
	LastPrompt       string           `json:"last_prompt"`
	LastResponse     string           `json:"last_response"`
	Counters         Counters         `json:"counters"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Observer mirrors every counter bump to an external metrics backend.
// Implementations must be fast and non-blocking.
type Observer interface {
	ResponseStarted()
	ResponseCompleted()
	ResponsePreempted()
	ChatSeen(n int)
	ChatDropped()
	IdleFired()
	MemoryWritten()
}

// Tracker collects the engine's observable state.
//
// All methods are safe for concurrent use.
type Tracker struct {
	history  *session.History
	longTerm memory.LongTermStore
	core     memory.CoreStore
	window   *chatlog.Window
	log      *slog.Logger
	obs      Observer

	speaking atomic.Int32

	started   atomic.Uint64
	completed atomic.Uint64
	preempted atomic.Uint64
	chatSeen  atomic.Uint64
	chatDrop  atomic.Uint64
	idleFires atomic.Uint64
	memWrites atomic.Uint64

	mu           sync.Mutex
	tokenTag     string
	lastPrompt   string
	lastResponse string
}

// Option is a functional option for [NewTracker].
type Option func(*Tracker)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithObserver mirrors counter bumps to o in addition to the tracker's own
// atomic counters.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.obs = o }
}

// NewTracker creates a tracker reading from the given state owners.
func NewTracker(history *session.History, longTerm memory.LongTermStore, core memory.CoreStore, window *chatlog.Window, opts ...Option) *Tracker {
	t := &Tracker{
		history:  history,
		longTerm: longTerm,
		core:     core,
		window:   window,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetSpeaking publishes the pipeline's speaking state.
func (t *Tracker) SetSpeaking(s SpeakingState) {
	t.speaking.Store(int32(s))
}

// Speaking returns the current speaking state.
func (t *Tracker) Speaking() SpeakingState {
	return SpeakingState(t.speaking.Load())
}

// SetToken publishes the tag of the current response token. An empty tag
// means no response is current.
func (t *Tracker) SetToken(tag string) {
	t.mu.Lock()
	t.tokenTag = tag
	t.mu.Unlock()
}

// RecordPrompt publishes the last fully assembled prompt.
func (t *Tracker) RecordPrompt(prompt string) {
	t.mu.Lock()
	t.lastPrompt = prompt
	t.mu.Unlock()
}

// RecordResponse publishes the last model response.
func (t *Tracker) RecordResponse(text string) {
	t.mu.Lock()
	t.lastResponse = text
	t.mu.Unlock()
}

// ResponseStarted bumps the started counter.
func (t *Tracker) ResponseStarted() {
	t.started.Add(1)
	if t.obs != nil {
		t.obs.ResponseStarted()
	}
}

// ResponseCompleted bumps the completed counter.
func (t *Tracker) ResponseCompleted() {
	t.completed.Add(1)
	if t.obs != nil {
		t.obs.ResponseCompleted()
	}
}

// ResponsePreempted bumps the preempted counter.
func (t *Tracker) ResponsePreempted() {
	t.preempted.Add(1)
	if t.obs != nil {
		t.obs.ResponsePreempted()
	}
}

// ChatSeen adds n to the seen-chat counter.
func (t *Tracker) ChatSeen(n int) {
	if n <= 0 {
		return
	}
	t.chatSeen.Add(uint64(n))
	if t.obs != nil {
		t.obs.ChatSeen(n)
	}
}

// ChatDropped bumps the dropped-chat counter.
func (t *Tracker) ChatDropped() {
	t.chatDrop.Add(1)
	if t.obs != nil {
		t.obs.ChatDropped()
	}
}

// IdleFired bumps the idle-trigger counter.
func (t *Tracker) IdleFired() {
	t.idleFires.Add(1)
	if t.obs != nil {
		t.obs.IdleFired()
	}
}

// MemoryWritten bumps the memory-write counter.
func (t *Tracker) MemoryWritten() {
	t.memWrites.Add(1)
	if t.obs != nil {
		t.obs.MemoryWritten()
	}
}

// Snapshot assembles one dashboard view. Memory-store read failures are
// logged and leave the affected field empty; the snapshot never fails.
func (t *Tracker) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Speaking:    t.Speaking().String(),
		GeneratedAt: time.Now(),
		Counters: Counters{
			ResponsesStarted:   t.started.Load(),
			ResponsesCompleted: t.completed.Load(),
			ResponsesPreempted: t.preempted.Load(),
			ChatSeen:           t.chatSeen.Load(),
			ChatDropped:        t.chatDrop.Load(),
			IdleFires:          t.idleFires.Load(),
			MemoryWrites:       t.memWrites.Load(),
		},
	}

	t.mu.Lock()
	snap.TokenTag = t.tokenTag
	snap.LastPrompt = t.lastPrompt
	snap.LastResponse = t.lastResponse
	t.mu.Unlock()

	if t.history != nil {
		snap.History = t.history.Format()
	}
	if t.window != nil {
		snap.ChatWindow = t.window.Snapshot()
	}
	if t.longTerm != nil {
		facts, err := t.longTerm.All(ctx)
		if err != nil {
			t.log.Warn("failed to read long-term memory for snapshot", "error", err)
		} else {
			snap.LongTermMemories = facts
		}
	}
	if t.core != nil {
		entries, err := t.core.Entries(ctx)
		if err != nil {
			t.log.Warn("failed to read core memory for snapshot", "error", err)
		} else {
			snap.CoreSummary = memory.FormatSummary(entries)
		}
	}
	return snap
}
