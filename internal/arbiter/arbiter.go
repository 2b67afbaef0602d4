// Package arbiter merges the three input producers into a single decision
// point and owns the current response token.
//
// Producers post [event.Input] values to a bounded mailbox. The arbiter
// drains it, coalesces backlogs so the newest user utterance wins, and
// applies the acceptance rules: speech always gets through and preempts an
// active response (barge-in), chat responds only when nothing is playing,
// and idle chatter fires only into complete silence. Accepted events are
// handed to the response pipeline one at a time through a single-slot
// channel, each bound to a freshly issued token.
//
// On preemption the arbiter clears the current token, asks the [Canceller]
// to stop in-flight work, and stores an [InterruptionRecord] for the next
// pipeline run. Cancellation never blocks the arbiter: stale audio dies by
// token mismatch even when the sink misbehaves.
package arbiter

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/moksori-live/moksori/internal/event"
	"github.com/moksori-live/moksori/internal/status"
	"github.com/moksori-live/moksori/internal/token"
)

// DefaultMailboxCap bounds the decision mailbox.
const DefaultMailboxCap = 64

// Accepted is one event the pipeline should respond to, bound to its token.
type Accepted struct {
	Event event.Input
	Token token.Token
}

// InterruptionRecord captures a barge-in. It is produced the moment the
// arbiter preempts and consumed exactly once by the next pipeline run.
type InterruptionRecord struct {
	// InterruptedToken is the token that was current when the barge-in hit.
	InterruptedToken token.Token

	// BySpeaker and ByText describe the interrupting utterance.
	BySpeaker string
	ByText    string

	// At is when the preemption happened.
	At time.Time
}

// Canceller stops the in-flight response during preemption. Implementations
// must not block on network I/O; the arbiter calls this inline.
type Canceller interface {
	// CancelResponse flags work bound to stale as cancelled, stops the sink,
	// and purges queued synthesis whose token is not fresh.
	CancelResponse(stale, fresh token.Token)
}

// Arbiter owns the decision mailbox and the current token.
//
// All methods are safe for concurrent use.
type Arbiter struct {
	mailbox  chan event.Input
	accepted chan Accepted
	issuer   *token.Issuer
	clock    event.Clock
	tracker  *status.Tracker
	log      *slog.Logger

	canceller Canceller

	mu              sync.Mutex
	current         token.Token
	pending         *InterruptionRecord
	lastInteraction time.Time

	// run lifecycle, guarded by lifeMu. stopRun cancels the active loop;
	// runDone closes when it exits.
	lifeMu  sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// Config configures an [Arbiter].
type Config struct {
	// MailboxCap bounds the mailbox. Defaults to [DefaultMailboxCap] if zero.
	MailboxCap int

	// Issuer hands out response tokens. A new issuer is created if nil.
	Issuer *token.Issuer

	// Clock stamps events and interactions. Defaults to the wall clock.
	Clock event.Clock

	// Tracker, when set, receives drop and preemption counters.
	Tracker *status.Tracker

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// New creates an [Arbiter] with the given configuration.
func New(cfg Config) *Arbiter {
	capacity := cfg.MailboxCap
	if capacity <= 0 {
		capacity = DefaultMailboxCap
	}
	issuer := cfg.Issuer
	if issuer == nil {
		issuer = token.NewIssuer()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = event.SystemClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{
		mailbox:         make(chan event.Input, capacity),
		accepted:        make(chan Accepted, 1),
		issuer:          issuer,
		clock:           clock,
		tracker:         cfg.Tracker,
		log:             log,
		lastInteraction: clock.Now(),
	}
}

// Start begins the decision loop in a background goroutine. canceller is
// invoked on every preemption. The loop runs until [Arbiter.Stop] is called
// or ctx is cancelled. Starting a running arbiter is a no-op; after Stop it
// may be started again, and mailbox contents survive across cycles.
func (a *Arbiter) Start(ctx context.Context, canceller Canceller) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.stopRun != nil {
		return
	}
	a.canceller = canceller
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.stopRun = cancel
	a.runDone = done
	go func() {
		defer close(done)
		a.run(rctx)
	}()
}

// Stop halts the decision loop and waits for it to exit. Safe to call
// multiple times.
func (a *Arbiter) Stop() {
	a.lifeMu.Lock()
	cancel, done := a.stopRun, a.runDone
	a.stopRun, a.runDone = nil, nil
	a.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Post offers an event to the mailbox without blocking. It reports false
// when the mailbox is full and the event was dropped. A zero ReceivedAt is
// stamped with the arbiter's clock; the interruption flag is always reset,
// producers do not get to set it.
func (a *Arbiter) Post(ev event.Input) bool {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = a.clock.Now()
	}
	ev.IsInterruption = false

	select {
	case a.mailbox <- ev:
		return true
	default:
		a.log.Warn("mailbox full, dropping event",
			"source", ev.Source.String(), "speaker", ev.Speaker)
		if ev.Source == event.SourceChat && a.tracker != nil {
			a.tracker.ChatDropped()
		}
		return false
	}
}

// Accepted returns the hand-off channel the pipeline consumes. At most one
// accepted event is pending at a time; a preemption replaces an unconsumed
// one.
func (a *Arbiter) Accepted() <-chan Accepted {
	return a.accepted
}

// Current returns the current response token, zero when idle.
func (a *Arbiter) Current() token.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// ClearToken clears the current token if it still equals tok, marking the
// end of that response and updating the last-interaction time. A stale tok
// is ignored, so a superseded pipeline run cannot clear its successor.
func (a *Arbiter) ClearToken(tok token.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == tok && !tok.IsZero() {
		a.current = token.Token{}
		a.lastInteraction = a.clock.Now()
	}
}

// ConsumeInterruption returns the pending interruption record and clears it,
// or nil when there is none.
func (a *Arbiter) ConsumeInterruption() *InterruptionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := a.pending
	a.pending = nil
	return rec
}

// LastInteraction returns the most recent of: an accepted non-idle event, or
// the end of a playback. The idle producer measures silence from this.
func (a *Arbiter) LastInteraction() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInteraction
}

// Pending returns how many events are queued or accepted but not yet picked
// up. The idle producer only fires when this is zero.
func (a *Arbiter) Pending() int {
	return len(a.mailbox) + len(a.accepted)
}

// ---- decision loop -----------------------------------------------------------

func (a *Arbiter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.mailbox:
			batch := append([]event.Input{ev}, a.drainMailbox()...)
			a.decide(batch)
		}
	}
}

// drainMailbox empties the mailbox without blocking.
func (a *Arbiter) drainMailbox() []event.Input {
	var out []event.Input
	for {
		select {
		case ev := <-a.mailbox:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// decide coalesces the batch to a single winner and applies the acceptance
// rules to it.
func (a *Arbiter) decide(batch []event.Input) {
	winner, losers := coalesce(batch)
	for _, l := range losers {
		a.log.Debug("event superseded in mailbox",
			"source", l.Source.String(), "speaker", l.Speaker)
		if l.Source == event.SourceChat && a.tracker != nil {
			a.tracker.ChatDropped()
		}
	}

	active := !a.Current().IsZero()
	switch winner.Source {
	case event.SourceSpeech:
		if active {
			a.preempt(winner)
			return
		}
		a.deliver(winner)

	case event.SourceChat:
		if active {
			a.log.Info("chat event dropped, response in flight",
				"user", winner.Speaker, "message", winner.Text)
			if a.tracker != nil {
				a.tracker.ChatDropped()
			}
			return
		}
		a.deliver(winner)

	case event.SourceIdle:
		if active || len(a.mailbox) > 0 {
			a.log.Debug("idle event dropped",
				"active", active, "backlog", len(a.mailbox))
			return
		}
		a.deliver(winner)
	}
}

// preempt performs a barge-in: clear the current token, cancel in-flight
// work, store the interruption record, then deliver the speech event with a
// fresh token.
func (a *Arbiter) preempt(ev event.Input) {
	fresh := a.issuer.Next()

	a.mu.Lock()
	stale := a.current
	a.current = token.Token{}
	a.pending = &InterruptionRecord{
		InterruptedToken: stale,
		BySpeaker:        ev.Speaker,
		ByText:           ev.Text,
		At:               a.clock.Now(),
	}
	a.mu.Unlock()

	if a.canceller != nil {
		a.canceller.CancelResponse(stale, fresh)
	}
	a.log.Info("barge-in, response preempted",
		"stale", stale.String(), "fresh", fresh.String(), "speaker", ev.Speaker)
	if a.tracker != nil {
		a.tracker.ResponsePreempted()
	}

	ev.IsInterruption = true
	a.handOff(ev, fresh)
}

// deliver accepts an event with a fresh token.
func (a *Arbiter) deliver(ev event.Input) {
	a.handOff(ev, a.issuer.Next())
}

// handOff binds tok as current and places the accepted event in the
// single-slot channel, displacing any unconsumed predecessor.
func (a *Arbiter) handOff(ev event.Input, tok token.Token) {
	a.mu.Lock()
	a.current = tok
	if ev.Source != event.SourceIdle {
		a.lastInteraction = a.clock.Now()
	}
	a.mu.Unlock()

	// The arbiter goroutine is the only sender, so after the drain the
	// buffered send cannot block.
	select {
	case old := <-a.accepted:
		a.log.Debug("unconsumed accepted event displaced",
			"source", old.Event.Source.String(), "token", old.Token.String())
	default:
	}
	a.accepted <- Accepted{Event: ev, Token: tok}

	a.log.Info("event accepted",
		"source", ev.Source.String(),
		"speaker", ev.Speaker,
		"token", tok.String(),
		"interruption", ev.IsInterruption)
}

// coalesce picks the winning event from a batch: newest first, any
// interruption or speech outranks everything, then the newest chat, then the
// newest idle.
func coalesce(batch []event.Input) (event.Input, []event.Input) {
	if len(batch) == 1 {
		return batch[0], nil
	}

	sorted := slices.Clone(batch)
	slices.SortStableFunc(sorted, func(x, y event.Input) int {
		return y.ReceivedAt.Compare(x.ReceivedAt)
	})

	idx := -1
	for i, ev := range sorted {
		if ev.IsInterruption || ev.Source == event.SourceSpeech {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, ev := range sorted {
			if ev.Source == event.SourceChat {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], slices.Delete(sorted, idx, idx+1)
}
