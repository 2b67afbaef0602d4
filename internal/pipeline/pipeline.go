// Package pipeline turns accepted input events into spoken responses.
//
// A single worker consumes hand-offs from the arbiter and runs each one
// through the full response path: prompt assembly, language-model
// generation, speech synthesis, and chunked playback on the audio sink.
// The pipeline is single-flight; it processes one response at a time and
// relies on the arbiter to queue, coalesce, and preempt around it.
//
// Cancellation is cooperative and token-keyed. The arbiter calls
// [Pipeline.CancelResponse] during a barge-in, which flips a cancel flag,
// stops the sink, and purges the synthesis intake. The worker itself never
// aborts a network call mid-flight; it checks its token between phases and
// at every chunk boundary, and drops stale output on the floor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moksori-live/moksori/internal/arbiter"
	"github.com/moksori-live/moksori/internal/chatlog"
	"github.com/moksori-live/moksori/internal/prompt"
	"github.com/moksori-live/moksori/internal/session"
	"github.com/moksori-live/moksori/internal/status"
	"github.com/moksori-live/moksori/internal/token"
	"github.com/moksori-live/moksori/pkg/audio"
	"github.com/moksori-live/moksori/pkg/avatar"
	"github.com/moksori-live/moksori/pkg/provider/llm"
	"github.com/moksori-live/moksori/pkg/provider/tts"
)

// DefaultGenerateTimeout bounds a single language-model call.
const DefaultGenerateTimeout = 30 * time.Second

// ApologyText is spoken when generation fails, so the audience still hears
// that their input was received.
const ApologyText = "죄송해요, 지금은 답변을 생성할 수 없어요."

// chunkRelayBuffer decouples synthesis bursts from device-paced writes.
const chunkRelayBuffer = 8

// LatencyRecorder receives the wall time of each completed response.
type LatencyRecorder interface {
	ResponseLatency(d time.Duration)
}

// intakeItem is the single-slot hand-off between generation and synthesis.
type intakeItem struct {
	tok  token.Token
	text string
}

// Pipeline is the single-flight response worker.
type Pipeline struct {
	arb     *arbiter.Arbiter
	llm     llm.Provider
	tts     tts.Synthesizer
	sink    audio.Sink
	avatar  avatar.Controller
	history *session.History
	window  *chatlog.Window
	tracker *status.Tracker
	latency LatencyRecorder
	timeout time.Duration
	log     *slog.Logger

	// cancelledSeq is the highest token sequence a barge-in has cancelled.
	// Any token at or below it is stale.
	cancelledSeq atomic.Uint64

	mu        sync.Mutex
	assembler *prompt.Assembler
	intake    *intakeItem

	// run lifecycle, guarded by lifeMu. stopRun cancels the active loop;
	// runDone closes when it exits.
	lifeMu  sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// Config configures a [Pipeline]. Arbiter, LLM, TTS, Sink, Assembler,
// History, Window, and Tracker are required; the engine validates presence
// before starting.
type Config struct {
	Arbiter   *arbiter.Arbiter
	LLM       llm.Provider
	TTS       tts.Synthesizer
	Sink      audio.Sink
	Assembler *prompt.Assembler
	History   *session.History
	Window    *chatlog.Window
	Tracker   *status.Tracker

	// Avatar, when set, has its mouth parameter zeroed after each playback
	// concludes, so a stream cut mid-word does not leave the mouth open.
	Avatar avatar.Controller

	// Latency, when set, receives per-response wall times.
	Latency LatencyRecorder

	// GenerateTimeout bounds each model call. Defaults to
	// [DefaultGenerateTimeout] if zero.
	GenerateTimeout time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// New creates a [Pipeline] from cfg.
func New(cfg Config) *Pipeline {
	timeout := cfg.GenerateTimeout
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		arb:       cfg.Arbiter,
		llm:       cfg.LLM,
		tts:       cfg.TTS,
		sink:      cfg.Sink,
		avatar:    cfg.Avatar,
		assembler: cfg.Assembler,
		history:   cfg.History,
		window:    cfg.Window,
		tracker:   cfg.Tracker,
		latency:   cfg.Latency,
		timeout:   timeout,
		log:       log,
	}
}

// SetAssembler swaps the prompt assembler. The next response uses the new
// one; an in-flight response keeps the assembler it started with.
func (p *Pipeline) SetAssembler(a *prompt.Assembler) {
	p.mu.Lock()
	p.assembler = a
	p.mu.Unlock()
}

func (p *Pipeline) currentAssembler() *prompt.Assembler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assembler
}

// Start begins the response loop in a background goroutine. It runs until
// [Pipeline.Stop] is called or ctx is cancelled. Starting a running
// pipeline is a no-op; after Stop it may be started again.
func (p *Pipeline) Start(ctx context.Context) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.stopRun != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.stopRun = cancel
	p.runDone = done
	go func() {
		defer close(done)
		p.run(rctx)
	}()
}

// Stop halts the response loop and waits for it to exit. An in-flight
// response is aborted through its context. Safe to call multiple times.
func (p *Pipeline) Stop() {
	p.lifeMu.Lock()
	cancel, done := p.stopRun, p.runDone
	p.stopRun, p.runDone = nil, nil
	p.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CancelResponse implements [arbiter.Canceller]. It flags the stale token as
// cancelled, stops the sink, and purges the synthesis intake of anything not
// bound to fresh. It never blocks on network I/O.
func (p *Pipeline) CancelResponse(stale, fresh token.Token) {
	if old := p.cancelledSeq.Load(); stale.Seq > old {
		p.cancelledSeq.Store(stale.Seq)
	}
	p.sink.Stop()
	p.purgeIntake(fresh)
	p.log.Debug("cancel applied",
		"stale", stale.String(), "fresh", fresh.String())
}

// ---- response loop -----------------------------------------------------------

func (p *Pipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case acc := <-p.arb.Accepted():
			p.respond(ctx, acc)
		}
	}
}

// respond runs one accepted event through generation, synthesis, and
// playback. It returns early without touching shared state when the token
// goes stale, leaving the speaking state to the successor run.
func (p *Pipeline) respond(ctx context.Context, acc arbiter.Accepted) {
	tok := acc.Token
	start := time.Now()

	p.tracker.SetToken(tok.Tag)
	p.tracker.SetSpeaking(status.Synthesizing)
	p.tracker.ResponseStarted()
	p.log.Info("response started",
		"token", tok.String(),
		"source", acc.Event.Source.String(),
		"speaker", acc.Event.Speaker)

	if rec := p.arb.ConsumeInterruption(); rec != nil {
		p.history.AddSystem(fmt.Sprintf(
			"previous response interrupted by %s with '%s'", rec.BySpeaker, rec.ByText))
	}

	previous, recent := p.window.SplitAndAdvance()
	res := p.currentAssembler().Assemble(ctx, prompt.Request{
		Event:         acc.Event,
		PreviousChats: previous,
		RecentChats:   recent,
		History:       p.history.Format(),
	})
	p.tracker.RecordPrompt(res.Prompt)

	gctx, cancel := context.WithTimeout(ctx, p.timeout)
	text, genErr := p.llm.Generate(gctx, res.Prompt)
	cancel()

	if ctx.Err() != nil {
		p.arb.ClearToken(tok)
		p.tracker.SetToken("")
		p.tracker.SetSpeaking(status.Idle)
		return
	}
	if p.stale(tok) {
		p.log.Info("response discarded, token superseded during generation",
			"token", tok.String())
		return
	}

	switch {
	case genErr != nil:
		p.log.Warn("generation failed, speaking apology",
			"token", tok.String(), "error", genErr)
		text = ApologyText
	case strings.TrimSpace(text) == "":
		p.log.Warn("generation returned empty text, speaking apology",
			"token", tok.String())
		text = ApologyText
	default:
		text = strings.TrimSpace(text)
		p.history.AddExchange(res.TaskPrompt, text)
	}
	p.tracker.RecordResponse(text)

	p.setIntake(tok, text)
	item, ok := p.takeIntake(tok)
	if !ok {
		p.log.Info("response discarded, synthesis intake purged",
			"token", tok.String())
		return
	}

	interrupted, playErr := p.speak(ctx, tok, item.text)
	if interrupted {
		p.log.Info("playback cut short by barge-in", "token", tok.String())
		return
	}
	if playErr != nil {
		p.log.Error("playback failed", "token", tok.String(), "error", playErr)
	}
	p.finish(tok, start)
}

// speak synthesizes text and forwards the chunk stream to the sink, checking
// the token at every chunk boundary. It reports interrupted=true when the
// token went stale mid-stream.
func (p *Pipeline) speak(ctx context.Context, tok token.Token, text string) (interrupted bool, err error) {
	synthCh, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		return false, fmt.Errorf("pipeline: start synthesis: %w", err)
	}

	relay := make(chan []byte, chunkRelayBuffer)
	playRes := make(chan error, 1)
	go func() {
		playRes <- p.sink.PlayStream(ctx, relay)
	}()

	var (
		sinkDone bool
		sinkErr  error
		first    = true
	)
	for chunk := range synthCh {
		if p.stale(tok) {
			interrupted = true
			break
		}
		select {
		case relay <- chunk:
			if first {
				first = false
				p.tracker.SetSpeaking(status.Playing)
				p.log.Debug("playback started", "token", tok.String())
			}
		case sinkErr = <-playRes:
			sinkDone = true
		}
		if sinkDone {
			break
		}
	}
	close(relay)

	if !sinkDone {
		if interrupted {
			p.sink.Stop()
		}
		sinkErr = <-playRes
	}
	if !interrupted && p.stale(tok) {
		interrupted = true
	}
	if interrupted || sinkDone {
		// Synthesis may still be producing; do not strand its goroutine.
		go audio.Drain(synthCh)
	}
	if p.avatar != nil {
		// The sink's loudness callback stops with the stream; close the mouth.
		p.avatar.SetMouthOpen(0)
	}

	if interrupted {
		return true, nil
	}
	if sinkErr != nil {
		return false, fmt.Errorf("pipeline: playback: %w", sinkErr)
	}
	return false, nil
}

// finish releases the token and publishes the idle state.
func (p *Pipeline) finish(tok token.Token, start time.Time) {
	p.arb.ClearToken(tok)
	p.tracker.SetToken("")
	p.tracker.SetSpeaking(status.Idle)
	p.tracker.ResponseCompleted()
	if p.latency != nil {
		p.latency.ResponseLatency(time.Since(start))
	}

	// A sink still playing with no token bound has escaped its response.
	if p.sink.IsPlaying() && p.arb.Current().IsZero() {
		p.log.Error("sink playing with no current token, forcing stop",
			"token", tok.String())
		p.sink.Stop()
	}

	p.log.Info("response completed",
		"token", tok.String(), "took", time.Since(start))
}

// ---- cancellation state ------------------------------------------------------

// stale reports whether tok has been cancelled or superseded.
func (p *Pipeline) stale(tok token.Token) bool {
	return tok.Seq <= p.cancelledSeq.Load() || p.arb.Current() != tok
}

func (p *Pipeline) setIntake(tok token.Token, text string) {
	p.mu.Lock()
	p.intake = &intakeItem{tok: tok, text: text}
	p.mu.Unlock()
}

// takeIntake removes the pending item and reports whether it carried tok.
func (p *Pipeline) takeIntake(tok token.Token) (intakeItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := p.intake
	p.intake = nil
	if item == nil || item.tok != tok {
		return intakeItem{}, false
	}
	return *item, true
}

// purgeIntake drops a pending item unless it is bound to fresh.
func (p *Pipeline) purgeIntake(fresh token.Token) {
	p.mu.Lock()
	if p.intake != nil && p.intake.tok != fresh {
		p.intake = nil
	}
	p.mu.Unlock()
}

// Ensure Pipeline implements the arbiter's cancel surface at compile time.
var _ arbiter.Canceller = (*Pipeline)(nil)
