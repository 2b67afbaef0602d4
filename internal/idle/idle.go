// Package idle fires conversation starters into silence.
//
// A timer wakes on a fixed tick and measures how long the stream has been
// quiet: the time since the last accepted speech or chat event, or since the
// last playback ended, whichever is newer. When that silence exceeds a
// per-cycle random threshold and nothing is playing, queued, or in flight,
// one Idle event is posted so the streamer re-engages the audience.
package idle

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/moksori-live/moksori/internal/arbiter"
	"github.com/moksori-live/moksori/internal/event"
	"github.com/moksori-live/moksori/internal/status"
	"github.com/moksori-live/moksori/pkg/audio"
)

const (
	// DefaultTick is the evaluation cadence.
	DefaultTick = 5 * time.Second

	// DefaultMinInterval and DefaultMaxInterval bound the random silence
	// threshold.
	DefaultMinInterval = 30 * time.Second
	DefaultMaxInterval = 90 * time.Second
)

// Timer posts Idle events after sustained silence.
type Timer struct {
	arb     *arbiter.Arbiter
	sink    audio.Sink
	tracker *status.Tracker

	tick      time.Duration
	min, max  time.Duration
	randFloat func() float64
	clock     event.Clock
	log       *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// Config configures a [Timer]. Arbiter is required; Sink may be nil when no
// playback surface exists.
type Config struct {
	Arbiter *arbiter.Arbiter
	Sink    audio.Sink

	// Tracker, when set, receives the idle-fire counter.
	Tracker *status.Tracker

	// Tick is the evaluation cadence. Defaults to [DefaultTick] if zero.
	Tick time.Duration

	// MinInterval and MaxInterval bound the random silence threshold.
	// Defaults to [DefaultMinInterval] and [DefaultMaxInterval].
	MinInterval time.Duration
	MaxInterval time.Duration

	// Rand supplies the threshold rolls in [0, 1). Defaults to rand.Float64.
	Rand func() float64

	// Clock measures silence. Defaults to the wall clock.
	Clock event.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// New creates a [Timer] from cfg.
func New(cfg Config) *Timer {
	t := &Timer{
		arb:       cfg.Arbiter,
		sink:      cfg.Sink,
		tracker:   cfg.Tracker,
		tick:      cfg.Tick,
		min:       cfg.MinInterval,
		max:       cfg.MaxInterval,
		randFloat: cfg.Rand,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		done:      make(chan struct{}),
	}
	if t.tick <= 0 {
		t.tick = DefaultTick
	}
	if t.min <= 0 {
		t.min = DefaultMinInterval
	}
	if t.max <= 0 {
		t.max = DefaultMaxInterval
	}
	if t.randFloat == nil {
		t.randFloat = rand.Float64
	}
	if t.clock == nil {
		t.clock = event.SystemClock{}
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

// Start begins the tick loop in a background goroutine until [Timer.Stop] is
// called or ctx is cancelled.
func (t *Timer) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Stop halts the tick loop. Safe to call multiple times.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

// CheckNow runs one evaluation cycle and reports whether an Idle event was
// posted.
func (t *Timer) CheckNow() bool {
	if t.sink != nil && t.sink.IsPlaying() {
		return false
	}
	if !t.arb.Current().IsZero() || t.arb.Pending() > 0 {
		return false
	}

	silence := t.clock.Now().Sub(t.arb.LastInteraction())
	threshold := t.threshold()
	if silence <= threshold {
		return false
	}
	if !t.arb.Post(event.Input{Source: event.SourceIdle, ReceivedAt: t.clock.Now()}) {
		return false
	}
	if t.tracker != nil {
		t.tracker.IdleFired()
	}
	t.log.Info("idle trigger fired",
		"silence", silence.Round(time.Second),
		"threshold", threshold.Round(time.Second))
	return true
}

// threshold rolls this cycle's uniform threshold in [min, max].
func (t *Timer) threshold() time.Duration {
	if t.max <= t.min {
		return t.min
	}
	return t.min + time.Duration(t.randFloat()*float64(t.max-t.min))
}

func (t *Timer) loop(ctx context.Context) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.CheckNow()
		}
	}
}
