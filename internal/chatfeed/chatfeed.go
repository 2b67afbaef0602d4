// Package chatfeed polls a live-chat source and feeds the results into the
// rolling chat window and the arbiter.
//
// Every new line lands in the window so the next prompt can quote it; each
// line additionally passes an independent Bernoulli trial to become a
// response candidate. Dropping a line from the trial does not drop it from
// the window.
package chatfeed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moksori-live/moksori/internal/arbiter"
	"github.com/moksori-live/moksori/internal/chatlog"
	"github.com/moksori-live/moksori/internal/event"
	"github.com/moksori-live/moksori/internal/status"
	"github.com/moksori-live/moksori/pkg/provider/chat"
	"github.com/moksori-live/moksori/pkg/types"
)

const (
	// DefaultInterval is the pause between polls.
	DefaultInterval = 2 * time.Second

	// DefaultFetchTimeout bounds one FetchLatest call.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultFetchLimit is how many recent lines one poll requests.
	DefaultFetchLimit = 20

	// DefaultResponseChance is the per-line probability of becoming a
	// response candidate.
	DefaultResponseChance = 0.3

	errBackoff = 10 * time.Second
)

// Poller periodically fetches recent chat and forwards what is new.
type Poller struct {
	source  chat.Source
	window  *chatlog.Window
	arb     *arbiter.Arbiter
	tracker *status.Tracker

	interval     time.Duration
	fetchTimeout time.Duration
	limit        int
	randFloat    func() float64
	clock        event.Clock
	log          *slog.Logger

	// chanceBits holds the response probability as float bits so config
	// reloads can adjust it while the poll loop runs.
	chanceBits atomic.Uint64

	// prev is the last fetch result, kept to diff out already-seen lines.
	// Touched only by the poll goroutine.
	prev []types.ChatLine

	done     chan struct{}
	stopOnce sync.Once
}

// Config configures a [Poller]. Source, Window, and Arbiter are required.
type Config struct {
	Source  chat.Source
	Window  *chatlog.Window
	Arbiter *arbiter.Arbiter

	// Tracker, when set, receives the seen-chat counter.
	Tracker *status.Tracker

	// Interval between polls. Defaults to [DefaultInterval] if zero.
	Interval time.Duration

	// FetchTimeout bounds each fetch. Defaults to [DefaultFetchTimeout].
	FetchTimeout time.Duration

	// FetchLimit is the per-poll line budget. Defaults to [DefaultFetchLimit].
	FetchLimit int

	// ResponseChance is taken verbatim: zero means chat never becomes a
	// response candidate, which is a valid configuration. The config layer
	// owns the 0.3 default.
	ResponseChance float64

	// Rand supplies the trial rolls in [0, 1). Defaults to rand.Float64.
	Rand func() float64

	// Clock stamps posted events. Defaults to the wall clock.
	Clock event.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// New creates a [Poller] from cfg.
func New(cfg Config) *Poller {
	p := &Poller{
		source:       cfg.Source,
		window:       cfg.Window,
		arb:          cfg.Arbiter,
		tracker:      cfg.Tracker,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		limit:        cfg.FetchLimit,
		randFloat:    cfg.Rand,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		done:         make(chan struct{}),
	}
	p.chanceBits.Store(math.Float64bits(cfg.ResponseChance))
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = DefaultFetchTimeout
	}
	if p.limit <= 0 {
		p.limit = DefaultFetchLimit
	}
	if p.randFloat == nil {
		p.randFloat = rand.Float64
	}
	if p.clock == nil {
		p.clock = event.SystemClock{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Start begins polling in a background goroutine until [Poller.Stop] is
// called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop halts the poll loop. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// SetResponseChance replaces the per-line response probability. Takes
// effect on the next poll.
func (p *Poller) SetResponseChance(chance float64) {
	p.chanceBits.Store(math.Float64bits(chance))
}

// PollNow performs one fetch-diff-forward cycle.
func (p *Poller) PollNow(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	latest, err := p.source.FetchLatest(fctx, p.limit)
	cancel()
	if err != nil {
		return fmt.Errorf("chatfeed: fetch latest: %w", err)
	}

	fresh := p.consumeNew(latest)
	if len(fresh) == 0 {
		return nil
	}
	p.log.Debug("new chat lines", "count", len(fresh))

	p.window.Append(fresh...)
	if p.tracker != nil {
		p.tracker.ChatSeen(len(fresh))
	}

	chance := math.Float64frombits(p.chanceBits.Load())
	for _, line := range fresh {
		if p.randFloat() >= chance {
			continue
		}
		p.arb.Post(event.Input{
			Source:     event.SourceChat,
			Speaker:    line.User,
			Text:       line.Message,
			ReceivedAt: p.clock.Now(),
		})
		p.log.Info("chat line elected for response",
			"user", line.User, "message", line.Message)
	}
	return nil
}

// consumeNew diffs latest (newest first) against the previous poll and
// returns the unseen lines oldest first.
func (p *Poller) consumeNew(latest []types.ChatLine) []types.ChatLine {
	seen := make(map[types.ChatLine]struct{}, len(p.prev))
	for _, l := range p.prev {
		seen[l] = struct{}{}
	}
	p.prev = slices.Clone(latest)

	var fresh []types.ChatLine
	for i := len(latest) - 1; i >= 0; i-- {
		if _, ok := seen[latest[i]]; !ok {
			fresh = append(fresh, latest[i])
		}
	}
	return fresh
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.PollNow(ctx); err != nil {
				p.log.Warn("chat poll failed", "error", err)
				if !sleep(ctx, p.done, errBackoff) {
					return
				}
			}
		}
	}
}

// sleep waits for d unless ctx or done ends first. It reports whether the
// full duration elapsed.
func sleep(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
