package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/provider/llm"
)

const (
	// defaultSummarizeInterval is the default period between summarization
	// ticks.
	defaultSummarizeInterval = 5 * time.Minute

	// errBackoff is how long a worker waits after a failed tick before the
	// ticker resumes, preventing rapid error looping.
	errBackoff = 10 * time.Second
)

// Summarizer periodically condenses the conversation history into a single
// factual sentence and inserts it into long-term memory. Inserts are
// idempotent, so summarizing an unchanged conversation twice is harmless.
//
// All methods are safe for concurrent use.
type Summarizer struct {
	history  *History
	longTerm memory.LongTermStore
	provider llm.Provider
	interval time.Duration
	log      *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// SummarizerConfig configures a [Summarizer].
type SummarizerConfig struct {
	// History is the conversation log to summarize.
	History *History

	// LongTerm receives the summaries.
	LongTerm memory.LongTermStore

	// Provider produces the summaries.
	Provider llm.Provider

	// Interval is how often to summarize. Defaults to 5 minutes if zero.
	Interval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// NewSummarizer creates a [Summarizer] with the given configuration.
func NewSummarizer(cfg SummarizerConfig) *Summarizer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSummarizeInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{
		history:  cfg.History,
		longTerm: cfg.LongTerm,
		provider: cfg.Provider,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins periodic summarization in a background goroutine. The
// goroutine runs until [Summarizer.Stop] is called or ctx is cancelled.
func (s *Summarizer) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the summarization loop. Safe to call multiple times.
func (s *Summarizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// SummarizeNow performs one immediate summarization pass. An empty history
// is a no-op.
func (s *Summarizer) SummarizeNow(ctx context.Context) error {
	if s.history.Len() == 0 {
		return nil
	}

	summary, err := s.provider.Summarize(ctx, s.history.Format())
	if err != nil {
		return fmt.Errorf("session: summarize history: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	if err := s.longTerm.Add(ctx, summary); err != nil {
		return fmt.Errorf("session: store summary: %w", err)
	}
	s.log.Info("conversation summarized into long-term memory", "summary", summary)
	return nil
}

func (s *Summarizer) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.SummarizeNow(ctx); err != nil {
				s.log.Warn("periodic summarization failed", "error", err)
				sleep(ctx, s.done, errBackoff)
			}
		}
	}
}

// sleep waits for d unless ctx is cancelled or done closes first.
func sleep(ctx context.Context, done <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-done:
	case <-t.C:
	}
}
