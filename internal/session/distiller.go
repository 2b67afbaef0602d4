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
	"github.com/moksori-live/moksori/pkg/types"
)

// defaultDistillInterval is the default period between distillation ticks.
const defaultDistillInterval = 30 * time.Minute

// distillPreamble asks the model to sift long-term memories for facts worth
// keeping permanently. The memory list is appended below it.
const distillPreamble = `You are analyzing a virtual streamer's long-term memories to identify the information that should be preserved permanently as core memories.

Review the memories below and pick out what must be remembered for a very long time:

`

// distillGuidelines closes the distillation prompt.
const distillGuidelines = `

Look for:
1. Important viewer preferences or personality traits
2. Significant personal information about regular viewers or the streamer
3. Critical relationship details
4. Important stream events or milestones
5. Key context that affects how the streamer should interact

For each piece of information important enough to be a core memory, call the save_core_memory function.

Guidelines:
- Only save truly important information that stays valuable long-term
- Summarize concisely but preserve key details
- Choose appropriate importance levels (critical, high, medium)
- Categorize appropriately (user_preference, personal_info, important_event, relationship, context)
- Do not save duplicate or redundant information

Analyze the memories now and save any core memories you identify.`

// ToolHost offers tool definitions to the model and executes the calls it
// makes. The save_core_memory builtin is how distilled facts reach the core
// store.
type ToolHost interface {
	// Definitions lists the tools to offer.
	Definitions() []types.ToolDefinition

	// Dispatch executes one tool call and returns its textual result.
	Dispatch(ctx context.Context, call types.ToolCall) (string, error)
}

// Distiller periodically asks the model to sift long-term memory for facts
// worth keeping as core memories. The model saves each one through the
// save_core_memory tool, so a single pass may append several entries or none.
//
// All methods are safe for concurrent use.
type Distiller struct {
	longTerm memory.LongTermStore
	provider llm.Provider
	tools    ToolHost
	interval time.Duration
	log      *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// DistillerConfig configures a [Distiller].
type DistillerConfig struct {
	// LongTerm is the memory store being distilled.
	LongTerm memory.LongTermStore

	// Provider runs the tool-calling generation.
	Provider llm.Provider

	// Tools supplies the tool definitions and executes the calls. It must
	// include the save_core_memory builtin.
	Tools ToolHost

	// Interval is how often to distill. Defaults to 30 minutes if zero.
	Interval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// NewDistiller creates a [Distiller] with the given configuration.
func NewDistiller(cfg DistillerConfig) *Distiller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultDistillInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Distiller{
		longTerm: cfg.LongTerm,
		provider: cfg.Provider,
		tools:    cfg.Tools,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins periodic distillation in a background goroutine. The
// goroutine runs until [Distiller.Stop] is called or ctx is cancelled.
func (d *Distiller) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the distillation loop. Safe to call multiple times.
func (d *Distiller) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
}

// DistillNow performs one immediate distillation pass. Empty long-term
// memory is a no-op. A failed tool call is logged and skipped; the remaining
// calls still run.
func (d *Distiller) DistillNow(ctx context.Context) error {
	facts, err := d.longTerm.All(ctx)
	if err != nil {
		return fmt.Errorf("session: read long-term memory: %w", err)
	}
	if len(facts) == 0 {
		return nil
	}

	calls, err := d.provider.GenerateWithTools(ctx, distillPrompt(facts), d.tools.Definitions())
	if err != nil {
		return fmt.Errorf("session: distill memories: %w", err)
	}

	saved := 0
	for _, call := range calls {
		if _, err := d.tools.Dispatch(ctx, call); err != nil {
			d.log.Warn("tool call failed during distillation",
				"tool", call.Name, "error", err)
			continue
		}
		saved++
	}
	d.log.Info("core-memory distillation pass complete",
		"memories", len(facts), "tool_calls", len(calls), "saved", saved)
	return nil
}

func (d *Distiller) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if err := d.DistillNow(ctx); err != nil {
				d.log.Warn("periodic distillation failed", "error", err)
				sleep(ctx, d.done, errBackoff)
			}
		}
	}
}

// distillPrompt renders the distillation prompt around the memory list.
func distillPrompt(facts []string) string {
	var sb strings.Builder
	sb.WriteString(distillPreamble)
	for i, f := range facts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(f)
	}
	sb.WriteString(distillGuidelines)
	return sb.String()
}
