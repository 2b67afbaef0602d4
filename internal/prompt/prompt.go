// Package prompt assembles the full model prompt for one accepted input
// event.
//
// The prompt is a fixed sequence of markdown sections: persona, current
// date/time, core-memory summary, long-term memory list, previous chat log,
// conversation history, recent chat log, and the current task. Empty sections
// are still emitted with a placeholder literal so the prompt shape stays
// stable across calls. The task prompt is also returned on its own; the
// pipeline logs it into the conversation history after a successful
// generation.
package prompt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/moksori-live/moksori/internal/event"
	"github.com/moksori-live/moksori/pkg/memory"
	"github.com/moksori-live/moksori/pkg/types"
)

const (
	// DefaultUserTemplate renders speech and chat events into a task prompt.
	// {nickname} and {user_input} are replaced with the event's speaker and
	// text.
	DefaultUserTemplate = "A viewer named '{nickname}' chatted: '{user_input}'"

	// DefaultIdlePrompt is the task prompt for idle-timer events.
	DefaultIdlePrompt = "The stream has been quiet. Say something to re-engage the audience."

	timeLayout = "Monday, 2006-01-02 15:04:05"

	placeholderNone      = "(none)"
	placeholderNoRecent  = "(No recent chats)"
	placeholderNoPrev    = "(No previous chats)"
	placeholderNoHistory = "(No conversation history yet)"

	defaultRecallLimit = 5
)

// Assembler builds prompts from the persona, the memory stores, and the
// per-event inputs handed to [Assembler.Assemble].
type Assembler struct {
	persona      string
	idlePrompt   string
	userTemplate string
	longTerm     memory.LongTermStore
	core         memory.CoreStore
	searcher     memory.Searcher
	recallLimit  int
	clock        event.Clock
	log          *slog.Logger
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithIdlePrompt overrides the task prompt used for idle events.
func WithIdlePrompt(s string) Option {
	return func(a *Assembler) {
		if s != "" {
			a.idlePrompt = s
		}
	}
}

// WithUserTemplate overrides the task-prompt template for speech and chat
// events.
func WithUserTemplate(s string) Option {
	return func(a *Assembler) {
		if s != "" {
			a.userTemplate = s
		}
	}
}

// WithSearcher enables semantic recall: instead of the full long-term memory
// list, the prompt carries the facts most relevant to the event text.
func WithSearcher(s memory.Searcher) Option {
	return func(a *Assembler) { a.searcher = s }
}

// WithRecallLimit caps how many facts semantic recall pulls. Defaults to 5.
func WithRecallLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.recallLimit = n
		}
	}
}

// WithClock sets the time source for the date/time section.
func WithClock(c event.Clock) Option {
	return func(a *Assembler) { a.clock = c }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *Assembler) { a.log = log }
}

// NewAssembler creates an [Assembler] for the given persona and memory
// stores.
func NewAssembler(persona string, longTerm memory.LongTermStore, core memory.CoreStore, opts ...Option) *Assembler {
	a := &Assembler{
		persona:      persona,
		idlePrompt:   DefaultIdlePrompt,
		userTemplate: DefaultUserTemplate,
		longTerm:     longTerm,
		core:         core,
		recallLimit:  defaultRecallLimit,
		clock:        event.SystemClock{},
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Request carries the per-event inputs for one assembly.
type Request struct {
	// Event is the accepted input event.
	Event event.Input

	// PreviousChats are the window lines a prior response already saw.
	PreviousChats []types.ChatLine

	// RecentChats are the window lines new since the last response.
	RecentChats []types.ChatLine

	// History is the rendered conversation history.
	History string
}

// Result is one assembled prompt.
type Result struct {
	// Prompt is the full prompt sent to the model.
	Prompt string

	// TaskPrompt is the task section on its own, logged into the
	// conversation history alongside the model's response.
	TaskPrompt string
}

// Assemble builds the prompt for req. Memory-store failures never fail the
// assembly: they are logged and the affected section degrades to its
// placeholder, so a response still goes out with whatever context is
// available.
func (a *Assembler) Assemble(ctx context.Context, req Request) Result {
	task := a.taskPrompt(req.Event)
	facts := a.fetchLongTerm(ctx, req.Event.Text)
	core := a.fetchCoreSummary(ctx)

	var sb strings.Builder
	section := func(header, body, placeholder string) {
		if strings.TrimSpace(body) == "" {
			body = placeholder
		}
		sb.WriteString("# ")
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}

	section("System Persona", a.persona, placeholderNone)
	section("Current Date and Time", a.clock.Now().Format(timeLayout), placeholderNone)
	section("Core Memories", core, placeholderNone)
	section("Long-Term Memory", formatFactList(facts), placeholderNone)
	section("Previous Live Chat Log", FormatChatLines(req.PreviousChats), placeholderNoPrev)
	section("Conversation History", req.History, placeholderNoHistory)
	section("Recent Live Chat Log", FormatChatLines(req.RecentChats), placeholderNoRecent)
	section("Current Task", task, placeholderNone)

	return Result{
		Prompt:     strings.TrimRight(sb.String(), "\n") + "\n",
		TaskPrompt: task,
	}
}

// taskPrompt renders the task section for the event.
func (a *Assembler) taskPrompt(ev event.Input) string {
	if ev.Source == event.SourceIdle {
		return a.idlePrompt
	}
	speaker := ev.Speaker
	if speaker == "" {
		speaker = "Someone"
	}
	return strings.NewReplacer(
		"{nickname}", speaker,
		"{user_input}", ev.Text,
	).Replace(a.userTemplate)
}

// fetchLongTerm returns the facts for the long-term memory section. With a
// searcher configured and a non-empty query, the most relevant facts are
// pulled; otherwise, or when recall comes back empty, the full list is used.
func (a *Assembler) fetchLongTerm(ctx context.Context, query string) []string {
	if a.searcher != nil && query != "" {
		facts, err := a.searcher.Search(ctx, query, a.recallLimit)
		switch {
		case err != nil:
			a.log.Warn("semantic recall failed, falling back to full memory list", "error", err)
		case len(facts) > 0:
			return facts
		}
	}
	facts, err := a.longTerm.All(ctx)
	if err != nil {
		a.log.Warn("failed to read long-term memory for prompt", "error", err)
		return nil
	}
	return facts
}

// fetchCoreSummary returns the grouped core-memory summary.
func (a *Assembler) fetchCoreSummary(ctx context.Context) string {
	entries, err := a.core.Entries(ctx)
	if err != nil {
		a.log.Warn("failed to read core memory for prompt", "error", err)
		return ""
	}
	return memory.FormatSummary(entries)
}

// formatFactList renders long-term facts as "- fact" lines.
func formatFactList(facts []string) string {
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, f := range facts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(f)
	}
	return sb.String()
}

// FormatChatLines renders chat lines the way the model sees them, one
// "[user] message" per line.
func FormatChatLines(lines []types.ChatLine) string {
	if len(lines) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[")
		sb.WriteString(l.User)
		sb.WriteString("] ")
		sb.WriteString(l.Message)
	}
	return sb.String()
}
