package prompt_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/moksori-live/moksori/internal/event"
	"github.com/moksori-live/moksori/internal/prompt"
	"github.com/moksori-live/moksori/pkg/memory"
	memmock "github.com/moksori-live/moksori/pkg/memory/mock"
	"github.com/moksori-live/moksori/pkg/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2026, 8, 25, 14, 3, 5, 0, time.Local)}

func chatEvent(speaker, text string) event.Input {
	return event.Input{Source: event.SourceChat, Speaker: speaker, Text: text}
}

func TestAssemble_FullPrompt(t *testing.T) {
	t.Parallel()
	ltm := &memmock.LongTerm{}
	ltm.Seed("the stream peaked at 500 viewers", "viewers loved the horror game")
	core := &memmock.Core{}
	core.Seed(
		memory.CoreEntry{
			MemoryText:      "the streamer is afraid of spiders",
			ImportanceLevel: memory.ImportanceCritical,
			Category:        "personality",
		},
		memory.CoreEntry{
			MemoryText:      "chat loves puns",
			ImportanceLevel: memory.ImportanceMedium,
			Category:        "audience",
		},
	)

	a := prompt.NewAssembler("You are Moksori, a cheerful virtual streamer.", ltm, core,
		prompt.WithClock(testClock))

	got := a.Assemble(context.Background(), prompt.Request{
		Event:         chatEvent("bob", "what game today?"),
		PreviousChats: []types.ChatLine{{User: "alice", Message: "hi there"}},
		RecentChats:   []types.ChatLine{{User: "bob", Message: "what game today?"}},
		History:       "user: hello\nmodel: hey!",
	})

	want := `# System Persona
You are Moksori, a cheerful virtual streamer.

# Current Date and Time
Tuesday, 2026-08-25 14:03:05

# Core Memories
Critical:
- the streamer is afraid of spiders (personality)

Medium:
- chat loves puns (audience)

# Long-Term Memory
- the stream peaked at 500 viewers
- viewers loved the horror game

# Previous Live Chat Log
[alice] hi there

# Conversation History
user: hello
model: hey!

# Recent Live Chat Log
[bob] what game today?

# Current Task
A viewer named 'bob' chatted: 'what game today?'
`
	if got.Prompt != want {
		t.Errorf("prompt mismatch:\n got: %q\nwant: %q", got.Prompt, want)
	}
	if want := "A viewer named 'bob' chatted: 'what game today?'"; got.TaskPrompt != want {
		t.Errorf("TaskPrompt = %q; want %q", got.TaskPrompt, want)
	}
}

func TestAssemble_EmptySectionsUsePlaceholders(t *testing.T) {
	t.Parallel()
	a := prompt.NewAssembler("", &memmock.LongTerm{}, &memmock.Core{},
		prompt.WithClock(testClock))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: event.Input{Source: event.SourceIdle},
	})

	want := `# System Persona
(none)

# Current Date and Time
Tuesday, 2026-08-25 14:03:05

# Core Memories
(none)

# Long-Term Memory
(none)

# Previous Live Chat Log
(No previous chats)

# Conversation History
(No conversation history yet)

# Recent Live Chat Log
(No recent chats)

# Current Task
The stream has been quiet. Say something to re-engage the audience.
`
	if got.Prompt != want {
		t.Errorf("prompt mismatch:\n got: %q\nwant: %q", got.Prompt, want)
	}
}

func TestAssemble_IdleUsesConfiguredPrompt(t *testing.T) {
	t.Parallel()
	a := prompt.NewAssembler("p", &memmock.LongTerm{}, &memmock.Core{},
		prompt.WithClock(testClock),
		prompt.WithIdlePrompt("Time to ramble."))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: event.Input{Source: event.SourceIdle},
	})
	if got.TaskPrompt != "Time to ramble." {
		t.Errorf("TaskPrompt = %q; want configured idle prompt", got.TaskPrompt)
	}
}

func TestAssemble_CustomUserTemplate(t *testing.T) {
	t.Parallel()
	a := prompt.NewAssembler("p", &memmock.LongTerm{}, &memmock.Core{},
		prompt.WithClock(testClock),
		prompt.WithUserTemplate("{nickname} says: {user_input}"))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: chatEvent("mina", "hello!"),
	})
	if want := "mina says: hello!"; got.TaskPrompt != want {
		t.Errorf("TaskPrompt = %q; want %q", got.TaskPrompt, want)
	}
}

func TestAssemble_EmptySpeakerFallsBack(t *testing.T) {
	t.Parallel()
	a := prompt.NewAssembler("p", &memmock.LongTerm{}, &memmock.Core{},
		prompt.WithClock(testClock))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: event.Input{Source: event.SourceSpeech, Text: "hi"},
	})
	if want := "A viewer named 'Someone' chatted: 'hi'"; got.TaskPrompt != want {
		t.Errorf("TaskPrompt = %q; want %q", got.TaskPrompt, want)
	}
}

func TestAssemble_SemanticRecall(t *testing.T) {
	t.Parallel()
	ltm := &memmock.LongTerm{SearchResults: []string{"viewers loved the horror game"}}
	ltm.Seed("the stream peaked at 500 viewers", "viewers loved the horror game")

	a := prompt.NewAssembler("p", ltm, &memmock.Core{},
		prompt.WithClock(testClock),
		prompt.WithSearcher(ltm),
		prompt.WithRecallLimit(3))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: chatEvent("bob", "play a scary game"),
	})

	if !strings.Contains(got.Prompt, "- viewers loved the horror game") {
		t.Errorf("prompt missing recalled fact:\n%s", got.Prompt)
	}
	if strings.Contains(got.Prompt, "- the stream peaked at 500 viewers") {
		t.Errorf("prompt contains non-recalled fact, full list was used:\n%s", got.Prompt)
	}
	if len(ltm.SearchCalls) != 1 {
		t.Fatalf("SearchCalls = %d; want 1", len(ltm.SearchCalls))
	}
	if call := ltm.SearchCalls[0]; call.Query != "play a scary game" || call.Limit != 3 {
		t.Errorf("Search(%q, %d); want query %q limit 3", call.Query, call.Limit, "play a scary game")
	}
}

func TestAssemble_SemanticRecallFallsBackOnError(t *testing.T) {
	t.Parallel()
	ltm := &memmock.LongTerm{SearchErr: context.DeadlineExceeded}
	ltm.Seed("the stream peaked at 500 viewers")

	a := prompt.NewAssembler("p", ltm, &memmock.Core{},
		prompt.WithClock(testClock),
		prompt.WithSearcher(ltm))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: chatEvent("bob", "anything"),
	})
	if !strings.Contains(got.Prompt, "- the stream peaked at 500 viewers") {
		t.Errorf("prompt missing full-list fallback after recall error:\n%s", got.Prompt)
	}
}

func TestAssemble_IdleSkipsSemanticRecall(t *testing.T) {
	t.Parallel()
	ltm := &memmock.LongTerm{SearchResults: []string{"x"}}
	a := prompt.NewAssembler("p", ltm, &memmock.Core{},
		prompt.WithClock(testClock),
		prompt.WithSearcher(ltm))

	a.Assemble(context.Background(), prompt.Request{
		Event: event.Input{Source: event.SourceIdle},
	})
	if len(ltm.SearchCalls) != 0 {
		t.Errorf("SearchCalls = %d; want 0 for idle events", len(ltm.SearchCalls))
	}
}

func TestAssemble_StoreFailuresDegradeToPlaceholders(t *testing.T) {
	t.Parallel()
	ltm := &memmock.LongTerm{RecentErr: context.DeadlineExceeded}
	core := &memmock.Core{EntriesErr: context.DeadlineExceeded}

	a := prompt.NewAssembler("p", ltm, core, prompt.WithClock(testClock))

	got := a.Assemble(context.Background(), prompt.Request{
		Event: chatEvent("bob", "hi"),
	})
	if !strings.Contains(got.Prompt, "# Long-Term Memory\n(none)") {
		t.Errorf("long-term section did not degrade to placeholder:\n%s", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "# Core Memories\n(none)") {
		t.Errorf("core section did not degrade to placeholder:\n%s", got.Prompt)
	}
}

func TestFormatChatLines(t *testing.T) {
	t.Parallel()
	got := prompt.FormatChatLines([]types.ChatLine{
		{User: "alice", Message: "hi"},
		{User: "bob", Message: "yo"},
	})
	if want := "[alice] hi\n[bob] yo"; got != want {
		t.Errorf("FormatChatLines = %q; want %q", got, want)
	}
	if got := prompt.FormatChatLines(nil); got != "" {
		t.Errorf("FormatChatLines(nil) = %q; want empty", got)
	}
}
