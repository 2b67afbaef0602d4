// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to feed controlled model output without a live
// LLM backend and to verify the prompts the engine assembles. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{GenerateResult: "Hello!"}
//	resp, err := p.Generate(ctx, prompt)
package mock

import (
	"context"
	"sync"

	"github.com/moksori-live/moksori/pkg/provider/llm"
	"github.com/moksori-live/moksori/pkg/types"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Prompt is the assembled prompt passed to Generate.
	Prompt string
}

// SummarizeCall records a single invocation of Summarize.
type SummarizeCall struct {
	// Ctx is the context passed to Summarize.
	Ctx context.Context
	// Text is the input passed to Summarize.
	Text string
}

// ToolsCall records a single invocation of GenerateWithTools.
type ToolsCall struct {
	// Ctx is the context passed to GenerateWithTools.
	Ctx context.Context
	// Prompt is the assembled prompt passed to GenerateWithTools.
	Prompt string
	// Tools is the tool list offered to the model.
	Tools []types.ToolDefinition
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateResult is returned by Generate when GenerateFunc is nil.
	GenerateResult string

	// GenerateErr, if non-nil, is returned as the error from Generate when
	// GenerateFunc is nil.
	GenerateErr error

	// GenerateFunc, if non-nil, handles Generate calls instead of the fixed
	// GenerateResult/GenerateErr pair. Use it for per-prompt responses or to
	// block inside a call until the test releases it.
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	// SummarizeResult is returned by Summarize.
	SummarizeResult string

	// SummarizeErr, if non-nil, is returned as the error from Summarize.
	SummarizeErr error

	// ToolsResult is returned by GenerateWithTools.
	ToolsResult []types.ToolCall

	// ToolsErr, if non-nil, is returned as the error from GenerateWithTools.
	ToolsErr error

	// --- Call records (read after test) ---

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall

	// SummarizeCalls records every invocation of Summarize in order.
	SummarizeCalls []SummarizeCall

	// ToolsCalls records every invocation of GenerateWithTools in order.
	ToolsCalls []ToolsCall
}

// Generate records the call and returns GenerateResult, GenerateErr, or
// defers to GenerateFunc when set.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Prompt: prompt})
	fn := p.GenerateFunc
	res, err := p.GenerateResult, p.GenerateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return res, err
}

// Summarize records the call and returns SummarizeResult, SummarizeErr.
func (p *Provider) Summarize(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SummarizeCalls = append(p.SummarizeCalls, SummarizeCall{Ctx: ctx, Text: text})
	return p.SummarizeResult, p.SummarizeErr
}

// GenerateWithTools records the call and returns ToolsResult, ToolsErr.
func (p *Provider) GenerateWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) ([]types.ToolCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := make([]types.ToolDefinition, len(tools))
	copy(ts, tools)
	p.ToolsCalls = append(p.ToolsCalls, ToolsCall{Ctx: ctx, Prompt: prompt, Tools: ts})
	return p.ToolsResult, p.ToolsErr
}

// GenerateCount returns the number of Generate invocations so far. Thread-safe.
func (p *Provider) GenerateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

// LastPrompt returns the prompt of the most recent Generate call, or "" if
// Generate has not been called. Thread-safe.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.GenerateCalls) == 0 {
		return ""
	}
	return p.GenerateCalls[len(p.GenerateCalls)-1].Prompt
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
	p.SummarizeCalls = nil
	p.ToolsCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
