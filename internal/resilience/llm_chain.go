package resilience

import (
	"context"

	"github.com/moksori-live/moksori/pkg/provider/llm"
	"github.com/moksori-live/moksori/pkg/types"
)

// LLMChain implements [llm.Provider] with failover across several model
// backends. When the whole chain is exhausted the caller sees an error
// wrapping [ErrAllFailed]; for response generation the pipeline then speaks
// its fixed apology line.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates an LLMChain with primary as the preferred backend.
func NewLLMChain(name string, primary llm.Provider, cfg ChainConfig) *LLMChain {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMChain{chain: NewChain(name, primary, cfg)}
}

// AddFallback registers another model backend, tried after the ones already
// registered.
func (c *LLMChain) AddFallback(name string, p llm.Provider) {
	c.chain.Add(name, p)
}

// Healthy reports whether any backend is accepting calls.
func (c *LLMChain) Healthy() bool { return c.chain.Healthy() }

// Generate asks the first healthy backend for a response.
func (c *LLMChain) Generate(ctx context.Context, prompt string) (string, error) {
	return Run(ctx, c.chain, func(p llm.Provider) (string, error) {
		return p.Generate(ctx, prompt)
	})
}

// Summarize asks the first healthy backend for a summary.
func (c *LLMChain) Summarize(ctx context.Context, text string) (string, error) {
	return Run(ctx, c.chain, func(p llm.Provider) (string, error) {
		return p.Summarize(ctx, text)
	})
}

// GenerateWithTools offers the tools to the first healthy backend and
// returns the calls it makes.
func (c *LLMChain) GenerateWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) ([]types.ToolCall, error) {
	return Run(ctx, c.chain, func(p llm.Provider) ([]types.ToolCall, error) {
		return p.GenerateWithTools(ctx, prompt, tools)
	})
}
