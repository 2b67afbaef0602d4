// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, or anything
// reachable through any-llm) and exposes the three operations the engine
// needs: free-form generation for responses, compact summarisation for the
// long-term memory worker, and tool-call generation for the core-memory
// distiller. Prompts arrive as fully assembled strings — conversation history
// and context are rendered into the prompt by the caller, so a single
// request/response exchange is all a provider has to support.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"

	"github.com/moksori-live/moksori/pkg/types"
)

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Generate sends the assembled prompt to the model and returns the full
	// response text. Returns an error if the request fails or ctx expires
	// before the response arrives.
	Generate(ctx context.Context, prompt string) (string, error)

	// Summarize asks the model to compress text into a concise factual
	// summary. Providers may run this on a cheaper model than Generate.
	Summarize(ctx context.Context, text string) (string, error)

	// GenerateWithTools offers the given tool definitions to the model and
	// returns the tool calls it requested, in order. An empty slice with a
	// nil error means the model chose to call nothing; any free text in the
	// model's answer is discarded.
	GenerateWithTools(ctx context.Context, prompt string, tools []types.ToolDefinition) ([]types.ToolCall, error)
}
