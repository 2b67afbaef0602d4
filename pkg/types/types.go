// Package types defines the shared types used across all moksori packages.
//
// These types form the lingua franca between providers, the response pipeline,
// the memory layers, and the arbiter. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Utterance is one completed speech-recognition result, as delivered by a
// recognizer to its transcription callback.
type Utterance struct {
	// Speaker is the human-readable name of whoever spoke.
	Speaker string

	// Text is the transcribed speech content, possibly corrected downstream.
	Text string

	// RawText is the original uncorrected recognizer output. Preserved for
	// debugging; equal to Text when no correction was applied.
	RawText string

	// At records when the utterance completed.
	At time.Time
}

// ChatLine is a single viewer message from a live-chat platform.
type ChatLine struct {
	// User is the viewer's display name.
	User string `json:"user"`

	// Message is the chat text.
	Message string `json:"message"`
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "model", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// ToolCalls contains any tool invocations requested by the model.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}
