// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS synthesizer wraps a speech synthesis service (e.g., a local Coqui
// server or the ElevenLabs API) and presents a uniform streaming interface.
// Synthesize accepts one complete response text and returns a channel of audio
// chunks as they become available, enabling playback to begin before the full
// response has been synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts text into an audio chunk stream. The first chunk on
	// the returned channel is a complete RIFF/WAVE header describing the
	// stream's sample rate, channel count, and sample width; every following
	// chunk is raw PCM in that format.
	//
	// The channel is closed by the implementation when synthesis completes,
	// fails mid-stream, or ctx is cancelled. The caller must drain the channel
	// to avoid blocking the implementation's internal goroutines; callers can
	// check ctx.Err() to distinguish cancellation from synthesis errors.
	//
	// Returns a non-nil error only if the stream cannot be started.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
