// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled audio chunks to consumers and to verify
// the text handed to the TTS backend.
//
// Example:
//
//	s := &mock.Synthesizer{
//	    Chunks: [][]byte{header, pcm1, pcm2},
//	}
//	ch, _ := s.Synthesize(ctx, "Hello!")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/moksori-live/moksori/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks is the sequence of audio byte slices emitted on the channel
	// returned by Synthesize. The first entry should be a WAV header when the
	// consumer under test cares about the stream format.
	Chunks [][]byte

	// ChunkDelay, when positive, is slept before emitting each chunk. Use it
	// to keep a stream in flight long enough for a test to interrupt it.
	ChunkDelay time.Duration

	// Err, if non-nil, is returned as the error from Synthesize instead of
	// starting a channel.
	Err error

	// SynthesizeFunc, if non-nil, handles Synthesize calls entirely,
	// overriding Chunks/ChunkDelay/Err.
	SynthesizeFunc func(ctx context.Context, text string) (<-chan []byte, error)

	// --- Call records (read after test) ---

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and, if Err is nil, returns a channel that
// emits Chunks then closes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Ctx: ctx, Text: text})
	fn := s.SynthesizeFunc
	if fn == nil && s.Err != nil {
		err := s.Err
		s.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(s.Chunks))
	copy(chunks, s.Chunks)
	delay := s.ChunkDelay
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, audio := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of Synthesize invocations so far. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// LastText returns the text of the most recent Synthesize call, or "" if
// Synthesize has not been called. Thread-safe.
func (s *Synthesizer) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return ""
	}
	return s.Calls[len(s.Calls)-1].Text
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
