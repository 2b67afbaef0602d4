// Package stt defines the speech input contract used by the engine.
//
// Two layers make up the package. Transcriber is the low-level backend
// abstraction: a session accepts raw PCM audio and emits the text of each
// completed utterance (a stretch of speech ended by silence). Implementations
// wrap a local whisper.cpp model, a whisper server, or the Deepgram streaming
// API. Recognizer is the engine-facing contract: it owns microphone capture
// for one or more named speakers, feeds a Transcriber, and pushes each
// finished utterance to a single callback. Listener is the stock Recognizer
// implementation.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/moksori-live/moksori/pkg/audio"
)

// Handler receives one completed utterance. speaker is the configured name of
// the input the utterance was heard on, text the recognized transcript.
// Handlers may be invoked from internal goroutines and must not block for
// long; the recognizer does not buffer utterances behind a slow handler.
type Handler func(speaker, text string)

// Recognizer turns microphone audio into utterance events.
type Recognizer interface {
	// Start begins capturing and recognizing. h is invoked once per completed
	// utterance until Stop is called or ctx is cancelled. Start does not
	// block while recognition runs; device failures after Start are handled
	// by the implementation (typically logged and retried).
	Start(ctx context.Context, h Handler) error

	// Stop halts capture and recognition and waits for in-flight utterances
	// to flush. Calling Stop more than once is safe.
	Stop() error

	// SetInputDevices replaces the speaker→device mapping. When the
	// recognizer is running, capture restarts on the new devices; utterances
	// already buffered may still be reported for the old set.
	SetInputDevices(devices map[string]string) error
}

// SessionConfig describes the audio format and recognition hints for a new
// transcription session.
type SessionConfig struct {
	// SampleRate is the PCM sample rate in Hz. 16000 suits most backends.
	SampleRate int

	// Channels is the number of interleaved channels. Most backends want 1;
	// implementations may downmix internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "ko").
	// Empty lets the backend use its default or auto-detect.
	Language string
}

// Session is a live transcription stream for a single audio source.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and connections inside the backend. All methods are
// safe for concurrent use.
type Session interface {
	// SendAudio queues a chunk of raw 16-bit little-endian PCM matching the
	// SessionConfig. Returns an error once the session is closed.
	SendAudio(chunk []byte) error

	// Utterances returns a read-only channel emitting the text of each
	// completed utterance. Empty recognitions are never emitted. The channel
	// is closed by the session when it ends.
	Utterances() <-chan string

	// Close flushes pending audio, terminates the session, and closes the
	// Utterances channel. Calling Close more than once is safe.
	Close() error
}

// Transcriber is the abstraction over any speech recognition backend.
// Multiple sessions may be open at once, one per audio source.
type Transcriber interface {
	// OpenSession starts a transcription session ready to accept audio.
	OpenSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// CaptureFunc opens a PCM capture stream for the named input device. An empty
// deviceID selects the system default. The returned channel carries 16-bit
// little-endian PCM in the requested format and is closed by the producer
// when ctx is cancelled or the device stops delivering.
type CaptureFunc func(ctx context.Context, deviceID string, f audio.Format) (<-chan []byte, error)
