// Package audio defines the playback contract between the response pipeline
// and the platform-specific audio sinks.
//
// The central abstraction is [Sink]: it consumes a stream of byte chunks whose
// first chunk is a RIFF/WAVE header describing the PCM format of everything
// that follows, plays them on some output device, and reports a per-chunk
// loudness value that the avatar controller turns into mouth movement.
//
// Implementations of [Sink] are provided by adapter subpackages
// (audio/malgo for local output devices, audio/discord for voice channels).
// This package also carries the shared PCM helpers: WAV header handling,
// loudness measurement, and format conversion.
package audio

import "context"

// Format describes the PCM layout of an audio stream.
type Format struct {
	// SampleRate in Hz (e.g., 22050 for Coqui output, 48000 for Discord).
	SampleRate int

	// Channels: 1 = mono, 2 = stereo.
	Channels int

	// BitsPerSample is the sample width; the engine only produces 16.
	BitsPerSample int
}

// BytesPerFrame returns the size of one sample frame across all channels.
func (f Format) BytesPerFrame() int { return f.Channels * f.BitsPerSample / 8 }

// Sink plays a single chunk stream at a time.
//
// Implementations must be safe for concurrent use: PlayStream runs on the
// pipeline goroutine while Stop and IsPlaying may be called from the arbiter
// or the dashboard at any moment.
type Sink interface {
	// PlayStream opens a playback stream from the WAV header carried in the
	// first chunk and plays every following chunk as raw PCM in that format.
	// It blocks until the chunk channel is closed and all audio has been
	// written, until Stop is called, or until ctx is cancelled.
	//
	// Returns an error when the header cannot be parsed or the output device
	// cannot be opened. A stream that was stopped mid-way returns nil; callers
	// distinguish natural completion through their own bookkeeping.
	PlayStream(ctx context.Context, chunks <-chan []byte) error

	// Stop halts the current stream immediately and discards unplayed chunks.
	// Safe to call when nothing is playing.
	Stop()

	// IsPlaying reports whether a stream is currently being played.
	IsPlaying() bool

	// OnChunkLoudness registers fn to receive the normalized loudness of every
	// chunk handed to the device, in [0, 1]. Only one callback is active;
	// subsequent calls replace the previous registration. fn is invoked on the
	// playback goroutine and must not block.
	OnChunkLoudness(fn func(float64))

	// SetOutputDevice switches playback to the named device. Safe to call at
	// any time; an active stream is stopped first. Implementations without
	// device selection return nil and ignore the id.
	SetOutputDevice(id string) error
}
