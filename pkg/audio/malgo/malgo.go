// Package malgo provides local audio device access through the miniaudio
// library: an [audio.Sink] that plays WAV-headed PCM streams on an output
// device, and a capture function that feeds microphone PCM to the speech
// recognizer.
//
// Playback opens one miniaudio device per stream, configured from the WAV
// header carried in the stream's first chunk, so consecutive streams may
// switch sample rates freely. Loudness is reported per chunk as the device
// consumes it, not as the producer delivers it, which keeps mouth movement in
// sync with the audible audio even when synthesis runs far ahead of realtime.
//
// Typical usage:
//
//	sink := malgo.NewSink(malgo.WithOutputDevice("Speakers"))
//	sink.OnChunkLoudness(func(v float64) { avatar.SetMouthOpen(v) })
//	err := sink.PlayStream(ctx, chunks)
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/moksori-live/moksori/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// drainPollInterval is how often PlayStream checks for queue exhaustion once
// the chunk channel has closed.
const drainPollInterval = 20 * time.Millisecond

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithOutputDevice sets the initial output device by name. An empty name
// selects the system default.
func WithOutputDevice(name string) Option {
	return func(s *Sink) { s.device = name }
}

// WithLogger sets the logger for playback lifecycle events.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// Sink implements [audio.Sink] on top of a local miniaudio playback device.
//
// The zero device name plays through the system default output. Sink is safe
// for concurrent use; PlayStream runs on the caller's goroutine while Stop,
// IsPlaying and SetOutputDevice may be called from anywhere.
type Sink struct {
	host deviceHost
	log  *slog.Logger

	mu       sync.Mutex
	device   string
	loudness func(float64)
	playing  bool
	stop     chan struct{}
}

// NewSink creates a Sink that plays through the system default output device
// unless WithOutputDevice names another one.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		host: systemHost{},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlayStream implements [audio.Sink]. The first chunk must carry a RIFF/WAVE
// header; it fixes the device format for the whole stream. PlayStream blocks
// until every delivered chunk has been handed to the device and the queue has
// drained, until Stop is called, or until ctx is cancelled.
func (s *Sink) PlayStream(ctx context.Context, chunks <-chan []byte) error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return errors.New("malgo: a stream is already playing")
	}
	stop := make(chan struct{})
	s.stop = stop
	s.playing = true
	deviceName := s.device
	fn := s.loudness
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing = false
		if s.stop == stop {
			s.stop = nil
		}
		s.mu.Unlock()
	}()

	var header []byte
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case chunk, ok := <-chunks:
		if !ok {
			// Closed before the header: nothing to play.
			return nil
		}
		header = chunk
	}

	info, err := audio.ParseWAVHeader(header)
	if err != nil {
		return fmt.Errorf("malgo: parse stream header: %w", err)
	}
	if info.Format.BitsPerSample != 16 {
		return fmt.Errorf("malgo: unsupported stream format: %d bits per sample", info.Format.BitsPerSample)
	}

	queue := &chunkQueue{}
	if fn != nil {
		queue.onChunk = func(chunk []byte) { fn(audio.ChunkLoudness(chunk)) }
	}
	// Some producers pack PCM behind the header in the same chunk.
	if len(header) > info.DataOffset {
		queue.Push(header[info.DataOffset:])
	}

	dev, err := s.host.openPlayback(info.Format, deviceName, queue.Fill)
	if err != nil {
		return fmt.Errorf("malgo: open output device: %w", err)
	}
	defer dev.Uninit()

	s.log.Debug("playback stream opened",
		"sample_rate", info.Format.SampleRate,
		"channels", info.Format.Channels,
		"device", deviceName)

	for {
		select {
		case <-ctx.Done():
			queue.Clear()
			return ctx.Err()
		case <-stop:
			queue.Clear()
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return s.drain(ctx, stop, queue)
			}
			queue.Push(chunk)
		}
	}
}

// drain blocks until the device callback has consumed everything the stream
// delivered. One extra tick after the queue empties lets the final period
// finish sounding before the device is torn down.
func (s *Sink) drain(ctx context.Context, stop chan struct{}, queue *chunkQueue) error {
	t := time.NewTicker(drainPollInterval)
	defer t.Stop()
	drained := false
	for {
		select {
		case <-ctx.Done():
			queue.Clear()
			return ctx.Err()
		case <-stop:
			queue.Clear()
			return nil
		case <-t.C:
			if queue.Len() > 0 {
				drained = false
				continue
			}
			if drained {
				return nil
			}
			drained = true
		}
	}
}

// Stop implements [audio.Sink]. It unblocks an active PlayStream and discards
// unplayed audio. Safe to call when nothing is playing.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// OnChunkLoudness implements [audio.Sink]. The callback takes effect for
// streams started after the call.
func (s *Sink) OnChunkLoudness(fn func(float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loudness = fn
}

// SetOutputDevice implements [audio.Sink]. The name must match one of the
// devices reported by [ListPlaybackDevices]; matching is case-insensitive and
// an empty name selects the system default. An active stream is stopped, and
// the next stream opens on the new device.
//
// When device enumeration itself fails the name is accepted as-is and
// resolved when the next stream opens.
func (s *Sink) SetOutputDevice(id string) error {
	if id != "" {
		names, err := s.host.deviceNames(ma.Playback)
		if err != nil {
			s.log.Warn("output device enumeration failed, deferring to next playback", "error", err)
		} else if !containsFold(names, id) {
			return fmt.Errorf("malgo: no playback device named %q (available: %s)", id, strings.Join(names, ", "))
		}
	}
	s.Stop()
	s.mu.Lock()
	s.device = id
	s.mu.Unlock()
	return nil
}

func containsFold(names []string, want string) bool {
	for _, n := range names {
		if strings.EqualFold(n, want) {
			return true
		}
	}
	return false
}
