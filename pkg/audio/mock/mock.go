// Package mock provides an in-memory mock implementation of [audio.Sink] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records every played stream so
// tests can assert on chunk counts and payloads, and it honours Stop and
// context cancellation the way a real device-backed sink does.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	chunks := make(chan []byte, 4)
//	chunks <- audio.EncodeWAVHeader(audio.Format{SampleRate: 22050, Channels: 1, BitsPerSample: 16}, 0)
//	chunks <- pcm
//	close(chunks)
//	err := sink.PlayStream(ctx, chunks)
package mock

import (
	"context"
	"sync"

	"github.com/moksori-live/moksori/pkg/audio"
)

// Sink is a mock implementation of [audio.Sink].
// Set the exported error fields before use; inspect the recorded fields after.
type Sink struct {
	mu sync.Mutex

	// PlayStreamErr, when non-nil, is returned immediately by PlayStream
	// without consuming the stream.
	PlayStreamErr error

	// SetOutputDeviceErr is returned by SetOutputDevice.
	SetOutputDeviceErr error

	// Streams records the chunks of every PlayStream call, including the
	// header chunk, in playback order.
	Streams [][][]byte

	// StopCalls records how many times Stop was called.
	StopCalls int

	// Devices records every id passed to SetOutputDevice.
	Devices []string

	playing  bool
	stopCh   chan struct{}
	loudness func(float64)
}

var _ audio.Sink = (*Sink)(nil)

// PlayStream implements [audio.Sink]. Chunks are consumed as fast as the
// channel delivers them; tests control pacing by pacing the channel. The
// first chunk is treated as the stream header and excluded from loudness
// reporting.
func (s *Sink) PlayStream(ctx context.Context, chunks <-chan []byte) error {
	s.mu.Lock()
	if s.PlayStreamErr != nil {
		err := s.PlayStreamErr
		s.mu.Unlock()
		return err
	}
	stop := make(chan struct{})
	s.stopCh = stop
	s.playing = true
	s.Streams = append(s.Streams, nil)
	idx := len(s.Streams) - 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing = false
		s.stopCh = nil
		s.mu.Unlock()
	}()

	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			s.mu.Lock()
			s.Streams[idx] = append(s.Streams[idx], chunk)
			fn := s.loudness
			s.mu.Unlock()
			if !first && fn != nil {
				fn(audio.ChunkLoudness(chunk))
			}
			first = false
		}
	}
}

// Stop implements [audio.Sink]. Unblocks an active PlayStream.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// OnChunkLoudness implements [audio.Sink].
func (s *Sink) OnChunkLoudness(fn func(float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loudness = fn
}

// SetOutputDevice implements [audio.Sink]. Records the id.
func (s *Sink) SetOutputDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Devices = append(s.Devices, id)
	return s.SetOutputDeviceErr
}

// PlayedChunks returns the chunks of stream i (0-based, including header),
// or nil when fewer streams were played.
func (s *Sink) PlayedChunks(i int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Streams) {
		return nil
	}
	out := make([][]byte, len(s.Streams[i]))
	copy(out, s.Streams[i])
	return out
}
