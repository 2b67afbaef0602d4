package whisper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/moksori-live/moksori/pkg/audio"
)

// inferFunc transcribes one utterance of buffered 16-bit PCM and returns its
// text. Both the HTTP client and the native model bind their configuration
// into one of these when opening a session.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// sessionParams carries the immutable per-session configuration.
type sessionParams struct {
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
	infer               inferFunc
}

// session segments incoming PCM with an energy-based silence detector and
// runs batch inference on each completed utterance. It implements
// stt.Session. All mutable buffer state is confined to the run goroutine.
type session struct {
	p sessionParams

	audioCh    chan []byte
	utterances chan string

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// startSession creates a session and starts its processing goroutine.
func startSession(ctx context.Context, p sessionParams) *session {
	s := &session{
		p:          p,
		audioCh:    make(chan []byte, 256),
		utterances: make(chan string, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM for silence
// analysis and buffering. Calling SendAudio after Close returns an error.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Utterances returns the channel of completed utterance texts. The channel is
// closed when the session ends.
func (s *session) Utterances() <-chan string { return s.utterances }

// Close terminates the session, flushes any pending speech audio for a final
// transcription, and closes the Utterances channel. Calling Close more than
// once is safe and returns nil.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// run is the single goroutine responsible for silence detection, audio
// buffering, and inference dispatch.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.utterances)

	var (
		buffer    []byte // accumulated PCM for the current utterance
		hadSpeech bool   // true once any high-energy chunk has been buffered
		silenceMs int    // consecutive silence accumulated after speech (ms)
	)

	bytesPerMs := s.p.sampleRate * s.p.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono 16-bit
	}
	maxBufferBytes := s.p.maxBufferDurationMs * bytesPerMs

	// doFlush transcribes the current buffer and emits the text. It resets
	// the buffer state regardless of outcome.
	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.p.infer(flushCtx, pcm)
		if err != nil {
			slog.Error("whisper inference failed", "error", err)
			return
		}
		if text == "" {
			return
		}

		// Non-blocking send: the channel is buffered, and a stalled consumer
		// must not wedge the audio loop during shutdown.
		select {
		case s.utterances <- text:
		default:
		}
	}

	// flushFinal performs the closing flush on a fresh context, independent
	// of the caller-supplied ctx which may already be cancelled.
	flushFinal := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushFinal()
			return

		case <-s.done:
			flushFinal()
			return

		case chunk, ok := <-s.audioCh:
			if !ok {
				flushFinal()
				return
			}

			rms := audio.RMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.p.sampleRate, s.p.channels)

			if rms < s.p.rmsThreshold {
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.p.silenceThresholdMs {
						doFlush(ctx)
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush(ctx)
				}
			}
		}
	}
}

// chunkDurationMs returns the duration of a PCM chunk in milliseconds.
// Returns 0 for invalid inputs.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
