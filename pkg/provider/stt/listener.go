package stt

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/moksori-live/moksori/pkg/audio"
)

// captureRetryDelay is how long a listener input waits before reopening its
// device after the capture stream or the backend session fails.
const captureRetryDelay = 5 * time.Second

// ListenerOption is a functional option for configuring a Listener.
type ListenerOption func(*Listener)

// WithFormat sets the capture audio format. Defaults to 16 kHz mono 16-bit,
// which every bundled Transcriber accepts.
func WithFormat(f audio.Format) ListenerOption {
	return func(l *Listener) { l.format = f }
}

// WithLanguage sets the BCP-47 language tag passed to the Transcriber.
func WithLanguage(lang string) ListenerOption {
	return func(l *Listener) { l.language = lang }
}

// WithLogger sets the logger for capture and session failures.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// Listener implements [Recognizer] by pairing one microphone capture stream
// per configured speaker with a [Transcriber] session. Each completed
// utterance is pushed to the handler given to Start, tagged with the speaker
// name its input device is registered under.
type Listener struct {
	transcriber Transcriber
	capture     CaptureFunc
	format      audio.Format
	language    string
	log         *slog.Logger

	mu      sync.Mutex
	inputs  map[string]string // speaker name → device id
	running bool
	handler Handler
	parent  context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// NewListener creates a Listener that captures from the given inputs (speaker
// name → device id, empty id meaning the default device) and recognizes
// speech through t. An empty inputs map is allowed; the listener then idles
// until SetInputDevices supplies one.
func NewListener(t Transcriber, capture CaptureFunc, inputs map[string]string, opts ...ListenerOption) (*Listener, error) {
	if t == nil {
		return nil, errors.New("stt: transcriber must not be nil")
	}
	if capture == nil {
		return nil, errors.New("stt: capture func must not be nil")
	}

	l := &Listener{
		transcriber: t,
		capture:     capture,
		format:      audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		log:         slog.Default(),
		inputs:      maps.Clone(inputs),
	}
	if l.inputs == nil {
		l.inputs = map[string]string{}
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Start begins capturing on every configured input. h is invoked once per
// completed utterance, from per-input goroutines.
func (l *Listener) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("stt: handler must not be nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("stt: listener already started")
	}

	l.parent = ctx
	l.handler = h
	l.running = true
	l.spawnLocked()
	return nil
}

// Stop cancels all capture goroutines and waits for them to exit.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return nil
	}
	l.stopLocked()
	l.running = false
	l.handler = nil
	l.parent = nil
	return nil
}

// SetInputDevices replaces the speaker→device mapping. If the listener is
// running, the old capture goroutines are torn down and new ones started
// before SetInputDevices returns.
func (l *Listener) SetInputDevices(devices map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inputs = maps.Clone(devices)
	if l.inputs == nil {
		l.inputs = map[string]string{}
	}
	if l.running {
		l.stopLocked()
		l.spawnLocked()
	}
	return nil
}

// InputDevices returns a copy of the current speaker→device mapping.
func (l *Listener) InputDevices() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.inputs)
}

// spawnLocked starts one capture goroutine per configured input.
// Must be called with mu held.
func (l *Listener) spawnLocked() {
	ctx, cancel := context.WithCancel(l.parent)
	l.cancel = cancel
	l.wg = &sync.WaitGroup{}

	h := l.handler
	for speaker, device := range l.inputs {
		l.wg.Add(1)
		go l.runInput(ctx, l.wg, speaker, device, h)
	}
}

// stopLocked cancels the current capture generation and waits for its
// goroutines. Must be called with mu held; the goroutines never take mu.
func (l *Listener) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.cancel = nil
	l.wg = nil
}

// runInput captures from a single device and forwards completed utterances to
// h until ctx is cancelled, reopening the device after transient failures.
func (l *Listener) runInput(ctx context.Context, wg *sync.WaitGroup, speaker, device string, h Handler) {
	defer wg.Done()

	for {
		err := l.pumpInput(ctx, speaker, device, h)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.log.Error("speech input failed, retrying",
				"speaker", speaker, "device", device, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(captureRetryDelay):
		}
	}
}

// pumpInput runs one capture+session cycle: open the device, open a backend
// session, stream audio in and utterances out. Returns nil when ctx ends.
func (l *Listener) pumpInput(ctx context.Context, speaker, device string, h Handler) error {
	frames, err := l.capture(ctx, device, l.format)
	if err != nil {
		return err
	}

	sess, err := l.transcriber.OpenSession(ctx, SessionConfig{
		SampleRate: l.format.SampleRate,
		Channels:   l.format.Channels,
		Language:   l.language,
	})
	if err != nil {
		// Drain the capture stream so the producer can exit.
		go audio.Drain(frames)
		return err
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for text := range sess.Utterances() {
			h(speaker, text)
		}
	}()

	closeAndWait := func() {
		sess.Close()
		<-forwarded
	}

	for {
		select {
		case <-ctx.Done():
			closeAndWait()
			return nil
		case chunk, ok := <-frames:
			if !ok {
				closeAndWait()
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("stt: capture stream ended unexpectedly")
			}
			if err := sess.SendAudio(chunk); err != nil {
				go audio.Drain(frames)
				closeAndWait()
				return err
			}
		}
	}
}

// Ensure Listener implements Recognizer at compile time.
var _ Recognizer = (*Listener)(nil)
