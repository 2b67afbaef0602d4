// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber and Session to drive a Listener with controlled utterance
// texts, and Recognizer to stand in for the whole speech input layer when
// testing engine behaviour:
//
//	rec := &mock.Recognizer{}
//	_ = rec.Start(ctx, handler)
//	rec.EmitUtterance("host", "hello there")
package mock

import (
	"context"
	"sync"

	"github.com/moksori-live/moksori/pkg/provider/stt"
)

// OpenSessionCall records a single invocation of Transcriber.OpenSession.
type OpenSessionCall struct {
	// Ctx is the context passed to OpenSession.
	Ctx context.Context
	// Cfg is the SessionConfig passed to OpenSession.
	Cfg stt.SessionConfig
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Session is returned by OpenSession. If nil, OpenSession returns a new
	// Session with a buffered utterance channel.
	Session stt.Session

	// OpenSessionErr, if non-nil, is returned as the error from OpenSession.
	OpenSessionErr error

	// --- Call records (read after test) ---

	// OpenSessionCalls records every call to OpenSession in order.
	OpenSessionCalls []OpenSessionCall
}

// OpenSession records the call and returns Session, OpenSessionErr.
func (t *Transcriber) OpenSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenSessionCalls = append(t.OpenSessionCalls, OpenSessionCall{Ctx: ctx, Cfg: cfg})
	if t.OpenSessionErr != nil {
		return nil, t.OpenSessionErr
	}
	if t.Session != nil {
		return t.Session, nil
	}
	return NewSession(), nil
}

// OpenSessionCount returns the number of OpenSession calls. Thread-safe.
func (t *Transcriber) OpenSessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.OpenSessionCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenSessionCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.Session. Create it with NewSession
// and push utterance texts with Emit; Close closes the utterance channel, so
// tests must not close it directly.
type Session struct {
	mu        sync.Mutex
	closeOnce sync.Once
	ch        chan string

	// --- Configurable responses ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession creates a Session with a buffered utterance channel.
func NewSession() *Session {
	return &Session{ch: make(chan string, 16)}
}

// Emit queues text on the utterance channel. Panics after Close, like any
// send on a closed channel.
func (s *Session) Emit(text string) { s.ch <- text }

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Utterances returns the utterance channel.
func (s *Session) Utterances() <-chan string { return s.ch }

// Close records the call, closes the utterance channel, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
	return s.CloseErr
}

// SendAudioCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Session implements stt.Session at compile time.
var _ stt.Session = (*Session)(nil)

// Recognizer is a mock implementation of stt.Recognizer. Tests start it with
// their handler and then inject utterances through EmitUtterance.
type Recognizer struct {
	mu      sync.Mutex
	handler stt.Handler

	// --- Configurable responses ---

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// SetInputDevicesErr, if non-nil, is returned by SetInputDevices.
	SetInputDevicesErr error

	// --- Call records (read after test) ---

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// SetInputDevicesCalls records the mapping passed to each
	// SetInputDevices call in order.
	SetInputDevicesCalls []map[string]string
}

// Start records the call and captures h for EmitUtterance.
func (r *Recognizer) Start(_ context.Context, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCallCount++
	if r.StartErr != nil {
		return r.StartErr
	}
	r.handler = h
	return nil
}

// Stop records the call and drops the captured handler.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopCallCount++
	r.handler = nil
	return r.StopErr
}

// SetInputDevices records the call and returns SetInputDevicesErr.
func (r *Recognizer) SetInputDevices(devices map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]string, len(devices))
	for k, v := range devices {
		cp[k] = v
	}
	r.SetInputDevicesCalls = append(r.SetInputDevicesCalls, cp)
	return r.SetInputDevicesErr
}

// EmitUtterance invokes the handler captured by Start. It is a no-op when the
// recognizer is not started.
func (r *Recognizer) EmitUtterance(speaker, text string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(speaker, text)
	}
}

// Started reports whether Start has been called without a matching Stop.
func (r *Recognizer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler != nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
