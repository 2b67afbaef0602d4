// Package deepgram provides speech recognition backed by the Deepgram
// streaming WebSocket API. Unlike the whisper backends it needs no local
// silence detection: Deepgram endpoints utterances server-side and the
// session emits each finalized transcript as one utterance.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/moksori-live/moksori/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithModel sets the Deepgram model to use (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g. "en",
// "ko"). A session config language overrides it.
func WithLanguage(language string) Option {
	return func(c *Client) { c.language = language }
}

// Client implements stt.Transcriber backed by the Deepgram streaming API.
type Client struct {
	apiKey   string
	model    string
	language string
}

// New creates a Deepgram Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &Client{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// OpenSession opens a streaming transcription session with Deepgram.
func (c *Client) OpenSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	wsURL, err := c.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:       conn,
		utterances: make(chan string, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// config. encoding is pinned to linear16 since sessions carry raw PCM.
func (c *Client) buildURL(cfg stt.SessionConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = c.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Ensure Client implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Client)(nil)

// ---- session ----------------------------------------------------------------

// deepgramResponse is the JSON structure of a Deepgram Results event, trimmed
// to the fields the session consumes.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.Session.
type session struct {
	conn       *websocket.Conn
	utterances chan string
	audio      chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Utterances returns the channel of finalized transcripts.
func (s *session) Utterances() <-chan string { return s.utterances }

// Close terminates the session cleanly. Deepgram flushes pending audio when
// it receives the CloseStream message and then closes the connection, which
// unblocks the read loop.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain already-queued audio before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and emits each non-empty
// finalized transcript as one utterance.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.utterances)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		text, final, ok := parseResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		select {
		case s.utterances <- text:
		case <-s.done:
		}
	}
}

// parseResponse parses a raw Deepgram WebSocket message. Returns ok=false for
// messages that are not recognition results.
func parseResponse(data []byte) (text string, final bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" {
		return "", false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
