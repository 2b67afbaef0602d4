// Package whisper provides speech recognition backed by whisper.cpp, either
// through a running whisper-server instance (HTTP) or in-process through the
// CGO bindings.
//
// whisper.cpp is a batch engine, so sessions simulate streaming: incoming PCM
// is buffered, an energy-based silence detector segments it into utterances,
// and each completed utterance is transcribed in one shot. The utterance text
// appears on the session's Utterances channel once the stretch of speech ends
// in enough silence (or the buffer hits its duration cap).
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("ko"))
//	sess, err := c.OpenSession(ctx, stt.SessionConfig{SampleRate: 16000, Channels: 1})
//	sess.SendAudio(pcmChunk)
//	text := <-sess.Utterances()
//	sess.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/moksori-live/moksori/pkg/audio"
	"github.com/moksori-live/moksori/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible
	// value for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g. "base", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the BCP-47 language code sent with each inference request
// (e.g. "en", "ko"). Defaults to "en". A session config language overrides it.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (in
// milliseconds) that ends an utterance and triggers transcription. Shorter
// values respond faster at the cost of splitting utterances. Defaults to 500.
func WithSilenceThresholdMs(ms int) Option {
	return func(c *Client) { c.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum duration of audio (in
// milliseconds) that may accumulate before a flush is forced regardless of
// silence. Defaults to 10 000.
func WithMaxBufferDurationMs(ms int) Option {
	return func(c *Client) { c.maxBufferDurationMs = ms }
}

// WithRMSThreshold overrides the silence energy threshold. Raise it in noisy
// rooms so background hum is not buffered as speech.
func WithRMSThreshold(threshold float64) Option {
	return func(c *Client) { c.rmsThreshold = threshold }
}

// WithTimeout sets the HTTP timeout per inference request. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client implements stt.Transcriber against a whisper-server REST API
// (POST /inference). Multiple sessions may be open simultaneously; each keeps
// its own audio buffer and goroutine.
type Client struct {
	serverURL           string
	model               string
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
	httpClient          *http.Client
}

// New creates a Client for the whisper-server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:           strings.TrimRight(serverURL, "/"),
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// OpenSession starts a transcription session. The session is ready to accept
// audio immediately; no network connection is established until the first
// utterance is flushed.
func (c *Client) OpenSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = c.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	return startSession(ctx, sessionParams{
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  c.silenceThresholdMs,
		maxBufferDurationMs: c.maxBufferDurationMs,
		rmsThreshold:        c.rmsThreshold,
		infer: func(ictx context.Context, pcm []byte) (string, error) {
			return c.infer(ictx, pcm, sr, ch, lang)
		},
	}), nil
}

// infer wraps pcm in a WAV container and POSTs it to the whisper-server
// /inference endpoint as multipart/form-data.
func (c *Client) infer(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error) {
	f := audio.Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: bitsPerSample}
	wav := append(audio.EncodeWAVHeader(f, len(pcm)), pcm...)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	// whisper-server pads transcripts with leading whitespace.
	return strings.TrimSpace(result.Text), nil
}

// Ensure Client implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Client)(nil)
