// Package coqui provides a Coqui TTS-backed synthesizer that connects to
// either a Coqui XTTS v2 server or a standard Coqui TTS server via its REST
// API. It implements the tts.Synthesizer interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; voice catalogue is retrieved from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body; voice catalogue is
//     retrieved from GET /studio_speakers.
//
// Both servers operate in batch mode (one HTTP call per utterance rather than
// a streaming socket), so Synthesize splits the response text into sentences
// and dispatches concurrent HTTP requests with a small lookahead buffer to
// minimise time-to-first-audio. The emitted stream starts with a WAV header
// describing the PCM that follows.
//
// Typical usage (standard server):
//
//	s, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("ko"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	chunks, err := s.Synthesize(ctx, responseText)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/moksori-live/moksori/pkg/audio"
	"github.com/moksori-live/moksori/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// ---- constants ----

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookaheadBuf controls how many concurrent HTTP synthesis requests
	// may be in-flight simultaneously. Higher values reduce perceived latency at
	// the cost of additional server load.
	sentenceLookaheadBuf = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// ---- APIMode ----

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	// Voice listing is performed via /studio_speakers.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode. Voice listing is performed via /details.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the BCP-47 language code sent to the TTS server (e.g.,
// "en", "ko", "de"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// WithVoice selects the voice used for all synthesis. In standard mode this is
// the speaker_id (may be empty for single-speaker models); in XTTS mode it is
// the speaker_wav reference and must not be empty.
func WithVoice(id string) Option {
	return func(s *Synthesizer) {
		s.voice = id
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image (ghcr.io/coqui-ai/tts-cpu) or APIModeXTTS
// for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) {
		s.apiMode = mode
	}
}

// WithOutputSampleRate configures the synthesizer to resample synthesised PCM
// to the given sample rate (e.g., 48000 for Discord). When set to 0 (default),
// no resampling is performed and PCM is emitted at the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		s.outputRate = rate
	}
}

// ---- Synthesizer ----

// Synthesizer implements tts.Synthesizer backed by a Coqui TTS server.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Synthesizer struct {
	serverURL  string
	language   string
	voice      string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int // target sample rate; 0 = no resampling
}

// New creates a new Coqui Synthesizer that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty. Functional
// options may override the language, voice, per-request timeout, and API mode.
// The default API mode is APIModeStandard.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.apiMode == APIModeXTTS && s.voice == "" {
		return nil, errors.New("coqui: voice must not be empty in XTTS mode")
	}
	return s, nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// sentenceResult carries one synthesised sentence or an error from a worker goroutine.
type sentenceResult struct {
	pcm    []byte
	format audio.Format
	err    error
}

// studioSpeakersResponse represents the raw map[name]any returned by GET /studio_speakers.
// We only care about the keys (voice names) so the values are left as json.RawMessage.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models and non-nil for multi-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Synthesize ----

// Synthesize splits text into sentences (on '.', '!', '?' followed by
// whitespace or end of text), issues one HTTP synthesis request per sentence,
// and emits the results on the returned channel in sentence order. The first
// chunk is a WAV header for the stream; following chunks are raw PCM in
// fixed-size pieces.
//
// Up to sentenceLookaheadBuf HTTP requests may be in-flight concurrently to
// hide network/server latency while preserving output ordering.
//
// The returned channel is closed when all sentences have been synthesised,
// when a synthesis request fails, or when ctx is cancelled. The caller must
// drain the channel to prevent goroutine leaks.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, errors.New("coqui: text must not be empty")
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)

		// resultQueue carries ordered future channels so the collector can
		// drain them in sentence order.
		resultQueue := make(chan chan sentenceResult, sentenceLookaheadBuf)

		// --- Dispatcher goroutine ---
		// Launches a concurrent HTTP request per sentence; the bounded queue
		// caps in-flight requests at sentenceLookaheadBuf.
		go func() {
			defer close(resultQueue)
			for _, sentence := range sentences {
				ch := make(chan sentenceResult, 1)
				select {
				case resultQueue <- ch:
				case <-ctx.Done():
					return
				}
				go func(sent string, out chan<- sentenceResult) {
					pcm, format, err := s.synthesize(ctx, sent)
					out <- sentenceResult{pcm: pcm, format: format, err: err}
				}(sentence, ch)
			}
		}()

		// --- Collector ---
		// Drains resultQueue in order. The first successful result fixes the
		// stream format and produces the header chunk; later results are
		// resampled to it if the server ever changes rate mid-stream.
		headerSent := false
		var streamFormat audio.Format
		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				select {
				case result := <-ch:
					if result.err != nil {
						// Stop the stream on synthesis errors. The caller can
						// inspect ctx.Err() to distinguish cancellation.
						return
					}
					if !headerSent {
						streamFormat = result.format
						if s.outputRate > 0 {
							streamFormat.SampleRate = s.outputRate
						}
						select {
						case audioCh <- audio.EncodeWAVHeader(streamFormat, 0):
						case <-ctx.Done():
							return
						}
						headerSent = true
					}
					pcm := result.pcm
					if result.format.SampleRate != streamFormat.SampleRate {
						pcm = audio.Resample16(pcm, result.format.Channels, result.format.SampleRate, streamFormat.SampleRate)
					}
					// Emit the PCM in fixed-size chunks.
					for len(pcm) > 0 {
						end := min(pcmChunkSize, len(pcm))
						select {
						case audioCh <- pcm[:end]:
						case <-ctx.Done():
							return
						}
						pcm = pcm[end:]
					}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// synthesize dispatches to the appropriate implementation based on the
// configured API mode and returns raw PCM with its format, header stripped.
func (s *Synthesizer) synthesize(ctx context.Context, sentence string) ([]byte, audio.Format, error) {
	var wav []byte
	var err error
	if s.apiMode == APIModeStandard {
		wav, err = s.fetchStandard(ctx, sentence)
	} else {
		wav, err = s.fetchXTTS(ctx, sentence)
	}
	if err != nil {
		return nil, audio.Format{}, err
	}

	info, err := audio.ParseWAVHeader(wav)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: parse WAV response: %w", err)
	}
	return wav[info.DataOffset:], info.Format, nil
}

// fetchXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode) and
// returns the WAV response body.
func (s *Synthesizer) fetchXTTS(ctx context.Context, sentence string) ([]byte, error) {
	body := ttsRequest{
		Text:       sentence,
		SpeakerWav: s.voice,
		Language:   s.language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// fetchStandard performs a single GET /api/tts request (standard server mode)
// using URL query parameters and returns the WAV response body.
func (s *Synthesizer) fetchStandard(ctx context.Context, sentence string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if s.voice != "" {
		params.Set("speaker_id", s.voice)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}

	reqURL := s.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// ---- ListVoices ----

// ListVoices retrieves the list of available voices from the Coqui server.
//
// In APIModeXTTS, it calls GET /studio_speakers and maps each entry to a
// VoiceProfile. In APIModeStandard, it calls GET /details and returns one
// VoiceProfile per speaker for multi-speaker models, or a single VoiceProfile
// (identified by model name) for single-speaker models.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if s.apiMode == APIModeStandard {
		return s.listVoicesStandard(ctx)
	}
	return s.listVoicesXTTS(ctx)
}

// listVoicesXTTS retrieves the studio speaker voices from the XTTS server via
// GET /studio_speakers and maps each entry to a VoiceProfile.
func (s *Synthesizer) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+studioSpeakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", studioSpeakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", studioSpeakersEndpoint, resp.StatusCode)
	}

	var raw studioSpeakersResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
	}

	// Sort keys for deterministic output.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type": "studio",
			},
		})
	}
	return profiles, nil
}

// listVoicesStandard retrieves model info from the standard Coqui TTS server
// via GET /details. For multi-speaker models it returns one VoiceProfile per
// speaker; for single-speaker models it returns a single VoiceProfile
// identified by the model name.
func (s *Synthesizer) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details response: %w", err)
	}

	// Multi-speaker model: return one profile per speaker.
	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	// Single-speaker model: return one profile identified by the model name.
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{
		{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type":       "single-speaker",
				"model_name": name,
			},
		},
	}, nil
}

// ---- helpers ----

// splitSentences breaks text into sentences on '.', '!' or '?' followed by
// whitespace or end of text. A trailing fragment without terminal punctuation
// becomes its own sentence. Empty and whitespace-only pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := findSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if sentence := strings.TrimSpace(rest[:idx+1]); sentence != "" {
			out = append(out, sentence)
		}
		rest = rest[idx+1:]
	}
	if remaining := strings.TrimSpace(rest); remaining != "" {
		out = append(out, remaining)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is either at the end of s or immediately
// followed by whitespace. Returns -1 if no sentence boundary is found.
//
// This ensures that abbreviations like "Dr." or decimal numbers like "3.14"
// are not incorrectly treated as sentence boundaries when followed by a
// non-space character.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			// Boundary: end of string or followed by whitespace.
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
