// This file contains the Model transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/moksori-live/moksori/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Model implements stt.Transcriber in-process using the whisper.cpp Go
// bindings, avoiding HTTP overhead entirely. The model weights are loaded
// once and shared across all sessions; each session creates its own
// whisper.cpp context, so sessions can run concurrently.
type Model struct {
	model    whisperlib.Model
	language string

	// Same silence-detection parameters as the HTTP client.
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

// NativeOption is a functional option for configuring a Model.
type NativeOption func(*Model)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g. "en", "ko"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(m *Model) { m.language = lang }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms)
// that ends an utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(m *Model) { m.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced flush. Defaults to 10 000 ms.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(m *Model) { m.maxBufferDurationMs = ms }
}

// WithNativeRMSThreshold overrides the silence energy threshold.
func WithNativeRMSThreshold(threshold float64) NativeOption {
	return func(m *Model) { m.rmsThreshold = threshold }
}

// LoadModel loads whisper.cpp model weights from the given file path. The
// caller must call Close when the model is no longer needed.
func LoadModel(modelPath string, opts ...NativeOption) (*Model, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	m := &Model{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Close releases the model weights.
func (m *Model) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// OpenSession starts a transcription session on the loaded model.
func (m *Model) OpenSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = m.language
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
		silenceThresholdMs:  m.silenceThresholdMs,
		maxBufferDurationMs: m.maxBufferDurationMs,
		rmsThreshold:        m.rmsThreshold,
		infer: func(_ context.Context, pcm []byte) (string, error) {
			return m.transcribe(pcm, ch, lang)
		},
	}), nil
}

// transcribe converts buffered PCM to float32, runs whisper.cpp inference on
// a fresh context, and returns the concatenated segment text. whisper.cpp
// contexts are not goroutine-safe, but the shared model is.
func (m *Model) transcribe(pcm []byte, channels int, language string) (string, error) {
	samples := pcmToFloat32Mono(pcm, channels)

	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to mono float32
// samples in [-1, 1], averaging all channels per frame. Any trailing partial
// frame is ignored.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Ensure Model implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Model)(nil)
