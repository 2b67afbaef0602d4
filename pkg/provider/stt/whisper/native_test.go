package whisper_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/moksori-live/moksori/pkg/provider/stt"
	"github.com/moksori-live/moksori/pkg/provider/stt/whisper"
)

// testModelPath returns the path to whisper model weights for integration
// tests, read from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestLoadModel_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.LoadModel("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestLoadModel_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.LoadModel("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_SpeechFollowedBySilenceEmitsUtterance(t *testing.T) {
	modelPath := testModelPath(t)
	m, err := whisper.LoadModel(modelPath,
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeSilenceThresholdMs(100),
	)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	defer m.Close()

	s, err := m.OpenSession(context.Background(), stt.SessionConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio(makeSpeechPCM(1600)); err != nil {
		t.Fatalf("SendAudio (speech): %v", err)
	}
	if err := s.SendAudio(makeSilencePCM(1600)); err != nil {
		t.Fatalf("SendAudio (silence): %v", err)
	}

	// The content depends on the model; just verify something was emitted.
	select {
	case text := <-s.Utterances():
		t.Logf("transcribed text: %q", text)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for utterance")
	}
}

func TestNative_CloseIdempotent(t *testing.T) {
	modelPath := testModelPath(t)
	m, err := whisper.LoadModel(modelPath)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	defer m.Close()

	s, err := m.OpenSession(context.Background(), stt.SessionConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}
