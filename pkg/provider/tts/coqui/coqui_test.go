package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moksori-live/moksori/pkg/audio"
)

// ---- test helpers ----

// testFormat is the PCM format the mock servers respond with.
var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// buildTestWAV constructs a minimal valid RIFF/WAVE byte slice containing the
// supplied raw PCM samples at testFormat.
func buildTestWAV(pcm []byte) []byte {
	return append(audio.EncodeWAVHeader(testFormat, len(pcm)), pcm...)
}

// collectStream reads the audio channel until it closes and returns the first
// chunk (the header) separately from the concatenated remaining PCM.
func collectStream(ch <-chan []byte) (header []byte, pcm []byte) {
	first := true
	for chunk := range ch {
		if first {
			header = chunk
			first = false
			continue
		}
		pcm = append(pcm, chunk...)
	}
	return header, pcm
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Synthesizer {
	t.Helper()
	s, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return s
}

// ---- construction ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want %q", s.serverURL, "http://localhost:5002")
		}
		if s.language != defaultLanguage {
			t.Errorf("language = %q, want %q", s.language, defaultLanguage)
		}
		if s.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", s.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002/")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", s.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		_, err := New("")
		if err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("XTTS mode requires a voice", func(t *testing.T) {
		_, err := New("http://localhost:8002", WithAPIMode(APIModeXTTS))
		if err == nil {
			t.Fatal("expected error for XTTS mode without a voice, got nil")
		}
		if !strings.Contains(err.Error(), "coqui:") {
			t.Errorf("error %q does not have 'coqui:' prefix", err.Error())
		}
	})

	t.Run("with options", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002",
			WithLanguage("ko"),
			WithVoice("mok"),
			WithTimeout(5*time.Second),
		)
		if s.language != "ko" {
			t.Errorf("language = %q, want %q", s.language, "ko")
		}
		if s.voice != "mok" {
			t.Errorf("voice = %q, want %q", s.voice, "mok")
		}
		if s.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", s.httpClient.Timeout, 5*time.Second)
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_EmptyText(t *testing.T) {
	s := mustNew(t, "http://localhost:5002")
	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	// PCM payload: 100 bytes of 0x42 per sentence.
	wantPCM := make([]byte, 100)
	for i := range wantPCM {
		wantPCM[i] = 0x42
	}
	wavData := buildTestWAV(wantPCM)

	var (
		reqMu        sync.Mutex
		receivedReqs []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		reqMu.Lock()
		receivedReqs = append(receivedReqs, req)
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithVoice("test_speaker"))

	audioCh, err := s.Synthesize(context.Background(), "Hello world. Goodbye now!")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	header, pcm := collectStream(audioCh)

	// First chunk must be a parseable WAV header describing the stream.
	info, err := audio.ParseWAVHeader(header)
	if err != nil {
		t.Fatalf("first chunk is not a WAV header: %v", err)
	}
	if info.Format != testFormat {
		t.Errorf("header format = %+v, want %+v", info.Format, testFormat)
	}

	// Two sentences × 100 PCM bytes each.
	if wantTotal := 2 * len(wantPCM); len(pcm) != wantTotal {
		t.Errorf("total PCM bytes = %d, want %d", len(pcm), wantTotal)
	}
	for i, b := range pcm {
		if b != 0x42 {
			t.Errorf("pcm[%d] = %02x, want 0x42", i, b)
			break
		}
	}

	if len(receivedReqs) != 2 {
		t.Fatalf("server received %d requests, want 2", len(receivedReqs))
	}
	for _, req := range receivedReqs {
		if req.SpeakerWav != "test_speaker" {
			t.Errorf("speaker_wav = %q, want %q", req.SpeakerWav, "test_speaker")
		}
		if req.Language != defaultLanguage {
			t.Errorf("language = %q, want %q", req.Language, defaultLanguage)
		}
	}
}

// TestSynthesize_PreservesSentenceOrder delays the first sentence's response so
// the second finishes first; output must still arrive in sentence order.
func TestSynthesize_PreservesSentenceOrder(t *testing.T) {
	t.Parallel()

	firstPCM := make([]byte, 40)
	for i := range firstPCM {
		firstPCM[i] = 0x11
	}
	secondPCM := make([]byte, 40)
	for i := range secondPCM {
		secondPCM[i] = 0x22
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		payload := secondPCM
		if req.Text == "First one." {
			time.Sleep(100 * time.Millisecond)
			payload = firstPCM
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildTestWAV(payload))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithVoice("spk"))
	audioCh, err := s.Synthesize(context.Background(), "First one. Second one.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	_, pcm := collectStream(audioCh)
	if len(pcm) != len(firstPCM)+len(secondPCM) {
		t.Fatalf("total PCM bytes = %d, want %d", len(pcm), len(firstPCM)+len(secondPCM))
	}
	for i := 0; i < len(firstPCM); i++ {
		if pcm[i] != 0x11 {
			t.Fatalf("pcm[%d] = %02x, want 0x11 (first sentence must come first)", i, pcm[i])
		}
	}
	for i := len(firstPCM); i < len(pcm); i++ {
		if pcm[i] != 0x22 {
			t.Fatalf("pcm[%d] = %02x, want 0x22", i, pcm[i])
		}
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	wavData := buildTestWAV([]byte{0x01, 0x02, 0x03, 0x04})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Brief delay so the context cancels in-flight.
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel

	audioCh, err := s.Synthesize(ctx, "This sentence should not be synthesised.")
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		collectStream(audioCh)
		close(done)
	}()

	select {
	case <-done:
		// Good: channel closed promptly.
	case <-time.After(2 * time.Second):
		t.Error("audio channel did not close within 2 s after context cancellation")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	audioCh, err := s.Synthesize(context.Background(), "A sentence.")
	if err != nil {
		t.Fatalf("Synthesize start unexpected error: %v", err)
	}

	header, pcm := collectStream(audioCh)
	if header != nil || len(pcm) != 0 {
		t.Errorf("expected empty stream on server error, got header=%d bytes pcm=%d bytes", len(header), len(pcm))
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()

	wantPCM := make([]byte, 80)
	for i := range wantPCM {
		wantPCM[i] = 0x33
	}
	wavData := buildTestWAV(wantPCM)

	var (
		reqMu     sync.Mutex
		gotQuery  []string
		gotPath   []string
		gotMethod []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqMu.Lock()
		gotQuery = append(gotQuery, r.URL.RawQuery)
		gotPath = append(gotPath, r.URL.Path)
		gotMethod = append(gotMethod, r.Method)
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithVoice("p225"), WithLanguage("en"))
	audioCh, err := s.Synthesize(context.Background(), "Only one sentence here.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	_, pcm := collectStream(audioCh)

	if len(pcm) != len(wantPCM) {
		t.Errorf("PCM bytes = %d, want %d", len(pcm), len(wantPCM))
	}
	if len(gotPath) != 1 {
		t.Fatalf("server received %d requests, want 1", len(gotPath))
	}
	if gotPath[0] != apiTTSEndpoint {
		t.Errorf("path = %q, want %q", gotPath[0], apiTTSEndpoint)
	}
	if gotMethod[0] != http.MethodGet {
		t.Errorf("method = %q, want GET", gotMethod[0])
	}
	if !strings.Contains(gotQuery[0], "speaker_id=p225") {
		t.Errorf("query %q missing speaker_id", gotQuery[0])
	}
	if !strings.Contains(gotQuery[0], "language_id=en") {
		t.Errorf("query %q missing language_id", gotQuery[0])
	}
}

func TestSynthesize_Resamples(t *testing.T) {
	t.Parallel()

	// 100 source samples at 16 kHz.
	srcPCM := make([]byte, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildTestWAV(srcPCM))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithOutputSampleRate(32000))
	audioCh, err := s.Synthesize(context.Background(), "Resample me.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	header, pcm := collectStream(audioCh)

	info, err := audio.ParseWAVHeader(header)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if info.Format.SampleRate != 32000 {
		t.Errorf("header sample rate = %d, want 32000", info.Format.SampleRate)
	}
	// 16 kHz → 32 kHz doubles the sample count.
	if len(pcm) != 2*len(srcPCM) {
		t.Errorf("resampled PCM bytes = %d, want %d", len(pcm), 2*len(srcPCM))
	}
}

// ---- sentence splitting ----

func TestFindSentenceBoundary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"period at end", "Hello.", 5},
		{"period space", "Hello. World", 5},
		{"exclamation", "Hello!", 5},
		{"question", "Hello?", 5},
		{"no boundary", "Hello", -1},
		// "Dr." followed by a space IS treated as a boundary by this simple
		// algorithm (abbreviation-awareness is out of scope).
		{"abbreviation mid", "Dr. Smith", 2},
		// '.' in "3.14" is followed by '1', not whitespace — not a boundary.
		{"decimal", "3.14 is pi", -1},
		{"empty", "", -1},
		{"multiple", "First. Second.", 5},
		{"question mid", "How? Great!", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findSentenceBoundary(tt.input)
			if got != tt.want {
				t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"two sentences", "Hello world. Goodbye now!", []string{"Hello world.", "Goodbye now!"}},
		{"trailing fragment", "Done. And then", []string{"Done.", "And then"}},
		{"single fragment without punctuation", "no punctuation at all", []string{"no punctuation at all"}},
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"decimal survives", "Pi is 3.14 roughly. Yes!", []string{"Pi is 3.14 roughly.", "Yes!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("splitSentences(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	rawResp := map[string]any{
		"speaker_alice": map[string]any{"type": "studio"},
		"speaker_bob":   map[string]any{"type": "studio"},
	}
	data, _ := json.Marshal(rawResp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithVoice("spk"))
	voices, err := s.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}

	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	// Sorted order: alice before bob.
	if voices[0].ID != "speaker_alice" {
		t.Errorf("voices[0].ID = %q, want %q", voices[0].ID, "speaker_alice")
	}
	if voices[1].ID != "speaker_bob" {
		t.Errorf("voices[1].ID = %q, want %q", voices[1].ID, "speaker_bob")
	}
	for _, v := range voices {
		if v.Provider != "coqui" {
			t.Errorf("voice %q Provider = %q, want %q", v.ID, v.Provider, "coqui")
		}
	}
}

func TestListVoices_StandardMultiSpeaker(t *testing.T) {
	details := detailsResponse{
		ModelName: "tts_models/en/vctk/vits",
		Language:  "en",
		Speakers:  []string{"p226", "p225"},
	}
	data, _ := json.Marshal(details)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != detailsEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	voices, err := s.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	// Sorted.
	if voices[0].ID != "p225" || voices[1].ID != "p226" {
		t.Errorf("voices not sorted: %q, %q", voices[0].ID, voices[1].ID)
	}
	if voices[0].Metadata["model_name"] != details.ModelName {
		t.Errorf("metadata model_name = %q, want %q", voices[0].Metadata["model_name"], details.ModelName)
	}
}

func TestListVoices_StandardSingleSpeaker(t *testing.T) {
	details := detailsResponse{ModelName: "tts_models/ko/kss/glow-tts", Language: "ko"}
	data, _ := json.Marshal(details)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	voices, err := s.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	if voices[0].ID != details.ModelName {
		t.Errorf("voices[0].ID = %q, want model name", voices[0].ID)
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	_, err := s.ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err.Error())
	}
}

func TestListVoices_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.ListVoices(ctx); err == nil {
		t.Fatal("expected error on context timeout, got nil")
	}
}
