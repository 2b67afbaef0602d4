package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moksori-live/moksori/pkg/provider/embeddings/ollama"
)

// newEmbedServer starts a server answering /api/embed with the given vectors,
// trimmed to the request's input count. calls counts requests.
func newEmbedServer(t *testing.T, wantModel string, vecs [][]float32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q; want /api/embed", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model = %q; want %q", req.Model, wantModel)
		}
		result := vecs
		if len(result) > len(req.Input) {
			result = result[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":      wantModel,
			"embeddings": result,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("New with empty model succeeded; want error")
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ModelID(); got != "nomic-embed-text" {
		t.Errorf("ModelID() = %q; want %q", got, "nomic-embed-text")
	}
}

func TestEmbed_Single(t *testing.T) {
	t.Parallel()
	want := []float32{0.1, 0.2, 0.3, 0.4}
	var calls atomic.Int32
	srv := newEmbedServer(t, "nomic-embed-text", [][]float32{want}, &calls)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v; want %v", i, got[i], want[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d; want 1", calls.Load())
	}
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	t.Parallel()
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	var calls atomic.Int32
	srv := newEmbedServer(t, "nomic-embed-text", vecs, &calls)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d; want 3", len(got))
	}
	for i, wantVec := range vecs {
		for j, wantVal := range wantVec {
			if got[i][j] != wantVal {
				t.Errorf("vec[%d][%d] = %v; want %v", i, j, got[i][j], wantVal)
			}
		}
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d; want a single batched request", calls.Load())
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v; want nil without any request", got)
	}
}

func TestDimensions_KnownModels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			// Unreachable server: known models must not probe.
			p, err := ollama.New("http://127.0.0.1:19999", tt.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestDimensions_ProbesUnknownModelOnce(t *testing.T) {
	t.Parallel()
	const dim = 512
	probeVec := make([]float32, dim)
	var calls atomic.Int32
	srv := newEmbedServer(t, "custom-embed", [][]float32{probeVec}, &calls)

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Dimensions(); got != dim {
			t.Errorf("call %d: Dimensions() = %d; want %d", i, got, dim)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("probe requests = %d; want 1", calls.Load())
	}
}

func TestDimensions_Override(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("http://127.0.0.1:19999", "custom-model", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d; want 256", got)
	}
}

func TestEmbed_ServerDown(t *testing.T) {
	t.Parallel()
	p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text",
		ollama.WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed against unreachable server succeeded; want error")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed with 500 response succeeded; want error")
	}
}

func TestEmbed_MalformedJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("not-json"))
	}))
	t.Cleanup(srv.Close)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed with malformed body succeeded; want error")
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()
	stopCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stopCh:
		}
	}))
	// Defers run LIFO: stopCh unblocks the handler before Close drains.
	defer srv.Close()
	defer close(stopCh)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("Embed with expired context succeeded; want error")
	}
}
