package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/moksori-live/moksori/internal/resilience"
	ttsmock "github.com/moksori-live/moksori/pkg/provider/tts/mock"
)

func TestTTSChainPrimaryStreams(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Synthesizer{Chunks: [][]byte{{1, 2}, {3, 4}, {5}}}
	fallback := &ttsmock.Synthesizer{Chunks: [][]byte{{9}}}

	c := resilience.NewTTSChain("coqui", primary, resilience.ChainConfig{Logger: discard()})
	c.AddFallback("elevenlabs", fallback)

	ch, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 3 {
		t.Errorf("chunks = %d; want 3 from the primary", n)
	}
	if len(fallback.Calls) != 0 {
		t.Errorf("fallback Calls = %d; want 0", len(fallback.Calls))
	}
}

func TestTTSChainFailsOverOnStart(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Synthesizer{Err: errors.New("server gone")}
	fallback := &ttsmock.Synthesizer{Chunks: [][]byte{{1, 2}, {3, 4}}}

	c := resilience.NewTTSChain("coqui", primary, resilience.ChainConfig{Logger: discard()})
	c.AddFallback("elevenlabs", fallback)

	ch, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 2 {
		t.Errorf("chunks = %d; want 2 from the fallback", n)
	}
	if len(primary.Calls) != 1 {
		t.Errorf("primary Calls = %d; want 1", len(primary.Calls))
	}
}

func TestTTSChainExhaustedWrapsErrAllFailed(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Synthesizer{Err: errors.New("down")}
	c := resilience.NewTTSChain("coqui", primary, resilience.ChainConfig{Logger: discard()})

	_, err := c.Synthesize(context.Background(), "hello")
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("Synthesize error = %v; want ErrAllFailed", err)
	}
}
