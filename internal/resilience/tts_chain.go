package resilience

import (
	"context"

	"github.com/moksori-live/moksori/pkg/provider/tts"
)

// TTSChain implements [tts.Synthesizer] with failover across synthesis
// backends. Only stream startup is covered: a backend that fails mid-stream
// ends that stream, because part of it may already be on the speakers.
type TTSChain struct {
	chain *Chain[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSChain)(nil)

// NewTTSChain creates a TTSChain with primary as the preferred backend.
func NewTTSChain(name string, primary tts.Synthesizer, cfg ChainConfig) *TTSChain {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSChain{chain: NewChain(name, primary, cfg)}
}

// AddFallback registers another synthesis backend.
func (c *TTSChain) AddFallback(name string, s tts.Synthesizer) {
	c.chain.Add(name, s)
}

// Healthy reports whether any backend is accepting calls.
func (c *TTSChain) Healthy() bool { return c.chain.Healthy() }

// Synthesize starts synthesis on the first healthy backend.
func (c *TTSChain) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	return Run(ctx, c.chain, func(s tts.Synthesizer) (<-chan []byte, error) {
		return s.Synthesize(ctx, text)
	})
}
