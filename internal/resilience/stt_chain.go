package resilience

import (
	"context"

	"github.com/moksori-live/moksori/pkg/provider/stt"
)

// STTChain implements [stt.Transcriber] with failover across recognition
// backends. Only session opening is covered; an open session stays bound to
// the backend that produced it.
type STTChain struct {
	chain *Chain[stt.Transcriber]
}

var _ stt.Transcriber = (*STTChain)(nil)

// NewSTTChain creates an STTChain with primary as the preferred backend.
func NewSTTChain(name string, primary stt.Transcriber, cfg ChainConfig) *STTChain {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTChain{chain: NewChain(name, primary, cfg)}
}

// AddFallback registers another recognition backend.
func (c *STTChain) AddFallback(name string, t stt.Transcriber) {
	c.chain.Add(name, t)
}

// Healthy reports whether any backend is accepting calls.
func (c *STTChain) Healthy() bool { return c.chain.Healthy() }

// OpenSession opens a transcription session on the first healthy backend.
func (c *STTChain) OpenSession(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	return Run(ctx, c.chain, func(t stt.Transcriber) (stt.Session, error) {
		return t.OpenSession(ctx, cfg)
	})
}
