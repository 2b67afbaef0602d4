package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moksori-live/moksori/internal/observe"
)

// ErrAllFailed is returned when every backend in a [Chain] fails or is
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// Kind labels the chain's provider family ("llm", "tts", "stt") in logs
	// and metrics.
	Kind string

	// Breaker tunes the per-backend breakers. Its Name field is replaced
	// with each backend's name.
	Breaker BreakerConfig

	// Metrics, when set, counts backend requests and errors.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// link pairs one backend with its breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds a primary backend and its fallbacks, each behind its own
// breaker. [Run] tries them in registration order.
//
// Register every backend before the chain is used; Add must not run
// concurrently with Run.
type Chain[T any] struct {
	links   []link[T]
	cfg     ChainConfig
	log     *slog.Logger
	metrics *observe.Metrics
	kind    string
}

// NewChain creates a Chain with primary as the first backend.
func NewChain[T any](name string, primary T, cfg ChainConfig) *Chain[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Chain[T]{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		kind:    cfg.Kind,
	}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend, tried after everything registered before
// it.
func (c *Chain[T]) Add(name string, backend T) {
	bc := c.cfg.Breaker
	bc.Name = name
	if bc.Logger == nil {
		bc.Logger = c.log
	}
	c.links = append(c.links, link[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(bc),
	})
}

// Healthy reports whether at least one backend's breaker is accepting
// calls.
func (c *Chain[T]) Healthy() bool {
	for i := range c.links {
		if c.links[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Run tries fn against each backend in order until one succeeds. Backends
// with an open breaker are skipped, and once ctx is done no further
// backends are tried. Returns the zero R and an error wrapping
// [ErrAllFailed] when no backend succeeds.
//
// Run is a package function because methods cannot introduce type
// parameters.
func Run[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.links {
		l := &c.links[i]
		var result R
		err := l.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(l.value)
			return innerErr
		})
		if err == nil {
			c.count(ctx, l.name, nil)
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("backend skipped, breaker open",
				"kind", c.kind, "backend", l.name)
		} else {
			c.count(ctx, l.name, err)
			c.log.Warn("backend failed, trying next",
				"kind", c.kind, "backend", l.name, "error", err)
		}

		if ctx.Err() != nil {
			// The caller is gone; the rest of the chain would fail the same
			// way and its breakers should not pay for it.
			break
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// count records one actual backend invocation. Breaker-open skips are not
// counted.
func (c *Chain[T]) count(ctx context.Context, backend string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, backend, c.kind)
	}
	c.metrics.RecordProviderRequest(ctx, backend, c.kind, status)
}
