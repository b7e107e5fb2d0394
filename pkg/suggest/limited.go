package suggest

import (
	"context"
	"errors"

	"multiagent/pkg/limiter"
)

// LimitedGenerator bounds the call rate of an underlying generator. A
// rate-limited call degrades to an empty suggestion instead of an error so
// typing is never interrupted.
type LimitedGenerator struct {
	inner Generator
	limit *limiter.Limiter
}

// NewLimitedGenerator wraps a generator, typically a model-backed one, with
// a calls-per-minute limit.
func NewLimitedGenerator(inner Generator, perMinute int) *LimitedGenerator {
	return &LimitedGenerator{inner: inner, limit: limiter.New(perMinute)}
}

// Generate delegates to the inner generator when the limiter permits.
func (g *LimitedGenerator) Generate(ctx context.Context, contextText string) (string, error) {
	if err := g.limit.Reserve(); err != nil {
		if errors.Is(err, limiter.ErrRateLimit) {
			return "", nil
		}
		return "", err
	}
	return g.inner.Generate(ctx, contextText)
}
