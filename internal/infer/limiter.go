package infer

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// Throttled wraps a provider with a shared rate limiter so that concurrent
// batch workers collectively respect the capability's request budget.
type Throttled struct {
	Provider
	limiter *rate.Limiter
}

// NewThrottled wraps the provider. A zero requests-per-second disables
// throttling.
func NewThrottled(p Provider, cfg model.RateLimitConfig) Provider {
	if cfg.RequestsPerSecond <= 0 {
		return p
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Infer waits for limiter clearance, then delegates.
func (t *Throttled) Infer(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &Error{Provider: t.Provider.Name(), Cause: err}
	}
	return t.Provider.Infer(ctx, req)
}
