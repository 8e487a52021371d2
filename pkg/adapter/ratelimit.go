package adapter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited throttles an adapter to a fixed request rate. Free-tier model
// quotas are expressed per minute, so the limit is too.
type RateLimited struct {
	Adapter
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limit of rpm requests per minute.
// A non-positive rpm disables limiting and returns inner unchanged.
func NewRateLimited(inner Adapter, rpm int) Adapter {
	if rpm <= 0 {
		return inner
	}
	return &RateLimited{
		Adapter: inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Generate waits for a token and then forwards the call.
func (r *RateLimited) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", r.Name(), err)
	}
	return r.Adapter.Generate(ctx, model, prompt)
}
