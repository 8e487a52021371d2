package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/zen-systems/vizflow/pkg/metrics"
)

// RetryPolicy is the courtesy retry applied to a single model call: a fixed
// delay between tries and a small try budget. It is not a circuit breaker.
type RetryPolicy struct {
	Delay    time.Duration
	MaxTries uint
	// Timeout bounds each try. Zero leaves the call unbounded.
	Timeout time.Duration
}

// DefaultRetryPolicy retries once after one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: time.Second, MaxTries: 2}
}

// Call invokes a once, retrying per policy on any failure other than
// context cancellation or a provider status that a retry cannot fix. The
// report describes the final outcome.
func Call(ctx context.Context, a Adapter, model, prompt string, policy RetryPolicy) (*Response, CallReport, error) {
	if policy.MaxTries == 0 {
		policy.MaxTries = 1
	}
	report := CallReport{Adapter: a.Name(), Model: model}
	start := time.Now()
	tries := 0

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		tries++
		resp, err := generateOnce(ctx, a, model, prompt, policy.Timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil || isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(policy.MaxTries),
	)

	report.Retries = tries - 1
	report.DurationMillis = time.Since(start).Milliseconds()
	if report.Retries > 0 {
		metrics.ModelCallRetriesTotal.WithLabelValues(report.Adapter).Add(float64(report.Retries))
	}

	if err != nil {
		report.Error = err.Error()
		report.Transient = IsTransient(err)
		result := metrics.ResultError
		if report.Transient {
			result = metrics.ResultTransient
		}
		metrics.ModelCallsTotal.WithLabelValues(report.Adapter, result).Inc()
		return nil, report, err
	}

	report.Usage = normalizeUsage(resp.Usage)
	report.Cached = resp.Cached
	result := metrics.ResultOK
	if resp.Cached {
		result = metrics.ResultCached
	}
	metrics.ModelCallsTotal.WithLabelValues(report.Adapter, result).Inc()
	return resp, report, nil
}

func generateOnce(ctx context.Context, a Adapter, model, prompt string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := a.Generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Artifact == nil {
		return nil, fmt.Errorf("%s/%s: %w", a.Name(), model, ErrEmptyResponse)
	}
	return resp, nil
}
