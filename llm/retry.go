package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy governs how rate-limited calls are retried. Every remote call
// made during a turn (planner and synthesizer completions, agent
// invocations) shares the same policy.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is multiplied by 2^n for the n-th retry.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// Sleep waits between attempts; tests replace it. Nil means a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  *zap.Logger
}

// DefaultRetryPolicy waits 2s, 4s, 8s, 16s, 32s between six attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := p.BaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Attempts is the total number of calls the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Retry calls fn until it succeeds, fails with an error that is not rate
// limited, or the policy is exhausted.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := policy.Delay(attempt)
		logger.Warn("rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
