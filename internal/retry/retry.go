// Package retry provides the bounded exponential backoff used at every
// provider boundary.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"flightrag/internal/domain"
)

// Policy retries operations whose error is classified as retryable.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout bounds every single attempt. Zero means no bound.
	AttemptTimeout time.Duration
	// Classify decides whether an error may be retried. Defaults to domain.IsRetryable.
	Classify func(error) bool
	Logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns 3 attempts, 200ms doubling up to 5s.
func Default() *Policy {
	return &Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs op until it succeeds, fails fatally, or attempts are exhausted.
// The last error is returned unchanged.
func (p *Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = domain.IsRetryable
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = p.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !classify(err) || attempt == attempts-1 {
			return err
		}
		wait := p.Delay(attempt)
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			wait = pe.RetryAfter
		}
		if p.Logger != nil {
			p.Logger.Warn("retrying provider call",
				zap.String("op", name),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
		if serr := p.wait(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

func (p *Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return op(actx)
}

// Delay returns the backoff before retry number attempt+1.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if attempt > 30 {
		return maxDelay
	}
	d := base << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
