package summary

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryStrategy defines the interface for retry strategies
type RetryStrategy interface {
	// NextRetry returns the delay before retry number attempt (0 based)
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff is used for LLM calls
var DefaultBackoff = &ExponentialBackoff{
	InitialDelay: 2 * time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
}

// NextRetry calculates the next retry time using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// RetryPolicy decides which failures are retried and how often
type RetryPolicy struct {
	Strategy    RetryStrategy
	MaxAttempts int
	Retryable   func(error) bool
}

// Do calls fn until it succeeds, fails with a non-retryable error or runs out
// of attempts. A nil policy calls fn once.
func (p *RetryPolicy) Do(ctx context.Context, logger *zap.Logger, fn func(context.Context) error) error {
	if p == nil || p.MaxAttempts <= 1 || p.Strategy == nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Strategy.NextRetry(attempt)
		logger.Warn("Retrying after failure",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
