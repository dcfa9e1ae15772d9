package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supplymind/copilot/internal/llm"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // retries after the first attempt
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap
}

// DefaultRetryConfig returns the stock retry settings: a single retry
// absorbs a transient blip without stacking latency onto a hard outage.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// generateWithRetry runs one model call with a rate-limit wait and a fresh
// timeout on every attempt, exponential backoff between attempts, and
// immediate failure for permanent errors. The circuit breaker is the
// caller's job; this function only sees individual attempts.
func (s *Service) generateWithRetry(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	var lastErr error
	delay := s.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		// Rate limit each attempt; retries queue for capacity like any
		// other call.
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.llm.Generate(attemptCtx, req)
		cancel()
		if err == nil {
			s.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The caller's context died, not the attempt's.
			return nil, fmt.Errorf("generate: %w", err)
		}
		if !retryable(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		s.logger.Debug("retrying model call",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed %v): %w",
		s.retry.MaxRetries, time.Since(start), lastErr)
}

// retryable reports whether a failed attempt is worth repeating. The llm
// package refuses to call context deadlines transient because it cannot
// tell whose deadline fired. Here the caller's context was checked first,
// so a remaining deadline error means the per-attempt timeout tripped, and
// a fresh attempt gets a fresh clock.
func retryable(err error) bool {
	if llm.IsTransient(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
