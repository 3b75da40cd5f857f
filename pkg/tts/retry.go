package tts

import (
	"context"
	"log/slog"
	"time"
)

// withRetry runs call until it succeeds, returns a non-retryable error or
// the attempts are exhausted. Backoff grows linearly with the attempt.
func withRetry[T any](ctx context.Context, cfg *Config, logger *slog.Logger, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		v, err := call()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return zero, err
		}
		logger.Warn("retrying request",
			"attempt", attempt+1,
			"error", err,
		)
	}

	return zero, lastErr
}
