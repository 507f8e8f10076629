package provider

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = time.Second
)

// Retry executes fn with exponential backoff while it fails with a transient error
func Retry(ctx context.Context, fn func(context.Context) error) error {
	return retryWithBackoff(ctx, defaultMaxRetries, defaultInitialDelay, fn)
}

func retryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func(context.Context) error) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			zap.L().Debug("retrying llm call",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxRetries+1),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
		zap.L().Warn("transient llm error", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	return lastErr
}

// isRetryableError determines if an error should trigger a retry.
// Rate limits, overloaded backends and network failures are transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	permanentPatterns := []string{
		"401",
		"403",
		"invalid api key",
		"api key not valid",
		"permission denied",
		"invalid argument",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}

	retryablePatterns := []string{
		"429",
		"rate limit",
		"resource exhausted",
		"resource_exhausted",
		"500",
		"502",
		"503",
		"504",
		"unavailable",
		"overloaded",
		"timeout",
		"connection reset",
		"connection refused",
		"eof",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
