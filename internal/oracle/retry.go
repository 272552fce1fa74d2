package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrRateLimited is returned when all retries are exhausted on a 429 response.
var ErrRateLimited = fmt.Errorf("the embedding/completion oracle is rate-limited, retries exhausted")

var retrySchedule = struct {
	delays  []time.Duration
	ceiling time.Duration
}{
	delays:  []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond},
	ceiling: 4 * time.Second,
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// withRetry executes fn up to len(retrySchedule.delays)+1 times, retrying on
// 429/rate-limit errors with an escalating backoff capped at a ceiling.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	if !isRetryableError(err) {
		return result, err
	}

	for i, delay := range retrySchedule.delays {
		if delay > retrySchedule.ceiling {
			delay = retrySchedule.ceiling
		}

		slog.Warn("oracle call rate limited, retrying",
			"operation", operation,
			"attempt", i+2,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			slog.Info("oracle retry succeeded", "operation", operation, "attempt", i+2)
			return result, nil
		}
		if !isRetryableError(err) {
			return result, err
		}
	}

	var zero T
	slog.Error("oracle retries exhausted", "operation", operation, "attempts", len(retrySchedule.delays)+1)
	return zero, ErrRateLimited
}
