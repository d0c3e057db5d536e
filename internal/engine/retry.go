package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

const (
	defaultRetryDelay = time.Second
	defaultMaxDelay   = 5 * time.Minute
)

// retryablePatterns matches transient failure messages from errors that
// carry no structured code.
var retryablePatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"too many requests",
	"rate limit",
	"service unavailable",
	"try again",
}

// IsRetryableError classifies an action failure. Structured errors carry
// their own retryability; plain errors are matched against known transient
// patterns and otherwise treated as transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return true
}

// ComputeBackoff returns the wait before retry number attempt (0-based).
// The default strategy doubles the initial delay per attempt, capped by
// the policy's max delay.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	base := parseDurationOr(policy.Delay, defaultRetryDelay)
	maxDelay := parseDurationOr(policy.MaxDelay, defaultMaxDelay)

	var delay time.Duration
	switch policy.Backoff {
	case "none":
		delay = base
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // exponential
		if attempt > 30 {
			return maxDelay
		}
		delay = base << uint(attempt)
	}
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the given delay, honoring context cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
