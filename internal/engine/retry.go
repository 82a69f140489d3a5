package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/stratus-io/stratus/internal/ir"
)

// DefaultCallTimeout bounds a single provider call, not the whole plan.
const DefaultCallTimeout = 10 * time.Minute

// DefaultRetryMax is the default maximum number of retries for transient
// provider errors.
const DefaultRetryMax = 4

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter, retrying
// only while shouldRetry returns true for the error. It returns the number
// of attempts made alongside the final error; a node that exhausts its
// budget is reported failed rather than hanging the plan.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) (attempts int, err error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++
		lastErr = fn()
		if lastErr == nil {
			return attempts, nil
		}
		if !shouldRetry(lastErr) {
			return attempts, lastErr
		}
		if attempt < policy.MaxRetries {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return attempts, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return attempts, fmt.Errorf("retry budget exhausted after %d attempts: %w", attempts, lastErr)
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// Throttling, availability and eventual-consistency error codes surfaced by
// cloud APIs. A "not found yet" on a just-created dependency is transient.
var transientAPICodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"TooManyRequestsException":  true,
	"ServiceUnavailable":        true,
	"InternalError":             true,
	"InternalFailure":           true,
	"RequestTimeout":            true,
	"RequestTimeoutException":   true,
	"DependencyViolation":       true,
	"InvalidParameterException": false, // malformed attribute, terminal
	"AccessDenied":              false,
	"UnauthorizedOperation":     false,
}

var transientMessagePatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"i/o timeout",
	"temporary failure",
	"eventual consistency",
}

// IsTransient classifies a provider error as retryable. Explicit
// classifications via ir.ApplyError win; otherwise smithy API error codes
// and message heuristics decide. Authorization and malformed-attribute
// errors are terminal and never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var applyErr *ir.ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Transient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if transient, ok := transientAPICodes[code]; ok {
			return transient
		}
		// Lookups against a just-created dependency can race its
		// propagation; EC2-style ".NotFound" codes are retryable.
		if strings.HasSuffix(code, ".NotFound") {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessagePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
