package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 4,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func transientErr(msg string) error {
	return &ir.ApplyError{Name: "r", Op: "create", Transient: true, Err: errors.New(msg)}
}

func terminalErr(msg string) error {
	return &ir.ApplyError{Name: "r", Op: "create", Transient: false, Err: errors.New(msg)}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 3 {
			return transientErr("throttled")
		}
		return nil
	}, IsTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_TerminalFailsImmediately(t *testing.T) {
	calls := 0
	attempts, err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		calls++
		return terminalErr("access denied")
	}, IsTransient)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_BudgetExhausted(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 2

	attempts, err := RetryWithBackoff(context.Background(), policy, func() error {
		return transientErr("still throttled")
	}, IsTransient)

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial try plus two retries
	assert.Contains(t, err.Error(), "retry budget exhausted")

	var applyErr *ir.ApplyError
	assert.ErrorAs(t, err, &applyErr)
}

func TestRetryWithBackoff_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := &RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second}
	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		attempts, err = RetryWithBackoff(ctx, policy, func() error {
			return transientErr("throttled")
		}, IsTransient)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts, 1)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"explicit transient", transientErr("boom"), true},
		{"explicit terminal", terminalErr("boom"), false},
		{"throttling code", &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}, true},
		{"request limit code", &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: ""}, true},
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}, false},
		{"unauthorized code", &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "no"}, false},
		{"eventual consistency not found", &smithy.GenericAPIError{Code: "InvalidSubnetID.NotFound", Message: "does not exist"}, true},
		{"server fault", &smithy.GenericAPIError{Code: "Whatever", Message: "oops", Fault: smithy.FaultServer}, true},
		{"connection reset message", errors.New("read tcp: connection reset by peer"), true},
		{"plain terminal error", errors.New("invalid parameter combination"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestBackoffDelay_Bounded(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, base, max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
}
