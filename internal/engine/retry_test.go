package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowrun/pkg/schema"
)

func TestIsRetryableErrorFlowErrorCodes(t *testing.T) {
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeValidation, "bad")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeResolution, "missing")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeNotFound, "gone")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeTransient, "hiccup")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeTimeout, "slow")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeExecution, "boom")))
}

func TestIsRetryableErrorPlainErrors(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("connection refused")))
	assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("something unexpected")), "unknown errors retry")
}

func TestComputeBackoffExponentialDefault(t *testing.T) {
	policy := &schema.RetryPolicy{Max: 5, Delay: "1s"}

	assert.Equal(t, 1*time.Second, ComputeBackoff(policy, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(policy, 1))
	assert.Equal(t, 4*time.Second, ComputeBackoff(policy, 2))
	assert.Equal(t, 8*time.Second, ComputeBackoff(policy, 3))
}

func TestComputeBackoffCappedByMaxDelay(t *testing.T) {
	policy := &schema.RetryPolicy{Max: 10, Delay: "1s", MaxDelay: "5s"}

	assert.Equal(t, 4*time.Second, ComputeBackoff(policy, 2))
	assert.Equal(t, 5*time.Second, ComputeBackoff(policy, 3))
	assert.Equal(t, 5*time.Second, ComputeBackoff(policy, 20))
	assert.Equal(t, 5*time.Second, ComputeBackoff(policy, 40), "huge attempts stay capped")
}

func TestComputeBackoffLinearAndNone(t *testing.T) {
	linear := &schema.RetryPolicy{Max: 5, Delay: "2s", Backoff: "linear"}
	assert.Equal(t, 2*time.Second, ComputeBackoff(linear, 0))
	assert.Equal(t, 6*time.Second, ComputeBackoff(linear, 2))

	none := &schema.RetryPolicy{Max: 5, Delay: "3s", Backoff: "none"}
	assert.Equal(t, 3*time.Second, ComputeBackoff(none, 0))
	assert.Equal(t, 3*time.Second, ComputeBackoff(none, 4))
}

func TestComputeBackoffDefaults(t *testing.T) {
	policy := &schema.RetryPolicy{Max: 3}
	assert.Equal(t, defaultRetryDelay, ComputeBackoff(policy, 0))

	bad := &schema.RetryPolicy{Max: 3, Delay: "not-a-duration"}
	assert.Equal(t, defaultRetryDelay, ComputeBackoff(bad, 0))
}

func TestWaitForBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForBackoff(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForBackoffZeroDelay(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
}
