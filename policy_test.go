package batchcore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func fastRetry(attempts int) *RetryPolicy {
	p := NewRetryPolicy(attempts)
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 2 * time.Millisecond
	return p
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	notified := make([]int, 0)
	v, err := retry(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError("timeout")
		}
		return "ok", nil
	}, func(err error, attempt int) {
		notified = append(notified, attempt)
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry(2), func() (int, error) {
		calls++
		return 0, NewTransientError("timeout")
	}, nil)
	assert.T(t, IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestRetry_NotRetryable(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry(5), func() (int, error) {
		calls++
		return 0, NewSkippableError("bad item")
	}, nil)
	assert.T(t, IsSkippable(err))
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = retry(context.Background(), NoRetryPolicy(), func() (int, error) {
		calls++
		return 0, NewTransientError("timeout")
	}, nil)
	assert.T(t, IsTransient(err))
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Classifier(t *testing.T) {
	p := fastRetry(3)
	p.Retryable = func(err error) bool {
		return err.Error() == "deadlock"
	}
	assert.T(t, p.CanRetry(fmt.Errorf("deadlock"), 1))
	assert.T(t, !p.CanRetry(fmt.Errorf("deadlock"), 3))
	assert.T(t, !p.CanRetry(NewTransientError("timeout"), 1))
	assert.T(t, !p.CanRetry(NewFatalError("boom"), 1))
	var nilPolicy *RetryPolicy
	assert.T(t, !nilPolicy.CanRetry(NewTransientError("timeout"), 0))
}

func TestSkipPolicy(t *testing.T) {
	p := NewSkipPolicy(2)
	skippable := NewSkippableError("bad line")
	assert.T(t, p.ShouldSkip(skippable, 0))
	assert.T(t, p.ShouldSkip(skippable, 1))
	assert.T(t, !p.ShouldSkip(skippable, 2))
	assert.T(t, !p.ShouldSkip(NewTransientError("timeout"), 0))
	assert.T(t, !p.ShouldSkip(NewFatalError("boom"), 0))

	p.Skippable = func(err error) bool { return true }
	assert.T(t, p.ShouldSkip(fmt.Errorf("anything"), 0))
	assert.T(t, !NewSkipPolicy(0).ShouldSkip(skippable, 0))
	var nilPolicy *SkipPolicy
	assert.T(t, !nilPolicy.ShouldSkip(skippable, 0))
}
