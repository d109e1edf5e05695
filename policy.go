package batchcore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

const (
	DefaultRetryAttempts        = 3
	DefaultRetryInitialInterval = 100 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second
)

//RetryPolicy decides how often an operation failing with a retryable error is attempted
type RetryPolicy struct {
	//MaxAttempts total attempts including the first one, values below 2 disable retry
	MaxAttempts int
	//Retryable classifies errors, IsTransient when nil
	Retryable       func(err error) bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

//NewRetryPolicy retry transient errors up to maxAttempts times with exponential backoff
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: DefaultRetryInitialInterval,
		MaxInterval:     DefaultRetryMaxInterval,
	}
}

//NoRetryPolicy every error is final
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

func (p *RetryPolicy) retryable(err error) bool {
	if p == nil || err == nil || IsFatal(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

//CanRetry whether another attempt is allowed after attempt attempts failed with err
func (p *RetryPolicy) CanRetry(err error, attempt int) bool {
	return p != nil && attempt < p.MaxAttempts && p.retryable(err)
}

func (p *RetryPolicy) maxTries() uint {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}

func (p *RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p != nil && p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p != nil && p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()
	return b
}

//retry run op until it succeeds, fails with a non-retryable error or attempts are used up.
//notify is called before each further attempt.
func retry[T any](ctx context.Context, p *RetryPolicy, op func() (T, error), notify func(err error, attempt int)) (T, error) {
	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		r, e := op()
		if e != nil && !p.retryable(e) {
			return r, backoff.Permanent(e)
		}
		return r, e
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxTries()), backoff.WithNotify(func(e error, d time.Duration) {
		if notify != nil {
			notify(e, attempt)
		}
	}))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return result, err
}

//sleepBackOff wait for the next interval of b, false when ctx is done first
func sleepBackOff(ctx context.Context, b backoff.BackOff) bool {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

//SkipPolicy decides whether a failed item may be skipped
type SkipPolicy struct {
	//SkipLimit max number of skipped items per step execution
	SkipLimit int64
	//Skippable classifies errors, IsSkippable when nil
	Skippable func(err error) bool
}

//NewSkipPolicy skip up to limit items failing with skippable errors
func NewSkipPolicy(limit int64) *SkipPolicy {
	return &SkipPolicy{SkipLimit: limit}
}

//ShouldSkip whether an item failing with err may be skipped when skipCount items have been skipped already
func (p *SkipPolicy) ShouldSkip(err error, skipCount int64) bool {
	if p == nil || err == nil || IsFatal(err) {
		return false
	}
	skippable := IsSkippable(err)
	if p.Skippable != nil {
		skippable = p.Skippable(err)
	}
	return skippable && skipCount < p.SkipLimit
}
