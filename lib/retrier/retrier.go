// Package retrier provides the retry policy shared by every outbound
// adapter call (extraction, image fetch, catalog upload). Errors are
// classified as transient or permanent; only transient errors are
// retried, with exponential backoff between attempts.
package retrier

import (
	"context"
	"errors"
	"time"
)

type Class int

const (
	// network errors, timeouts, 5xx-equivalents. retried.
	ClassTransient Class = iota
	// malformed input, 4xx-equivalents. never retried.
	ClassPermanent
)

type classifiedError struct {
	err   error
	class Class
}

func (e classifiedError) Error() string { return e.err.Error() }
func (e classifiedError) Unwrap() error { return e.err }

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return classifiedError{err: err, class: ClassTransient}
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return classifiedError{err: err, class: ClassPermanent}
}

// Classify reports the class of an error. Unclassified errors count as
// transient, matching how an unreliable network behaves by default.
func Classify(err error) Class {
	var ce classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassTransient
}

type Policy struct {
	// total number of attempts, not the number of retries after the first
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// per-attempt deadline applied to the op's context, 0 means none
	AttemptTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Millisecond * 250
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Second * 30
	}
	return p
}

func (p Policy) delayFor(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Do runs op until it succeeds, returns a permanent error, the attempt
// budget runs out, or ctx is cancelled. onFailure is invoked after every
// failed attempt (1-based) and may be nil.
func (p Policy) Do(
	ctx context.Context,
	op func(ctx context.Context) error,
	onFailure func(attempt int, err error),
) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if Classify(err) == ClassPermanent {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if !sleep(ctx, p.delayFor(attempt)) {
			return ctx.Err()
		}
	}
	return lastErr
}

// Sleep waits out the backoff delay that follows the given failed
// attempt, returning false if ctx was cancelled first. For callers
// that drive their own attempt loop against a persisted counter.
func (p Policy) Sleep(ctx context.Context, attempt int) bool {
	p = p.withDefaults()
	return sleep(ctx, p.delayFor(attempt))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
