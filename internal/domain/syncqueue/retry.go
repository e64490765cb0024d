package syncqueue

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fleetinspect/internal/errs"
)

const DefaultMaxAttempts = 5

type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Initial:     5 * time.Second,
		Max:         10 * time.Minute,
	}
}

type Decision struct {
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
}

// OnFailure decides what happens to an entry after a failed attempt.
// Permanent errors and exhausted attempts both end in StatusFailed.
func (p RetryPolicy) OnFailure(entry Entry, err error, now time.Time) Decision {
	attempts := entry.Attempts + 1
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if !Retryable(err) || attempts >= maxAttempts {
		return Decision{Status: StatusFailed, Attempts: attempts, NextAttemptAt: now}
	}
	return Decision{
		Status:        StatusPending,
		Attempts:      attempts,
		NextAttemptAt: now.Add(p.Delay(attempts)),
	}
}

// Delay is the exponential backoff before attempt number attempts+1.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Retryable reports whether a drain failure should be retried later.
// Unclassified errors are retried; missing local records and remote
// validation rejections are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return true
	case errs.IsPermanent(err):
		return false
	case errs.IsTransient(err):
		return true
	case errors.Is(err, errs.ErrNotFound), errs.IsValidation(err):
		return false
	}
	return true
}
