package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed with a transient
// error. The last attempt's error is wrapped and available via Unwrap.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is the uniform retry contract used by every retryable
// operation in the bridge: a bounded number of attempts with a fixed
// per-attempt backoff vector.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// Do runs fn up to MaxAttempts times. transient decides whether an
// error is worth another attempt; a non-transient error aborts
// immediately and is returned as-is. When the attempts run out, the
// last error is wrapped in ErrExhausted.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error, transient func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !transient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}

	return &exhaustedError{last: lastErr}
}

// delay returns the backoff after the given 1-based attempt. A short
// backoff vector repeats its last entry.
func (p Policy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type exhaustedError struct {
	last error
}

func (e *exhaustedError) Error() string {
	if e.last != nil {
		return ErrExhausted.Error() + ": " + e.last.Error()
	}
	return ErrExhausted.Error()
}

func (e *exhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.last}
}
