// Package retry runs a single remote call under an explicit attempt budget with
// clamped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	Name string
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// Backoff before retry n is Multiplier*2^(n-1), clamped to [MinBackoff, MaxBackoff].
	Multiplier time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// RetryIf reports whether an error may be retried. Nil retries everything.
	RetryIf func(error) bool
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep SleepFunc
	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// ExhaustedError carries the last error once the attempt budget is spent.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Policy, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Upload is the policy shape for large artifact uploads.
func Upload() Policy {
	return Policy{
		Name:        "upload",
		MaxAttempts: 10,
		Multiplier:  time.Second,
		MinBackoff:  4 * time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

func Generate() Policy {
	return Policy{
		Name:        "generate",
		MaxAttempts: 3,
		Multiplier:  time.Second,
		MinBackoff:  4 * time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

// Do calls fn until it succeeds, the policy refuses a retry, or attempts run out.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = TimerSleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}
		if err := sleep(ctx, backoff); err != nil {
			return zero, &ExhaustedError{Policy: p.Name, Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}
	return zero, &ExhaustedError{Policy: p.Name, Attempts: maxAttempts, Err: lastErr}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(p.Multiplier) * math.Pow(2, float64(attempt-1))
	if p.MaxBackoff > 0 && wait > float64(p.MaxBackoff) {
		wait = float64(p.MaxBackoff)
	}
	if wait < float64(p.MinBackoff) {
		wait = float64(p.MinBackoff)
	}
	return time.Duration(wait)
}

// TimerSleep blocks only the calling goroutine and returns early if ctx ends.
func TimerSleep(ctx context.Context, d time.Duration) error {
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
