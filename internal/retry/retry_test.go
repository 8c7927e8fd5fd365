package retry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func failTimes(n int, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", errors.New("transient")
		}
		return "ok", nil
	}
}

func TestUploadPolicySucceedsOnTenthAttempt(t *testing.T) {
	sleeper := &recordingSleep{}
	p := Upload()
	p.Sleep = sleeper.Sleep

	calls := 0
	got, err := Do(context.Background(), p, failTimes(9, &calls))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" || calls != 10 {
		t.Fatalf("got %q after %d calls", got, calls)
	}

	want := []time.Duration{4, 4, 4, 8, 10, 10, 10, 10, 10}
	for i := range want {
		want[i] *= time.Second
	}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Fatalf("unexpected waits: %v", sleeper.waits)
	}
}

func TestExhaustionReturnsLastError(t *testing.T) {
	sleeper := &recordingSleep{}
	p := Generate()
	p.Sleep = sleeper.Sleep

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("attempt failed")
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if calls != 3 || exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, calls=%d attempts=%d", calls, exhausted.Attempts)
	}
	if exhausted.Err.Error() != "attempt failed" {
		t.Fatalf("unexpected last error: %v", exhausted.Err)
	}
	if len(sleeper.waits) != 2 {
		t.Fatalf("expected no sleep after the final attempt, got %v", sleeper.waits)
	}
}

func TestRetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	p := Upload()
	p.Sleep = (&recordingSleep{}).Sleep
	p.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one call returning the permanent error, calls=%d err=%v", calls, err)
	}
}

func TestOnRetryReportsAttempts(t *testing.T) {
	var attempts []int
	p := Generate()
	p.Sleep = (&recordingSleep{}).Sleep
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }

	calls := 0
	if _, err := Do(context.Background(), p, failTimes(2, &calls)); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !reflect.DeepEqual(attempts, []int{1, 2}) {
		t.Fatalf("unexpected retry attempts: %v", attempts)
	}
}

func TestTimerSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Name: "generate", MaxAttempts: 3, MinBackoff: time.Hour, MaxBackoff: time.Hour}
	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call before cancellation, got %d", calls)
	}
}

func TestBackoffShape(t *testing.T) {
	p := Policy{Multiplier: time.Second, MinBackoff: 4 * time.Second, MaxBackoff: 10 * time.Second}
	cases := map[int]time.Duration{
		0: 4 * time.Second,
		1: 4 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 10 * time.Second,
		9: 10 * time.Second,
	}
	for attempt, want := range cases {
		if got := p.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
