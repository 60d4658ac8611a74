package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFatal = errors.New("fatal")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Jitter:      0,
		Timeout:     time.Second,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls, waits := 0, 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return errors.New("down")
	}, func(error, time.Duration) { waits++ })
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if waits != 2 {
		t.Fatalf("waits = %d, want 2", waits)
	}
}

func TestDoDoesNotRetryStopErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return errors.Join(errors.New("login"), errFatal)
	}, nil, errFatal)
	if !errors.Is(err, errFatal) {
		t.Fatalf("err = %v, want errFatal", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(errFatal)
	}, nil)
	if !errors.Is(err, errFatal) || calls != 1 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy(1)
	p.Timeout = 5 * time.Millisecond
	err := Do(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		return errors.New("x")
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls > 1 {
		t.Fatalf("calls = %d after cancel", calls)
	}
}
