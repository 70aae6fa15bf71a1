package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_NoRetryOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, 5*time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	errUnavailable := errors.New("gateway unavailable")
	calls := 0
	err := Do(context.Background(), 4, 5*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	errDown := errors.New("agent endpoint down")
	calls := 0
	err := Do(context.Background(), 3, 5*time.Millisecond, func() error {
		calls++
		return errDown
	})
	if !errors.Is(err, errDown) {
		t.Fatalf("got %v, want %v", err, errDown)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestDo_PermanentShortCircuits(t *testing.T) {
	errRejected := errors.New("agent rejected request")
	calls := 0
	err := Do(context.Background(), 5, 5*time.Millisecond, func() error {
		calls++
		return Permanent(errRejected)
	})
	if !errors.Is(err, errRejected) {
		t.Fatalf("got %v, want %v", err, errRejected)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
	// Do unwraps, so the caller sees the underlying error type
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Fatal("expected Do to strip the permanent wrapper")
	}
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("still failing")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if c := calls.Load(); c > 3 {
		t.Fatalf("got %d calls before cancel, want <= 3", c)
	}
}

func TestDo_ClampsZeroAttempts(t *testing.T) {
	calls := 0
	if err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestDo_WaitsBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), 3, 20*time.Millisecond, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(stamps); i++ {
		// baseDelay 20ms with -25% jitter still leaves a real pause
		if gap := stamps[i].Sub(stamps[i-1]); gap < 5*time.Millisecond {
			t.Errorf("gap %d too short: %v", i, gap)
		}
	}
}
