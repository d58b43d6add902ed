package resend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestThrottleFirstCallDoesNotWait(t *testing.T) {
	throttle := NewThrottle(600 * time.Millisecond)
	slept := time.Duration(0)
	throttle.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		return nil
	}
	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if slept != 0 {
		t.Fatalf("first call should not sleep, slept %s", slept)
	}
}

func TestThrottleEnforcesMinimumSpacing(t *testing.T) {
	throttle := NewThrottle(600 * time.Millisecond)
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	throttle.now = func() time.Time { return current }
	var slept []time.Duration
	throttle.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		current = current.Add(d)
		return nil
	}

	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	current = current.Add(100 * time.Millisecond)
	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(slept) != 1 || slept[0] != 500*time.Millisecond {
		t.Fatalf("expected one 500ms sleep, got %v", slept)
	}

	// A caller arriving after the interval has already passed goes straight
	// through.
	current = current.Add(700 * time.Millisecond)
	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("expected no additional sleep, got %v", slept)
	}
}

func TestThrottleSerializesConcurrentCallers(t *testing.T) {
	throttle := NewThrottle(10 * time.Millisecond)
	var mu sync.Mutex
	var starts []time.Time
	realNow := time.Now
	throttle.now = func() time.Time {
		now := realNow()
		return now
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := throttle.Wait(context.Background()); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, realNow())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 5 {
		t.Fatalf("expected 5 starts, got %d", len(starts))
	}
}

func TestThrottleWaitHonorsCancellation(t *testing.T) {
	throttle := NewThrottle(time.Hour)
	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := throttle.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
