package resend

import (
	"context"
	"sync"
	"time"
)

// DefaultThrottleInterval keeps the client under the provider's ceiling of
// roughly two requests per second.
const DefaultThrottleInterval = 600 * time.Millisecond

// Throttle serializes calls so that no two of them start closer together
// than the configured interval, across all goroutines sharing the instance.
// Waiters are paced FIFO-ish: the mutex is held for the duration of the
// delay, so concurrent callers queue rather than race the clock.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttle{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait blocks until the minimum spacing since the previous call start has
// elapsed, then records this call's start. Returns early with the context
// error on cancellation without consuming a slot.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() {
		if wait := t.interval - now.Sub(t.last); wait > 0 {
			if err := t.sleep(ctx, wait); err != nil {
				return err
			}
			now = t.now()
		}
	}
	t.last = now
	return nil
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
