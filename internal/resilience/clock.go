// Package resilience turns an unreliable, rate-limited remote call into a
// dependable one: a token bucket bounds the call rate, a circuit breaker
// refuses calls while the endpoint is failing, and a retrier applies
// exponential backoff with jitter between attempts.
package resilience

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so waits can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the real clock.
var SystemClock Clock = systemClock{}

// sleep waits for d on clock, returning early with ctx.Err() when ctx ends.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
