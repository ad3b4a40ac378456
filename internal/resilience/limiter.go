package resilience

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig configures a token bucket.
type LimiterConfig struct {
	Capacity       int           `yaml:"capacity"`
	RefillRate     int           `yaml:"refill_rate"`     // tokens added per interval
	RefillInterval time.Duration `yaml:"refill_interval"` // e.g. 4s
	Slack          time.Duration `yaml:"slack"`           // added to every wait
}

// DefaultLimiterConfig allows 15 calls in a burst, refilling 2 every 4s.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Capacity:       15,
		RefillRate:     2,
		RefillInterval: 4 * time.Second,
		Slack:          100 * time.Millisecond,
	}
}

// LimiterStatus is a point-in-time view of the bucket.
type LimiterStatus struct {
	Tokens   int `json:"tokens"`
	Capacity int `json:"capacity"`
}

// Limiter is a token bucket refilled lazily from elapsed time on each call.
// There is no background timer.
type Limiter struct {
	cfg   LimiterConfig
	clock Clock

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewLimiter creates a full bucket. Non-positive config values fall back to
// the defaults.
func NewLimiter(cfg LimiterConfig, clock Clock) *Limiter {
	def := DefaultLimiterConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = def.RefillRate
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = def.RefillInterval
	}
	if cfg.Slack < 0 {
		cfg.Slack = 0
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Limiter{
		cfg:        cfg,
		clock:      clock,
		tokens:     cfg.Capacity,
		lastRefill: clock.Now(),
	}
}

// refill must be called with mu held.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	intervals := int(elapsed / l.cfg.RefillInterval)
	if intervals <= 0 {
		return
	}
	l.tokens = min(l.cfg.Capacity, l.tokens+intervals*l.cfg.RefillRate)
	l.lastRefill = l.lastRefill.Add(time.Duration(intervals) * l.cfg.RefillInterval)
}

// tryAcquire takes a token if one is available, otherwise returns how long
// to wait before the next refill.
func (l *Limiter) tryAcquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refill(now)
	if l.tokens > 0 {
		l.tokens--
		return true, 0
	}
	return false, l.cfg.RefillInterval - now.Sub(l.lastRefill) + l.cfg.Slack
}

// Acquire blocks until a token is available and takes it. The wait loops
// because one refill may not cover every waiter.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := l.tryAcquire()
		if ok {
			return nil
		}
		if err := sleep(ctx, l.clock, wait); err != nil {
			return err
		}
	}
}

// Status reports the current budget. Only the passive refill is applied.
func (l *Limiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(l.clock.Now())
	return LimiterStatus{Tokens: l.tokens, Capacity: l.cfg.Capacity}
}
