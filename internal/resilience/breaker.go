package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the call while the breaker
// is open.
var ErrCircuitOpen = errors.New("service degraded: circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// DefaultBreakerConfig opens after 5 failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker. Transitions follow
// CLOSED -> OPEN -> HALF_OPEN -> CLOSED|OPEN only.
type Breaker struct {
	cfg   BreakerConfig
	clock Clock

	// OnStateChange, when set, is called after every transition with the
	// lock released.
	OnStateChange func(from, to State)

	mu           sync.Mutex
	state        State
	failures     int
	lastFailTime time.Time
	trialRunning bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, clock Clock) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Breaker{cfg: cfg, clock: clock, state: StateClosed}
}

// Execute runs op unless the breaker is open. op's error is returned as is.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(ctx, err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailTime) <= b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialRunning = true
	case StateHalfOpen:
		if b.trialRunning {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trialRunning = true
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	from := b.state
	b.trialRunning = false
	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// The caller gave up; this says nothing about the endpoint.
	default:
		b.failures++
		b.lastFailTime = b.clock.Now()
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "from", from.String(), "to", to.String())
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}

// State returns the current state. An open breaker whose recovery timeout
// has elapsed still reports OPEN until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialRunning = false
	b.lastFailTime = time.Time{}
	b.mu.Unlock()

	b.notify(from, StateClosed)
}
