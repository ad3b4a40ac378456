package resilience

import "context"

// Config bundles the settings of all three components.
type Config struct {
	RateLimit LimiterConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig `yaml:"breaker"`
	Retry     RetryConfig   `yaml:"retry"`
}

// DefaultConfig returns the defaults of every component.
func DefaultConfig() Config {
	return Config{
		RateLimit: DefaultLimiterConfig(),
		Breaker:   DefaultBreakerConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// Context is the shared limiter/breaker/retrier set for one remote endpoint.
// Construct one per endpoint and pass it to the components that call it.
type Context struct {
	Limiter *Limiter
	Breaker *Breaker
	Retrier *Retrier
}

// Option customises a Context at construction.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces the system clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds a Context from cfg.
func New(cfg Config, opts ...Option) *Context {
	o := options{clock: SystemClock}
	for _, opt := range opts {
		opt(&o)
	}
	limiter := NewLimiter(cfg.RateLimit, o.clock)
	breaker := NewBreaker(cfg.Breaker, o.clock)
	return &Context{
		Limiter: limiter,
		Breaker: breaker,
		Retrier: NewRetrier(cfg.Retry, limiter, breaker, o.clock),
	}
}

// Do runs op through the retrier.
func (c *Context) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return c.Retrier.Do(ctx, op)
}

// Snapshot is the health view of a Context.
type Snapshot struct {
	RateLimit    LimiterStatus `json:"rate_limit_status"`
	BreakerState string        `json:"circuit_breaker_state"`
	Failures     int           `json:"failures"`
}

// Snapshot reports the limiter budget and breaker state.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		RateLimit:    c.Limiter.Status(),
		BreakerState: c.Breaker.State().String(),
		Failures:     c.Breaker.Failures(),
	}
}
