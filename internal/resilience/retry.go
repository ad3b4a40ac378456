package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"` // total attempts per call
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxJitter  time.Duration `yaml:"max_jitter"`
}

// DefaultRetryConfig tries 3 times, starting at 1s and capping at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		MaxJitter:  time.Second,
	}
}

// StatusCoder is implemented by errors that carry an HTTP-like status.
type StatusCoder interface {
	HTTPStatus() int
}

// Retrier runs a call inside the breaker, taking a limiter token before
// every attempt and backing off between failed attempts.
type Retrier struct {
	cfg     RetryConfig
	limiter *Limiter
	breaker *Breaker
	clock   Clock
	jitter  func(max time.Duration) time.Duration

	// OnRetry, when set, is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier creates a Retrier over limiter and breaker.
func NewRetrier(cfg RetryConfig, limiter *Limiter, breaker *Breaker, clock Clock) *Retrier {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Retrier{
		cfg:     cfg,
		limiter: limiter,
		breaker: breaker,
		clock:   clock,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

// Do runs op with retries. The whole loop counts as a single breaker call:
// an exhausted loop is one failure, an eventual success is one success.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		var lastErr error
		for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
			if err := r.limiter.Acquire(ctx); err != nil {
				return err
			}
			err := op(ctx)
			if err == nil {
				return nil
			}
			lastErr = err

			if !IsRetryable(err) || ctx.Err() != nil {
				return err
			}
			if attempt == r.cfg.MaxRetries {
				break
			}

			delay := r.backoff(attempt)
			slog.Warn("request failed, retrying",
				"attempt", attempt, "max_retries", r.cfg.MaxRetries, "delay", delay, "err", err)
			if r.OnRetry != nil {
				r.OnRetry(attempt, delay, err)
			}
			if err := sleep(ctx, r.clock, delay); err != nil {
				return err
			}
		}
		return lastErr
	})
}

// backoff computes min(base*2^(attempt-1) + jitter, maxDelay); attempt is
// 1-based.
func (r *Retrier) backoff(attempt int) time.Duration {
	return calculateBackoff(r.cfg, attempt, r.jitter(r.cfg.MaxJitter))
}

func calculateBackoff(cfg RetryConfig, attempt int, jitter time.Duration) time.Duration {
	delay := float64(cfg.BaseDelay)*math.Pow(2, float64(attempt-1)) + float64(jitter)
	if delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable reports whether err is worth another attempt. Client errors
// (4xx) are final except 429 and 403, since upstream quota resets. Context
// errors and an open breaker are final too. Everything else, including
// errors with no status, is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		if status >= 400 && status < 500 &&
			status != http.StatusTooManyRequests && status != http.StatusForbidden {
			return false
		}
	}
	return true
}
