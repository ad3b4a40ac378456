package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soochol/promptflow/internal/resilience"
)

// Params are the generation parameters of one invocation.
type Params struct {
	Model           string  `json:"model" yaml:"model"`
	Temperature     float32 `json:"temperature" yaml:"temperature"`
	MaxOutputTokens int32   `json:"max_output_tokens" yaml:"max_output_tokens"`
	TopP            float32 `json:"top_p" yaml:"top_p"`
	TopK            float32 `json:"top_k" yaml:"top_k"`
}

// DefaultParams mirrors the editor defaults.
func DefaultParams() Params {
	return Params{
		Model:           "gemini-2.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 8192,
		TopP:            0.95,
		TopK:            40,
	}
}

// Invocation outcomes reported to the OnInvoke hook.
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Client issues validated, cached, resilient calls to a Generator.
type Client struct {
	gen      Generator
	rc       *resilience.Context
	cache    Cache
	cacheTTL time.Duration
	defaults Params
	group    singleflight.Group
	onInvoke func(outcome string, elapsed time.Duration)
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithCache puts cache in front of the generator.
func WithCache(cache Cache, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithDefaultParams sets the parameters used to fill unset request fields.
func WithDefaultParams(p Params) ClientOption {
	return func(c *Client) { c.defaults = p }
}

// WithInvokeHook registers a callback run after every Invoke.
func WithInvokeHook(fn func(outcome string, elapsed time.Duration)) ClientOption {
	return func(c *Client) { c.onInvoke = fn }
}

// NewClient creates a Client. rc is shared by reference with every other
// component calling the same endpoint.
func NewClient(gen Generator, rc *resilience.Context, opts ...ClientOption) (*Client, error) {
	if gen == nil {
		return nil, errors.New("model: generator is required")
	}
	if rc == nil {
		rc = resilience.New(resilience.DefaultConfig())
	}
	c := &Client{gen: gen, rc: rc, defaults: DefaultParams(), cacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resilience returns the shared resilience context.
func (c *Client) Resilience() *resilience.Context { return c.rc }

// Invoke validates prompt, serves it from the cache when possible and
// otherwise calls the generator through the retrier.
func (c *Client) Invoke(ctx context.Context, prompt string, params Params) (string, error) {
	start := time.Now()
	text, outcome, err := c.invoke(ctx, prompt, c.withDefaults(params))
	if c.onInvoke != nil {
		c.onInvoke(outcome, time.Since(start))
	}
	return text, err
}

func (c *Client) invoke(ctx context.Context, prompt string, params Params) (string, string, error) {
	sanitized, err := ValidateInput(prompt)
	if err != nil {
		return "", OutcomeInvalid, err
	}

	key := invocationKey(params, sanitized)
	if c.cache != nil {
		if v, err := c.cache.Get(ctx, key); err == nil {
			emitLog(ctx, "model: served from cache")
			return v, OutcomeCacheHit, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("response cache read failed", "err", err)
		}
	}

	// The shared call is detached from any one caller so that a cancelled
	// caller does not fail the others waiting on the same key.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		var text string
		err := c.rc.Do(flightCtx, func(ctx context.Context) error {
			var callErr error
			text, callErr = c.call(ctx, sanitized, params)
			return callErr
		})
		if err != nil {
			return "", err
		}
		if c.cache != nil {
			if err := c.cache.Set(flightCtx, key, text, c.cacheTTL); err != nil {
				slog.Warn("response cache write failed", "err", err)
			}
		}
		return text, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", OutcomeError, fmt.Errorf("model call: %w", ctx.Err())
	}
	if res.Err != nil {
		return "", OutcomeError, res.Err
	}
	text := res.Val.(string)
	return text, OutcomeSuccess, nil
}

// call issues exactly one remote request and classifies the result.
func (c *Client) call(ctx context.Context, prompt string, params Params) (string, error) {
	resp, err := c.gen.Generate(ctx, Request{
		Model:           params.Model,
		Prompt:          prompt,
		Temperature:     params.Temperature,
		MaxOutputTokens: params.MaxOutputTokens,
		TopP:            params.TopP,
		TopK:            params.TopK,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("model call: %w", ctxErr)
		}
		return "", classify(err)
	}
	if resp == nil {
		return "", &Error{Message: ErrEmptyResponse.Error(), kind: ErrEmptyResponse}
	}
	if resp.BlockReason != "" {
		return "", blockedError(resp.BlockReason)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &Error{Message: ErrEmptyResponse.Error(), kind: ErrEmptyResponse}
	}
	return text, nil
}

func (c *Client) withDefaults(p Params) Params {
	if p.Model == "" {
		p.Model = c.defaults.Model
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = c.defaults.MaxOutputTokens
	}
	if p.TopP <= 0 {
		p.TopP = c.defaults.TopP
	}
	if p.TopK <= 0 {
		p.TopK = c.defaults.TopK
	}
	return p
}

// invocationKey hashes the whole sanitised input together with the
// parameters, so prompts sharing a prefix never alias.
func invocationKey(p Params, sanitized string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%g\x00%d\x00%g\x00%g\x00%s",
		p.Model, p.Temperature, p.MaxOutputTokens, p.TopP, p.TopK, sanitized)))
	return "invoke_" + hex.EncodeToString(sum[:16])
}

// ClearCache drops every cached response.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}

// Health is the result of HealthCheck.
type Health struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	resilience.Snapshot
}

// HealthCheck makes one direct call, outside the retrier, and reports it
// together with the limiter and breaker state.
func (c *Client) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	_, err := c.call(ctx, `Health check. Respond with "OK".`, Params{
		Model:           c.defaults.Model,
		Temperature:     0,
		MaxOutputTokens: 5,
	})
	h := Health{Snapshot: c.rc.Snapshot()}
	if err != nil {
		slog.Error("API health check failed", "err", err)
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	h.LatencyMS = time.Since(start).Milliseconds()
	return h
}
