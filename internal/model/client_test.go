package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/promptflow/internal/resilience"
)

// scriptedGenerator returns the scripted results in order, repeating the
// last one.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []scripted
	calls   int
	reqs    []Request
}

type scripted struct {
	resp *Response
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, req Request) (*Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(g.calls, len(g.results)-1)
	g.calls++
	g.reqs = append(g.reqs, req)
	return g.results[i].resp, g.results[i].err
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func fastResilience() *resilience.Context {
	return resilience.New(resilience.Config{
		RateLimit: resilience.LimiterConfig{Capacity: 100, RefillRate: 100, RefillInterval: time.Second},
		Breaker:   resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		Retry:     resilience.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func newTestClient(t *testing.T, gen Generator, opts ...ClientOption) *Client {
	t.Helper()
	c, err := NewClient(gen, fastResilience(), opts...)
	require.NoError(t, err)
	return c
}

func TestClient_InvokeSuccess(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{Text: "  hello world \n"}}}}
	c := newTestClient(t, gen)

	got, err := c.Invoke(context.Background(), "  Say hello to the world  ", Params{Model: "gemini-test", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	assert.Equal(t, "Say hello to the world", req.Prompt)
	assert.Equal(t, "gemini-test", req.Model)
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, int32(8192), req.MaxOutputTokens, "filled from defaults")
}

func TestClient_ValidationErrorNeverCallsGenerator(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{Text: "x"}}}}
	c := newTestClient(t, gen)

	_, err := c.Invoke(context.Background(), "hi", Params{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, gen.Calls())
}

func TestClient_EmptyResponseRetriedThenSurfaced(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{Text: "   "}}}}
	c := newTestClient(t, gen)

	_, err := c.Invoke(context.Background(), "Write something", Params{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, 3, gen.Calls())
}

func TestClient_ContentBlockedNotRetried(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{BlockReason: "SAFETY"}}}}
	c := newTestClient(t, gen)

	_, err := c.Invoke(context.Background(), "Write something", Params{})
	assert.ErrorIs(t, err, ErrContentBlocked)
	assert.Equal(t, 1, gen.Calls())
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, CodeContentBlocked, me.Code)
}

func TestClient_TransientErrorsRetried(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{
		{err: errors.New("rate limit exceeded")},
		{err: errors.New("connection reset")},
		{resp: &Response{Text: "finally"}},
	}}
	c := newTestClient(t, gen)

	got, err := c.Invoke(context.Background(), "Write something", Params{})
	require.NoError(t, err)
	assert.Equal(t, "finally", got)
	assert.Equal(t, 3, gen.Calls())
}

func TestClient_PlainStringGenerator(t *testing.T) {
	gen := TextGeneratorFunc(func(_ context.Context, req Request) (string, error) {
		return "echo: " + req.Prompt, nil
	})
	c := newTestClient(t, gen)

	got, err := c.Invoke(context.Background(), "ping pong", Params{})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping pong", got)
}

func TestClient_CacheServesRepeatedInput(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{Text: "cached answer"}}}}
	var outcomes []string
	c := newTestClient(t, gen,
		WithCache(NewMemoryCache(), time.Minute),
		WithInvokeHook(func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) }),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Invoke(ctx, "Tell me a story", Params{})
		require.NoError(t, err)
		assert.Equal(t, "cached answer", got)
	}
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, []string{OutcomeSuccess, OutcomeCacheHit, OutcomeCacheHit}, outcomes)

	require.NoError(t, c.ClearCache(ctx))
	_, err := c.Invoke(ctx, "Tell me a story", Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.Calls())
}

func TestClient_CacheDistinguishesLongPromptsWithSharedPrefix(t *testing.T) {
	gen := TextGeneratorFunc(func(_ context.Context, req Request) (string, error) {
		return req.Prompt[len(req.Prompt)-1:], nil
	})
	c := newTestClient(t, gen, WithCache(NewMemoryCache(), time.Minute))
	prefix := ""
	for len(prefix) < 150 {
		prefix += "shared prefix "
	}

	a, err := c.Invoke(context.Background(), prefix+"A", Params{})
	require.NoError(t, err)
	b, err := c.Invoke(context.Background(), prefix+"B", Params{})
	require.NoError(t, err)
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}

func TestClient_ConcurrentIdenticalCallsCollapse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gen := TextGeneratorFunc(func(context.Context, Request) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	})
	c := newTestClient(t, gen)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Invoke(context.Background(), "Same prompt please", Params{})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestClient_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gen := TextGeneratorFunc(func(ctx context.Context, _ Request) (string, error) {
		calls.Add(1)
		select {
		case <-release:
			return "shared", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	c := newTestClient(t, gen, WithCache(NewMemoryCache(), time.Minute))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Invoke(ctxA, "Same prompt please", Params{})
		errA <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		text string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		text, err := c.Invoke(context.Background(), "Same prompt please", Params{})
		resB <- result{text, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "shared", b.text)
	assert.Equal(t, int32(1), calls.Load())

	text, err := c.Invoke(context.Background(), "Same prompt please", Params{})
	require.NoError(t, err)
	assert.Equal(t, "shared", text)
	assert.Equal(t, int32(1), calls.Load(), "served from cache")
}

func TestClient_OpenBreakerFailsFast(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{err: errors.New("upstream 500")}}}
	rc := resilience.New(resilience.Config{
		Breaker: resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		Retry:   resilience.RetryConfig{MaxRetries: 1},
	})
	c, err := NewClient(gen, rc)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "First request", Params{})
	require.Error(t, err)
	_, err = c.Invoke(context.Background(), "Second request", Params{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, gen.Calls())
}

func TestClient_HealthCheck(t *testing.T) {
	gen := &scriptedGenerator{results: []scripted{{resp: &Response{Text: "OK"}}}}
	c := newTestClient(t, gen)

	h := c.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
	assert.Equal(t, "CLOSED", h.BreakerState)
	assert.Equal(t, int32(5), gen.reqs[0].MaxOutputTokens)

	failing := newTestClient(t, &scriptedGenerator{results: []scripted{{err: errors.New("down")}}})
	h = failing.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Error)
}

func TestNewClient_RequiresGenerator(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.Error(t, err)
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator("")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
