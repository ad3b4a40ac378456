// Package metrics exposes Prometheus counters for model calls, the
// resilience layer, workflow runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/resilience"
)

// Collector owns a private registry so several collectors can coexist in
// one process.
type Collector struct {
	reg *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	retriesTotal       prometheus.Counter
	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec

	runsTotal  *prometheus.CounterVec
	stepsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics under namespace. Go runtime and
// process collectors are included when withRuntime is set.
func NewCollector(namespace string, withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		invocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_invocations_total",
			Help:      "Model invocations by outcome",
		}, []string{"outcome"}),
		invocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_invocation_duration_seconds",
			Help:      "Model invocation latency in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		retriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_retries_total",
			Help:      "Retry attempts scheduled after a transient model error",
		}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		breakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by target state",
		}, []string{"to"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Finished workflow runs by status",
		}, []string{"status"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Executed workflow steps by result",
		}, []string{"result"}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// ObserveInvocation matches model.WithInvokeHook.
func (c *Collector) ObserveInvocation(outcome string, elapsed time.Duration) {
	c.invocationsTotal.WithLabelValues(outcome).Inc()
	c.invocationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRetry matches resilience.Retrier.OnRetry.
func (c *Collector) ObserveRetry(int, time.Duration, error) {
	c.retriesTotal.Inc()
}

// ObserveBreaker matches resilience.Breaker.OnStateChange.
func (c *Collector) ObserveBreaker(_, to resilience.State) {
	c.breakerState.Set(float64(to))
	c.breakerTransitions.WithLabelValues(to.String()).Inc()
}

// Instrument attaches the resilience hooks. Existing hooks are chained.
func (c *Collector) Instrument(rc *resilience.Context) {
	if rc == nil {
		return
	}
	if b := rc.Breaker; b != nil {
		prev := b.OnStateChange
		b.OnStateChange = func(from, to resilience.State) {
			if prev != nil {
				prev(from, to)
			}
			c.ObserveBreaker(from, to)
		}
	}
	if r := rc.Retrier; r != nil {
		prev := r.OnRetry
		r.OnRetry = func(attempt int, delay time.Duration, err error) {
			if prev != nil {
				prev(attempt, delay, err)
			}
			c.ObserveRetry(attempt, delay, err)
		}
	}
}

// ObserveEvent counts step results and finished runs. Subscribe it to the
// executor's event bus.
func (c *Collector) ObserveEvent(e engine.Event) {
	switch e.Type {
	case engine.EventStepCompleted:
		c.stepsTotal.WithLabelValues("success").Inc()
	case engine.EventStepFailed:
		c.stepsTotal.WithLabelValues("failure").Inc()
	case engine.EventRunFinished:
		status := "unknown"
		if m, ok := e.Payload.(map[string]any); ok {
			if s, ok := m["status"].(string); ok {
				status = s
			}
		}
		c.runsTotal.WithLabelValues(status).Inc()
	}
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
