package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"

	"github.com/soochol/promptflow/internal/config"
	"github.com/soochol/promptflow/internal/db"
	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/metrics"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/repository"
	"github.com/soochol/promptflow/internal/resilience"
	"github.com/soochol/promptflow/internal/services"
)

func setupLogger(cfg config.LogConfig, w io.Writer) {
	level := cfg.SlogLevel()
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		})
	}
	slog.SetDefault(slog.New(h))
}

// app is the wired object graph shared by serve and run.
type app struct {
	client   *model.Client
	events   *engine.EventBus
	executor *engine.Executor
	service  *services.WorkflowService
	prompts  *services.PromptService
	metrics  *metrics.Collector
	closers  []io.Closer
}

// Close releases resources in reverse order of acquisition and reports
// every failure.
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (a *app) closeAndLog() {
	if err := a.Close(); err != nil {
		slog.Warn("close failed", "err", err)
	}
}

type appOptions struct {
	// persistent enables the database when configured.
	persistent  bool
	withMetrics bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.closeAndLog()
		}
	}()

	if opts.withMetrics {
		a.metrics = metrics.NewCollector("promptflow", true)
	}

	rc := resilience.New(cfg.Resilience)
	if a.metrics != nil {
		a.metrics.Instrument(rc)
	}

	gen, err := model.NewGeminiGenerator(cfg.Gemini.APIKey)
	if err != nil {
		return nil, err
	}

	clientOpts := []model.ClientOption{model.WithDefaultParams(cfg.Gemini.Defaults)}
	cache, err := a.openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		clientOpts = append(clientOpts, model.WithCache(cache, cfg.Cache.TTL))
	}
	if a.metrics != nil {
		clientOpts = append(clientOpts, model.WithInvokeHook(a.metrics.ObserveInvocation))
	}
	a.client, err = model.NewClient(gen, rc, clientOpts...)
	if err != nil {
		return nil, err
	}

	a.prompts = services.NewPromptService(a.client, cache)

	a.events = engine.NewEventBus()
	a.events.Subscribe(logEvent)
	if a.metrics != nil {
		a.events.Subscribe(a.metrics.ObserveEvent)
	}
	a.executor = engine.NewExecutor(a.client,
		engine.WithOptions(cfg.Engine),
		engine.WithEventBus(a.events),
		engine.WithDefaultParams(cfg.Gemini.Defaults),
	)

	repo, err := a.openRepository(ctx, cfg.Database, opts.persistent)
	if err != nil {
		return nil, err
	}
	a.service = services.NewWorkflowService(repo, a.executor, services.NewRunLimiter(cfg.Runs), a.client)

	ok = true
	return a, nil
}

func (a *app) openCache(ctx context.Context, cfg config.CacheConfig) (model.Cache, error) {
	switch {
	case cfg.Disabled:
		slog.Info("response cache disabled")
		return nil, nil
	case cfg.RedisURL != "":
		rc, err := model.NewRedisCache(ctx, cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		a.closers = append(a.closers, rc)
		slog.Info("using redis response cache", "namespace", cfg.Namespace)
		return rc, nil
	default:
		return model.NewMemoryCache(), nil
	}
}

func (a *app) openRepository(ctx context.Context, cfg config.DatabaseConfig, persistent bool) (repository.WorkflowRepository, error) {
	mem := repository.NewMemory()
	if !persistent || cfg.URL == "" {
		slog.Info("using in-memory storage")
		return mem, nil
	}
	database, err := db.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, database)
	if err := database.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("using PostgreSQL storage")
	return repository.NewPersistent(mem, database), nil
}

func logEvent(e engine.Event) {
	switch e.Type {
	case engine.EventStepFailed:
		slog.Warn("step failed", "workflow_id", e.WorkflowID, "execution_id", e.ExecutionID, "step_id", e.StepID, "payload", e.Payload)
	case engine.EventRunFinished:
		slog.Info("run finished", "workflow_id", e.WorkflowID, "execution_id", e.ExecutionID, "payload", e.Payload)
	default:
		slog.Debug(string(e.Type), "workflow_id", e.WorkflowID, "execution_id", e.ExecutionID, "step_id", e.StepID)
	}
}
