// Package services holds the application use cases shared by the HTTP API
// and the CLI.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/promptflow/internal/dag"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/promptflow"
	"github.com/soochol/promptflow/internal/repository"
)

// Runner executes a workflow. *engine.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, wf *promptflow.Workflow, vars map[string]any) (*promptflow.WorkflowExecution, error)
}

// HealthChecker probes the model endpoint. *model.Client implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) model.Health
}

// WorkflowService encapsulates workflow management and execution: it
// validates definitions, stores them, runs them under the run limiter and
// records every execution.
type WorkflowService struct {
	repo    repository.WorkflowRepository
	runner  Runner
	limiter *RunLimiter
	health  HealthChecker
	now     func() time.Time
}

// NewWorkflowService creates a WorkflowService. health may be nil.
func NewWorkflowService(repo repository.WorkflowRepository, runner Runner, limiter *RunLimiter, health HealthChecker) *WorkflowService {
	if limiter == nil {
		limiter = NewRunLimiter(DefaultRunLimits())
	}
	return &WorkflowService{
		repo:    repo,
		runner:  runner,
		limiter: limiter,
		health:  health,
		now:     time.Now,
	}
}

// Create validates wf, assigns an id and creation time when missing, and
// stores it. Executions supplied by the caller are discarded.
func (s *WorkflowService) Create(ctx context.Context, wf *promptflow.Workflow) (*promptflow.Workflow, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	c := wf.Clone()
	if c.ID == "" {
		c.ID = promptflow.GenerateID("wf")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.Executions = nil
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("workflow created", "workflow_id", c.ID, "steps", len(c.Steps))
	warnUnreachable(c)
	return c, nil
}

func (s *WorkflowService) Get(ctx context.Context, id string) (*promptflow.Workflow, error) {
	return s.repo.Get(ctx, id)
}

func (s *WorkflowService) List(ctx context.Context) ([]*promptflow.Workflow, error) {
	return s.repo.List(ctx)
}

// Update replaces the definition of workflow id. The id, creation time and
// execution history are kept.
func (s *WorkflowService) Update(ctx context.Context, id string, wf *promptflow.Workflow) (*promptflow.Workflow, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	c := wf.Clone()
	c.ID = id
	c.CreatedAt = existing.CreatedAt
	c.Executions = nil
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	c.Executions = existing.Executions
	warnUnreachable(c)
	return c, nil
}

func warnUnreachable(wf *promptflow.Workflow) {
	if u := dag.Build(wf).Unreachable(); len(u) > 0 {
		slog.Warn("workflow has unreachable steps", "workflow_id", wf.ID, "steps", u)
	}
}

func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("workflow deleted", "workflow_id", id)
	return nil
}

// Run executes the stored workflow id and appends the execution to its
// history. The execution is returned whatever its final status.
func (s *WorkflowService) Run(ctx context.Context, id string, vars map[string]any) (*promptflow.WorkflowExecution, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RunWorkflow(ctx, wf, vars)
}

// RunWorkflow executes wf, which must already be stored, and records the
// execution.
func (s *WorkflowService) RunWorkflow(ctx context.Context, wf *promptflow.Workflow, vars map[string]any) (*promptflow.WorkflowExecution, error) {
	if err := s.limiter.Acquire(ctx, wf.ID); err != nil {
		return nil, fmt.Errorf("wait for run slot: %w", err)
	}
	defer s.limiter.Release(wf.ID)

	exec, err := s.runner.Execute(ctx, wf, vars)
	if err != nil {
		return nil, err
	}
	// Record even if the caller went away mid-run.
	if err := s.repo.AppendExecution(context.WithoutCancel(ctx), exec); err != nil {
		slog.Error("failed to record execution", "workflow_id", wf.ID, "execution_id", exec.ID, "err", err)
		return exec, fmt.Errorf("record execution: %w", err)
	}
	return exec, nil
}

// Executions returns the run history of workflow id, oldest first.
func (s *WorkflowService) Executions(ctx context.Context, id string) ([]promptflow.WorkflowExecution, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListExecutions(ctx, id)
}

// Diagram renders workflow id as text.
func (s *WorkflowService) Diagram(ctx context.Context, id string) (string, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return promptflow.Diagram(wf), nil
}

// Analyze reports reachability and loops in the graph of workflow id.
func (s *WorkflowService) Analyze(ctx context.Context, id string) (dag.Analysis, error) {
	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return dag.Analysis{}, err
	}
	return dag.Analyze(wf), nil
}

// Health combines the model endpoint probe with run-limiter usage.
type Health struct {
	Model *model.Health `json:"model,omitempty"`
	Runs  RunStats      `json:"runs"`
}

// Healthy reports whether the model endpoint answered, or true when no
// probe is configured.
func (h Health) Healthy() bool {
	return h.Model == nil || h.Model.Healthy
}

func (s *WorkflowService) Health(ctx context.Context) Health {
	h := Health{Runs: s.limiter.Stats()}
	if s.health != nil {
		mh := s.health.HealthCheck(ctx)
		h.Model = &mh
	}
	return h
}
