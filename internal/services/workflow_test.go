package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/promptflow"
	"github.com/soochol/promptflow/internal/repository"
)

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, prompt string, _ model.Params) (string, error) {
	return "echo: " + prompt, nil
}

type stubHealth struct{ h model.Health }

func (s stubHealth) HealthCheck(context.Context) model.Health { return s.h }

func newTestService(t *testing.T) *WorkflowService {
	t.Helper()
	return NewWorkflowService(repository.NewMemory(), engine.NewExecutor(echoInvoker{}), nil, nil)
}

func sampleWorkflow() *promptflow.Workflow {
	return &promptflow.Workflow{
		Name: "sample",
		Steps: []promptflow.WorkflowStep{
			{ID: "a", Name: "Draft", PromptTemplate: "Write about {{topic}}"},
			{ID: "b", Name: "Polish", PromptTemplate: "Polish: {{previous_output}}"},
		},
		Conditions: []promptflow.Condition{
			{ID: "c1", SourceStepID: "a", TrueTargetStepID: "b", Expression: "true", Description: "always"},
		},
	}
}

func TestCreate_AssignsIDAndTime(t *testing.T) {
	svc := newTestService(t)
	in := sampleWorkflow()
	in.Executions = []promptflow.WorkflowExecution{{ID: "bogus"}}

	wf, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(wf.ID, "wf-") {
		t.Errorf("expected generated id, got %q", wf.ID)
	}
	if wf.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if len(wf.Executions) != 0 {
		t.Error("caller-supplied executions must be dropped")
	}
	if in.ID != "" {
		t.Error("Create must not mutate its argument")
	}
}

func TestCreate_RejectsInvalid(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), &promptflow.Workflow{Name: "empty"})
	if !errors.Is(err, promptflow.ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
	}
}

func TestRun_AppendsExecution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wf, err := svc.Create(ctx, sampleWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		exec, err := svc.Run(ctx, wf.ID, map[string]any{"topic": "gophers"})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if exec.Status != promptflow.ExecutionCompleted || len(exec.Steps) != 2 {
			t.Fatalf("unexpected execution %+v", exec)
		}
		if exec.Steps[0].Input != "Write about gophers" {
			t.Errorf("input = %q", exec.Steps[0].Input)
		}
	}

	execs, err := svc.Executions(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	got, _ := svc.Get(ctx, wf.ID)
	if len(got.Executions) != 2 {
		t.Errorf("Get should include executions, got %d", len(got.Executions))
	}
}

func TestRun_NotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Run(context.Background(), "missing", nil)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Executions(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_CancelledWhileWaitingForSlot(t *testing.T) {
	limiter := NewRunLimiter(RunLimits{GlobalMax: 1, PerWorkflow: 1})
	svc := NewWorkflowService(repository.NewMemory(), engine.NewExecutor(echoInvoker{}), limiter, nil)
	wf, _ := svc.Create(context.Background(), sampleWorkflow())

	_ = limiter.Acquire(context.Background(), wf.ID)
	defer limiter.Release(wf.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Run(ctx, wf.ID, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUpdate_KeepsIdentityAndHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wf, _ := svc.Create(ctx, sampleWorkflow())
	if _, err := svc.Run(ctx, wf.ID, nil); err != nil {
		t.Fatal(err)
	}

	next := sampleWorkflow()
	next.ID = "ignored"
	next.Name = "renamed"
	updated, err := svc.Update(ctx, wf.ID, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != wf.ID || !updated.CreatedAt.Equal(wf.CreatedAt) {
		t.Errorf("identity changed: %+v", updated)
	}
	got, _ := svc.Get(ctx, wf.ID)
	if got.Name != "renamed" || len(got.Executions) != 1 {
		t.Errorf("unexpected stored workflow %+v", got)
	}

	if _, err := svc.Update(ctx, wf.ID, &promptflow.Workflow{}); !errors.Is(err, promptflow.ErrInvalidWorkflow) {
		t.Errorf("expected ErrInvalidWorkflow, got %v", err)
	}
	if _, err := svc.Update(ctx, "missing", sampleWorkflow()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAndDiagram(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wf, _ := svc.Create(ctx, sampleWorkflow())

	d, err := svc.Diagram(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(d, "-> (always ✓) -> [Polish]") {
		t.Errorf("unexpected diagram:\n%s", d)
	}

	if err := svc.Delete(ctx, wf.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, wf.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Diagram(ctx, wf.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	svc := newTestService(t)
	h := svc.Health(context.Background())
	if !h.Healthy() || h.Model != nil || h.Runs.GlobalMax != 10 {
		t.Errorf("unexpected health %+v", h)
	}

	svc = NewWorkflowService(repository.NewMemory(), engine.NewExecutor(echoInvoker{}), nil,
		stubHealth{model.Health{Healthy: false, Error: "down"}})
	h = svc.Health(context.Background())
	if h.Healthy() || h.Model.Error != "down" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestAnalyze(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wf, _ := svc.Create(ctx, sampleWorkflow())

	a, err := svc.Analyze(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Entry != "a" || a.HasCycle || len(a.Unreachable) != 0 {
		t.Errorf("unexpected analysis %+v", a)
	}
	if _, err := svc.Analyze(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
