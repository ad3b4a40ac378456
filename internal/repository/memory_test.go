package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/promptflow/internal/promptflow"
)

func newTestWorkflow(id string) *promptflow.Workflow {
	return &promptflow.Workflow{
		ID:   id,
		Name: "Test Workflow",
		Steps: []promptflow.WorkflowStep{
			{ID: "a", Name: "Draft", PromptTemplate: "Write about {{topic}}"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryRepository_CRUD(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	wf := newTestWorkflow("wf-1")
	if err := repo.Create(ctx, wf); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, wf); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "Test Workflow" {
		t.Errorf("expected name 'Test Workflow', got %q", got.Name)
	}

	// Stored copies are independent of the caller's value.
	wf.Name = "mutated"
	got.Steps[0].Name = "mutated"
	again, _ := repo.Get(ctx, "wf-1")
	if again.Name != "Test Workflow" || again.Steps[0].Name != "Draft" {
		t.Errorf("repository aliases caller memory: %+v", again)
	}

	wf.Name = "Updated"
	if err := repo.Update(ctx, wf); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = repo.Get(ctx, "wf-1")
	if got.Name != "Updated" {
		t.Errorf("expected updated name, got %q", got.Name)
	}

	if err := repo.Update(ctx, newTestWorkflow("nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}

	if err := repo.Delete(ctx, "wf-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "wf-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, "wf-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryRepository_ListKeepsInsertionOrder(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"wf-c", "wf-a", "wf-b"} {
		if err := repo.Create(ctx, newTestWorkflow(id)); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, wf := range list {
		ids = append(ids, wf.ID)
	}
	if len(ids) != 3 || ids[0] != "wf-c" || ids[1] != "wf-a" || ids[2] != "wf-b" {
		t.Errorf("unexpected order %v", ids)
	}
}

func TestMemoryRepository_Executions(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	if err := repo.Create(ctx, newTestWorkflow("wf-1")); err != nil {
		t.Fatal(err)
	}

	e1 := &promptflow.WorkflowExecution{ID: "exec-1", WorkflowID: "wf-1", Status: promptflow.ExecutionCompleted}
	e2 := &promptflow.WorkflowExecution{ID: "exec-2", WorkflowID: "wf-1", Status: promptflow.ExecutionFailed}
	for _, e := range []*promptflow.WorkflowExecution{e1, e2} {
		if err := repo.AppendExecution(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := repo.AppendExecution(ctx, e1); err == nil {
		t.Error("expected duplicate execution to be rejected")
	}
	if err := repo.AppendExecution(ctx, &promptflow.WorkflowExecution{ID: "x", WorkflowID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown workflow, got %v", err)
	}

	execs, err := repo.ListExecutions(ctx, "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 2 || execs[0].ID != "exec-1" || execs[1].ID != "exec-2" {
		t.Fatalf("unexpected executions %+v", execs)
	}

	wf, _ := repo.Get(ctx, "wf-1")
	if len(wf.Executions) != 2 {
		t.Errorf("Get should carry executions, got %d", len(wf.Executions))
	}
	list, _ := repo.List(ctx)
	if len(list[0].Executions) != 0 {
		t.Error("List should omit executions")
	}

	// Updating the definition keeps the history.
	if err := repo.Update(ctx, newTestWorkflow("wf-1")); err != nil {
		t.Fatal(err)
	}
	if execs, _ := repo.ListExecutions(ctx, "wf-1"); len(execs) != 2 {
		t.Errorf("update dropped executions: %d", len(execs))
	}

	if err := repo.Delete(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if execs, _ := repo.ListExecutions(ctx, "wf-1"); len(execs) != 0 {
		t.Errorf("delete kept %d executions", len(execs))
	}
}
