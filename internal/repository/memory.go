package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/promptflow/internal/promptflow"
	memstore "github.com/soochol/promptflow/internal/repository/memory"
)

// MemoryRepository is a thread-safe in-memory WorkflowRepository. It stores
// copies, so callers may keep mutating what they passed in or got back.
type MemoryRepository struct {
	workflows  *memstore.Store[*promptflow.Workflow]
	executions *memstore.Store[*promptflow.WorkflowExecution]
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		workflows:  memstore.New(func(w *promptflow.Workflow) string { return w.ID }),
		executions: memstore.New(func(e *promptflow.WorkflowExecution) string { return e.ID }),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, wf *promptflow.Workflow) error {
	c := wf.Clone()
	c.Executions = nil
	if err := r.workflows.Insert(ctx, c); errors.Is(err, memstore.ErrExists) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, wf.ID)
	}
	return nil
}

// seed caches a workflow loaded from elsewhere, replacing any cached copy.
func (r *MemoryRepository) seed(ctx context.Context, wf *promptflow.Workflow) {
	c := wf.Clone()
	c.Executions = nil
	_ = r.workflows.Set(ctx, c)
	for i := range wf.Executions {
		_ = r.executions.Set(ctx, wf.Executions[i].Clone())
	}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*promptflow.Workflow, error) {
	wf, err := r.workflows.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	out := wf.Clone()
	out.Executions, err = r.ListExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*promptflow.Workflow, error) {
	all, err := r.workflows.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*promptflow.Workflow, len(all))
	for i, wf := range all {
		out[i] = wf.Clone()
	}
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, wf *promptflow.Workflow) error {
	c := wf.Clone()
	c.Executions = nil
	err := r.workflows.Modify(ctx, wf.ID, func(*promptflow.Workflow) (*promptflow.Workflow, error) {
		return c, nil
	})
	if errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, wf.ID)
	}
	return err
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	if err := r.workflows.Delete(ctx, id); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	execs, _ := r.executions.Filter(ctx, func(e *promptflow.WorkflowExecution) bool { return e.WorkflowID == id })
	for _, e := range execs {
		_ = r.executions.Delete(ctx, e.ID)
	}
	return nil
}

func (r *MemoryRepository) AppendExecution(ctx context.Context, exec *promptflow.WorkflowExecution) error {
	if _, err := r.workflows.Get(ctx, exec.WorkflowID); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, exec.WorkflowID)
	}
	if err := r.executions.Insert(ctx, exec.Clone()); errors.Is(err, memstore.ErrExists) {
		return fmt.Errorf("execution %s already recorded", exec.ID)
	}
	return nil
}

func (r *MemoryRepository) ListExecutions(ctx context.Context, workflowID string) ([]promptflow.WorkflowExecution, error) {
	execs, err := r.executions.Filter(ctx, func(e *promptflow.WorkflowExecution) bool {
		return e.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}
	out := make([]promptflow.WorkflowExecution, len(execs))
	for i, e := range execs {
		out[i] = *e.Clone()
	}
	return out, nil
}
