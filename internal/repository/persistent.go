package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soochol/promptflow/internal/db"
	"github.com/soochol/promptflow/internal/promptflow"
)

// WorkflowDB is the subset of *db.DB the persistent repository needs.
type WorkflowDB interface {
	CreateWorkflow(ctx context.Context, wf *promptflow.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*promptflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*promptflow.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *promptflow.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	InsertExecution(ctx context.Context, e *promptflow.WorkflowExecution) error
	ListExecutions(ctx context.Context, workflowID string) ([]promptflow.WorkflowExecution, error)
}

// PersistentRepository wraps a MemoryRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentRepository struct {
	mem *MemoryRepository
	db  WorkflowDB
}

// NewPersistent creates a repository backed by both memory and PostgreSQL.
func NewPersistent(mem *MemoryRepository, database WorkflowDB) *PersistentRepository {
	return &PersistentRepository{mem: mem, db: database}
}

func (r *PersistentRepository) Create(ctx context.Context, wf *promptflow.Workflow) error {
	if err := r.mem.Create(ctx, wf); err != nil {
		return err
	}
	if err := r.db.CreateWorkflow(ctx, wf); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			_ = r.mem.Delete(ctx, wf.ID)
			return fmt.Errorf("%w: %s", ErrAlreadyExists, wf.ID)
		}
		slog.Warn("db create workflow failed, in-memory only", "workflow_id", wf.ID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) Get(ctx context.Context, id string) (*promptflow.Workflow, error) {
	// Fast path: in-memory.
	wf, err := r.mem.Get(ctx, id)
	if err == nil {
		return wf, nil
	}

	// Fallback: database.
	row, dbErr := r.db.GetWorkflow(ctx, id)
	if dbErr != nil {
		if !errors.Is(dbErr, db.ErrNotFound) {
			slog.Warn("db get workflow failed", "workflow_id", id, "err", dbErr)
		}
		return nil, err // return original ErrNotFound
	}
	execs, dbErr := r.db.ListExecutions(ctx, id)
	if dbErr != nil {
		slog.Warn("db list executions failed", "workflow_id", id, "err", dbErr)
	}
	row.Executions = execs

	// Cache in memory for future lookups.
	r.mem.seed(ctx, row)
	return r.mem.Get(ctx, id)
}

func (r *PersistentRepository) List(ctx context.Context) ([]*promptflow.Workflow, error) {
	// Prefer DB for durable listing.
	rows, err := r.db.ListWorkflows(ctx)
	if err == nil {
		return rows, nil
	}
	slog.Warn("db list workflows failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentRepository) Update(ctx context.Context, wf *promptflow.Workflow) error {
	memErr := r.mem.Update(ctx, wf)
	dbErr := r.db.UpdateWorkflow(ctx, wf)
	switch {
	case dbErr == nil:
		if memErr != nil {
			r.mem.seed(ctx, wf)
		}
		return nil
	case memErr != nil:
		return memErr
	default:
		slog.Warn("db update workflow failed, in-memory only", "workflow_id", wf.ID, "err", dbErr)
		return nil
	}
}

func (r *PersistentRepository) Delete(ctx context.Context, id string) error {
	memErr := r.mem.Delete(ctx, id)
	dbErr := r.db.DeleteWorkflow(ctx, id)
	if dbErr != nil && !errors.Is(dbErr, db.ErrNotFound) {
		slog.Warn("db delete workflow failed", "workflow_id", id, "err", dbErr)
	}
	if memErr != nil && dbErr != nil {
		return memErr
	}
	return nil
}

func (r *PersistentRepository) AppendExecution(ctx context.Context, exec *promptflow.WorkflowExecution) error {
	// Make sure the workflow is cached before appending to it.
	if _, err := r.Get(ctx, exec.WorkflowID); err != nil {
		return err
	}
	if err := r.mem.AppendExecution(ctx, exec); err != nil {
		return err
	}
	if err := r.db.InsertExecution(ctx, exec); err != nil {
		slog.Warn("db insert execution failed, in-memory only", "execution_id", exec.ID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) ListExecutions(ctx context.Context, workflowID string) ([]promptflow.WorkflowExecution, error) {
	execs, err := r.db.ListExecutions(ctx, workflowID)
	if err == nil && len(execs) > 0 {
		return execs, nil
	}
	if err != nil {
		slog.Warn("db list executions failed, falling back to in-memory", "workflow_id", workflowID, "err", err)
	}
	return r.mem.ListExecutions(ctx, workflowID)
}
