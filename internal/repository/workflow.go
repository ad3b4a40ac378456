// Package repository defines storage interfaces for workflows and their
// execution history.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/promptflow/internal/promptflow"
)

var (
	// ErrNotFound is returned when a requested workflow does not exist.
	ErrNotFound = errors.New("workflow not found")
	// ErrAlreadyExists is returned by Create for a duplicate workflow id.
	ErrAlreadyExists = errors.New("workflow already exists")
)

// WorkflowRepository abstracts workflow persistence so callers don't
// need to know whether storage is in-memory, PostgreSQL, or a mix.
//
// Workflows returned by Get carry their executions, oldest first. List
// omits executions. Executions are append-only: there is no way to change
// or remove one short of deleting its workflow.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *promptflow.Workflow) error
	Get(ctx context.Context, id string) (*promptflow.Workflow, error)
	List(ctx context.Context) ([]*promptflow.Workflow, error)
	Update(ctx context.Context, wf *promptflow.Workflow) error
	Delete(ctx context.Context, id string) error

	AppendExecution(ctx context.Context, exec *promptflow.WorkflowExecution) error
	ListExecutions(ctx context.Context, workflowID string) ([]promptflow.WorkflowExecution, error)
}
