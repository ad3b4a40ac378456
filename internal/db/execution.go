package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/promptflow/internal/promptflow"
)

// InsertExecution appends an execution record. Rows are never updated.
func (d *DB) InsertExecution(ctx context.Context, e *promptflow.WorkflowExecution) error {
	steps := e.Steps
	if steps == nil {
		steps = []promptflow.ExecutionStep{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	var completedAt any // SQL NULL while unset
	if e.CompletedAt != nil {
		completedAt = *e.CompletedAt
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, status, error, steps, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.WorkflowID, string(e.Status), e.Error, stepsJSON, e.CreatedAt, completedAt,
	)
	if err != nil {
		return mapError("insert execution", err)
	}
	return nil
}

// ListExecutions returns a workflow's executions, oldest first.
func (d *DB) ListExecutions(ctx context.Context, workflowID string) ([]promptflow.WorkflowExecution, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, workflow_id, status, error, steps, created_at, completed_at
		 FROM workflow_executions WHERE workflow_id = $1
		 ORDER BY created_at ASC, id ASC`, workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	result := []promptflow.WorkflowExecution{}
	for rows.Next() {
		var (
			e           promptflow.WorkflowExecution
			status      string
			stepsJSON   []byte
			completedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &status, &e.Error, &stepsJSON, &e.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Status = promptflow.ExecutionStatus(status)
		if err := json.Unmarshal(stepsJSON, &e.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			e.CompletedAt = &t
		}
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return result, nil
}
