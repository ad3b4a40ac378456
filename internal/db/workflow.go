package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soochol/promptflow/internal/promptflow"
)

// definitionJSON encodes wf without its executions, which have their own
// table.
func definitionJSON(wf *promptflow.Workflow) ([]byte, error) {
	def := *wf
	def.Executions = nil
	b, err := json.Marshal(&def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	return b, nil
}

func decodeDefinition(b []byte) (*promptflow.Workflow, error) {
	var wf promptflow.Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	wf.Executions = nil
	return &wf, nil
}

// CreateWorkflow stores a new workflow.
func (d *DB) CreateWorkflow(ctx context.Context, wf *promptflow.Workflow) error {
	defJSON, err := definitionJSON(wf)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (id, name, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		wf.ID, wf.Name, defJSON, wf.CreatedAt, now,
	)
	if err != nil {
		return mapError("insert workflow", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow definition by ID, without executions.
func (d *DB) GetWorkflow(ctx context.Context, id string) (*promptflow.Workflow, error) {
	var defJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = $1`, id,
	).Scan(&defJSON)
	if err != nil {
		return nil, mapError("get workflow "+id, err)
	}
	return decodeDefinition(defJSON)
}

// ListWorkflows returns all workflow definitions, oldest first.
func (d *DB) ListWorkflows(ctx context.Context) ([]*promptflow.Workflow, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT definition FROM workflows ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []*promptflow.Workflow
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf, err := decodeDefinition(defJSON)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return result, nil
}

// UpdateWorkflow replaces a workflow definition.
func (d *DB) UpdateWorkflow(ctx context.Context, wf *promptflow.Workflow) error {
	defJSON, err := definitionJSON(wf)
	if err != nil {
		return err
	}
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE workflows SET name = $1, definition = $2, updated_at = NOW() WHERE id = $3`,
		wf.Name, defJSON, wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update workflow %s: %w", wf.ID, ErrNotFound)
	}
	return nil
}

// DeleteWorkflow removes a workflow and, by cascade, its executions.
func (d *DB) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete workflow %s: %w", id, ErrNotFound)
	}
	return nil
}
