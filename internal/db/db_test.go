package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/promptflow/internal/promptflow"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		pool.Close()
	})
	return NewFromPool(pool), mock
}

func testWorkflow() *promptflow.Workflow {
	return &promptflow.Workflow{
		ID:   "wf-1",
		Name: "Demo",
		Steps: []promptflow.WorkflowStep{
			{ID: "a", Name: "Draft", PromptTemplate: "Write about {{topic}}"},
		},
		CreatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Executions: []promptflow.WorkflowExecution{{ID: "exec-ignored"}},
	}
}

func TestMigrate(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS workflows`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, d.Migrate(context.Background()))
}

func TestCreateWorkflow(t *testing.T) {
	d, mock := newMockDB(t)
	wf := testWorkflow()
	mock.ExpectExec(`INSERT INTO workflows`).
		WithArgs("wf-1", "Demo", sqlmock.AnyArg(), wf.CreatedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.CreateWorkflow(context.Background(), wf))
}

func TestCreateWorkflow_Duplicate(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO workflows`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "workflows_pkey"})

	err := d.CreateWorkflow(context.Background(), testWorkflow())
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDefinitionJSON_OmitsExecutions(t *testing.T) {
	b, err := definitionJSON(testWorkflow())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Nil(t, m["executions"])
}

func TestGetWorkflow(t *testing.T) {
	d, mock := newMockDB(t)
	def, err := definitionJSON(testWorkflow())
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT definition FROM workflows WHERE id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow(def))

	wf, err := d.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", wf.Name)
	assert.Len(t, wf.Steps, 1)
	assert.Empty(t, wf.Executions)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT definition FROM workflows`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}))

	_, err := d.GetWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWorkflows(t *testing.T) {
	d, mock := newMockDB(t)
	a, _ := definitionJSON(&promptflow.Workflow{ID: "wf-a", Name: "A"})
	b, _ := definitionJSON(&promptflow.Workflow{ID: "wf-b", Name: "B"})
	mock.ExpectQuery(`SELECT definition FROM workflows ORDER BY created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow(a).AddRow(b))

	list, err := d.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wf-a", list[0].ID)
	assert.Equal(t, "wf-b", list[1].ID)
}

func TestUpdateWorkflow(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE workflows SET`).
		WithArgs("Demo", sqlmock.AnyArg(), "wf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, d.UpdateWorkflow(context.Background(), testWorkflow()))

	mock.ExpectExec(`UPDATE workflows SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	err := d.UpdateWorkflow(context.Background(), testWorkflow())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteWorkflow(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec(`DELETE FROM workflows WHERE id = \$1`).
		WithArgs("wf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, d.DeleteWorkflow(context.Background(), "wf-1"))

	mock.ExpectExec(`DELETE FROM workflows`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, d.DeleteWorkflow(context.Background(), "wf-1"), ErrNotFound)
}

func TestInsertExecution(t *testing.T) {
	d, mock := newMockDB(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exec := &promptflow.WorkflowExecution{
		ID: "exec-1", WorkflowID: "wf-1", CreatedAt: created,
		Status: promptflow.ExecutionRunning,
	}
	mock.ExpectExec(`INSERT INTO workflow_executions`).
		WithArgs("exec-1", "wf-1", "running", "", []byte("[]"), created, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.InsertExecution(context.Background(), exec))
}

func TestInsertExecution_Error(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO workflow_executions`).WillReturnError(errors.New("connection refused"))
	err := d.InsertExecution(context.Background(), &promptflow.WorkflowExecution{ID: "exec-1"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestListExecutions(t *testing.T) {
	d, mock := newMockDB(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	steps, _ := json.Marshal([]promptflow.ExecutionStep{{StepID: "a", Output: "hi", Success: true, ExecutedAt: created}})
	mock.ExpectQuery(`SELECT id, workflow_id, status, error, steps, created_at, completed_at\s+FROM workflow_executions`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "status", "error", "steps", "created_at", "completed_at"}).
			AddRow("exec-1", "wf-1", "completed", "", steps, created, done).
			AddRow("exec-2", "wf-1", "running", "", []byte("[]"), created.Add(time.Hour), nil))

	execs, err := d.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, promptflow.ExecutionCompleted, execs[0].Status)
	require.NotNil(t, execs[0].CompletedAt)
	assert.True(t, execs[0].CompletedAt.Equal(done))
	require.Len(t, execs[0].Steps, 1)
	assert.Equal(t, "hi", execs[0].Steps[0].Output)
	assert.Nil(t, execs[1].CompletedAt)
	assert.Empty(t, execs[1].Steps)
}
