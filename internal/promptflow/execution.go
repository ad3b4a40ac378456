package promptflow

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus describes how a workflow run ended.
type ExecutionStatus string

const (
	ExecutionRunning        ExecutionStatus = "running"
	ExecutionCompleted      ExecutionStatus = "completed"
	ExecutionFailed         ExecutionStatus = "failed"
	ExecutionBudgetExceeded ExecutionStatus = "budget_exceeded"
	ExecutionCancelled      ExecutionStatus = "cancelled"
)

// ExecutionStep records one visited step.
type ExecutionStep struct {
	StepID     string    `json:"step_id"`
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	ExecutedAt time.Time `json:"executed_at"`
	Success    bool      `json:"success"`
	// Error carries a failure that did not necessarily fail the step, such
	// as an output processor error under the continue policy.
	Error string `json:"error,omitempty"`
}

// WorkflowExecution is the ordered trace of one run. It is append-only while
// the run is in progress and immutable once it completes.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	Steps       []ExecutionStep `json:"steps"`
}

// Succeeded reports whether the run completed without a failure marker.
func (e *WorkflowExecution) Succeeded() bool {
	return e.Status == ExecutionCompleted
}

// LastOutput returns the output of the last recorded step.
func (e *WorkflowExecution) LastOutput() string {
	if len(e.Steps) == 0 {
		return ""
	}
	return e.Steps[len(e.Steps)-1].Output
}

// GenerateID returns a unique id with the given prefix, e.g. "wf-<uuid>".
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

// Clone returns a deep copy of e.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	c := *e
	c.Steps = append([]ExecutionStep(nil), e.Steps...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
