// Package promptflow holds the domain types shared by the engine, services,
// repositories and the HTTP API.
package promptflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWorkflow is wrapped by every Workflow.Validate failure.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Position is a layout hint owned by the editor. The engine never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// WorkflowStep is one prompt-invocation node in the execution graph.
type WorkflowStep struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
	// OutputProcessor is an optional expression transforming the raw model
	// output before it is stored and passed forward.
	OutputProcessor string   `json:"output_processor,omitempty" yaml:"output_processor,omitempty"`
	Position        Position `json:"position" yaml:"position"`
}

// Condition is a directed edge selecting the next step from a step's output.
// A nil FalseTargetStepID halts the run when the expression is false.
type Condition struct {
	ID                string  `json:"id" yaml:"id"`
	SourceStepID      string  `json:"source_step_id" yaml:"source_step_id"`
	TrueTargetStepID  string  `json:"true_target_step_id" yaml:"true_target_step_id"`
	FalseTargetStepID *string `json:"false_target_step_id" yaml:"false_target_step_id"`
	Expression        string  `json:"expression" yaml:"expression"`
	Description       string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// ModelParams overrides the default generation parameters for a workflow.
type ModelParams struct {
	Model           string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature     float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxOutputTokens int32   `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	TopP            float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK            float32 `json:"top_k,omitempty" yaml:"top_k,omitempty"`
}

// Workflow is a possibly cyclic graph of steps connected by conditions.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	EntryStepID string         `json:"entry_step_id,omitempty" yaml:"entry_step_id,omitempty"`
	Steps       []WorkflowStep `json:"steps" yaml:"steps"`
	Conditions  []Condition    `json:"conditions" yaml:"conditions"`
	Model       *ModelParams   `json:"model,omitempty" yaml:"model,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	// Executions is append-only.
	Executions []WorkflowExecution `json:"executions" yaml:"executions,omitempty"`
}

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// EntryStep returns the explicitly marked entry step, or the first step in
// definition order.
func (w *Workflow) EntryStep() (*WorkflowStep, bool) {
	if w.EntryStepID != "" {
		return w.Step(w.EntryStepID)
	}
	if len(w.Steps) == 0 {
		return nil, false
	}
	return &w.Steps[0], true
}

// Outgoing returns the conditions whose source is stepID, in definition order.
func (w *Workflow) Outgoing(stepID string) []Condition {
	var out []Condition
	for _, c := range w.Conditions {
		if c.SourceStepID == stepID {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the structural invariants of the graph.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}
	ids := make(map[string]struct{}, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidWorkflow, i)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidWorkflow, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	if w.EntryStepID != "" {
		if _, ok := ids[w.EntryStepID]; !ok {
			return fmt.Errorf("%w: entry step %q not found", ErrInvalidWorkflow, w.EntryStepID)
		}
	}
	for _, c := range w.Conditions {
		if _, ok := ids[c.SourceStepID]; !ok {
			return fmt.Errorf("%w: condition %q references unknown source step %q", ErrInvalidWorkflow, c.ID, c.SourceStepID)
		}
		if _, ok := ids[c.TrueTargetStepID]; !ok {
			return fmt.Errorf("%w: condition %q references unknown true target %q", ErrInvalidWorkflow, c.ID, c.TrueTargetStepID)
		}
		if c.FalseTargetStepID != nil {
			if _, ok := ids[*c.FalseTargetStepID]; !ok {
				return fmt.Errorf("%w: condition %q references unknown false target %q", ErrInvalidWorkflow, c.ID, *c.FalseTargetStepID)
			}
		}
		if c.Expression == "" {
			return fmt.Errorf("%w: condition %q has an empty expression", ErrInvalidWorkflow, c.ID)
		}
	}
	return nil
}

// StepID returns a pointer to id, for building Condition false targets.
func StepID(id string) *string { return &id }

// Clone returns a deep copy of w, so stored workflows never alias caller
// memory.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Steps = append([]WorkflowStep(nil), w.Steps...)
	c.Conditions = make([]Condition, len(w.Conditions))
	for i, cond := range w.Conditions {
		if cond.FalseTargetStepID != nil {
			cond.FalseTargetStepID = StepID(*cond.FalseTargetStepID)
		}
		c.Conditions[i] = cond
	}
	if w.Model != nil {
		m := *w.Model
		c.Model = &m
	}
	c.Executions = make([]WorkflowExecution, len(w.Executions))
	for i := range w.Executions {
		c.Executions[i] = *w.Executions[i].Clone()
	}
	return &c
}
