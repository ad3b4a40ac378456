// Package engine runs workflows: it walks the step graph one step at a time,
// invoking the model for each step and following conditions to the next.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/promptflow/internal/condition"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/promptflow"
)

// ErrCycleBudgetExceeded marks a run stopped by the step budget.
var ErrCycleBudgetExceeded = errors.New("cycle budget exceeded")

// DefaultStepBudgetFactor bounds a run to len(steps)*factor visited steps
// unless Options.MaxSteps is set.
const DefaultStepBudgetFactor = 50

// Invoker turns a rendered prompt into model output. *model.Client
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, params model.Params) (string, error)
}

// Options tune a run.
type Options struct {
	MaxSteps             int  `yaml:"max_steps"`
	StepBudgetFactor     int  `yaml:"step_budget_factor"`
	HaltOnProcessorError bool `yaml:"halt_on_processor_error"`
}

// Executor runs workflows against an Invoker. It is safe for concurrent use;
// each Execute call is one sequential run.
type Executor struct {
	invoker  Invoker
	eval     *condition.Evaluator
	opts     Options
	defaults model.Params
	events   *EventBus
	now      func() time.Time
}

type ExecutorOption func(*Executor)

func WithOptions(o Options) ExecutorOption {
	return func(x *Executor) { x.opts = o }
}

// WithEventBus publishes run progress to bus.
func WithEventBus(bus *EventBus) ExecutorOption {
	return func(x *Executor) { x.events = bus }
}

// WithDefaultParams sets the generation parameters used when a workflow
// does not override them.
func WithDefaultParams(p model.Params) ExecutorOption {
	return func(x *Executor) { x.defaults = p }
}

func NewExecutor(invoker Invoker, opts ...ExecutorOption) *Executor {
	x := &Executor{
		invoker:  invoker,
		eval:     condition.NewEvaluator(),
		defaults: model.DefaultParams(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Execute runs wf from its entry step. It returns an error only when the run
// cannot start; every started run returns its execution trace, whatever its
// final status.
func (x *Executor) Execute(ctx context.Context, wf *promptflow.Workflow, vars map[string]any) (*promptflow.WorkflowExecution, error) {
	if x.invoker == nil {
		return nil, errors.New("engine: no invoker configured")
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: nil workflow", promptflow.ErrInvalidWorkflow)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	execID := executionIDFrom(ctx)
	if execID == "" {
		execID = promptflow.GenerateID("exec")
	}
	r := &run{
		x:       x,
		wf:      wf,
		vars:    vars,
		outputs: make(map[string]string, len(wf.Steps)),
		params:  x.params(wf),
		exec: &promptflow.WorkflowExecution{
			ID:         execID,
			WorkflowID: wf.ID,
			Status:     promptflow.ExecutionRunning,
			Steps:      []promptflow.ExecutionStep{},
		},
	}
	r.exec.CreatedAt = r.tick()
	r.log = slog.With("workflow_id", wf.ID, "execution_id", r.exec.ID)

	ctx = model.WithLogFunc(ctx, func(msg string) {
		r.publish(EventModelLog, r.current, msg)
	})
	r.publish(EventRunStarted, "", nil)
	r.loop(ctx)
	return r.exec, nil
}

func (x *Executor) budget(wf *promptflow.Workflow) int {
	if x.opts.MaxSteps > 0 {
		return x.opts.MaxSteps
	}
	factor := x.opts.StepBudgetFactor
	if factor <= 0 {
		factor = DefaultStepBudgetFactor
	}
	return len(wf.Steps) * factor
}

func (x *Executor) params(wf *promptflow.Workflow) model.Params {
	p := x.defaults
	if m := wf.Model; m != nil {
		if m.Model != "" {
			p.Model = m.Model
		}
		if m.Temperature != 0 {
			p.Temperature = m.Temperature
		}
		if m.MaxOutputTokens != 0 {
			p.MaxOutputTokens = m.MaxOutputTokens
		}
		if m.TopP != 0 {
			p.TopP = m.TopP
		}
		if m.TopK != 0 {
			p.TopK = m.TopK
		}
	}
	return p
}

// run is the mutable state of one Execute call.
type run struct {
	x       *Executor
	wf      *promptflow.Workflow
	vars    map[string]any
	outputs map[string]string
	params  model.Params
	exec    *promptflow.WorkflowExecution
	log     *slog.Logger
	last    time.Time
	current string
}

func (r *run) loop(ctx context.Context) {
	budget := r.x.budget(r.wf)
	step, _ := r.wf.EntryStep()
	previous := ""

	for step != nil {
		if err := ctx.Err(); err != nil {
			r.finish(promptflow.ExecutionCancelled, err.Error())
			return
		}
		if len(r.exec.Steps) >= budget {
			r.finish(promptflow.ExecutionBudgetExceeded,
				fmt.Sprintf("%s: stopped after %d steps", ErrCycleBudgetExceeded, budget))
			return
		}

		r.current = step.ID
		rec, halt := r.runStep(ctx, step, previous)
		r.exec.Steps = append(r.exec.Steps, rec)
		if halt != nil {
			r.finish(halt.status, halt.message)
			return
		}

		r.outputs[step.ID] = rec.Output
		previous = rec.Output
		step = r.next(step.ID, rec.Output)
	}
	r.finish(promptflow.ExecutionCompleted, "")
}

type haltReason struct {
	status  promptflow.ExecutionStatus
	message string
}

func (r *run) runStep(ctx context.Context, step *promptflow.WorkflowStep, previous string) (promptflow.ExecutionStep, *haltReason) {
	input := promptflow.RenderPrompt(step.PromptTemplate, r.renderVars(previous))
	r.publish(EventStepStarted, step.ID, map[string]any{"input": input})
	r.log.Debug("running step", "step_id", step.ID)

	raw, err := r.x.invoker.Invoke(ctx, input, r.params)
	rec := promptflow.ExecutionStep{
		StepID:     step.ID,
		Input:      input,
		ExecutedAt: r.tick(),
	}
	if err != nil {
		rec.Output = err.Error()
		rec.Error = err.Error()
		r.publish(EventStepFailed, step.ID, map[string]any{"error": err.Error()})
		r.log.Warn("step invocation failed", "step_id", step.ID, "err", err)
		status := promptflow.ExecutionFailed
		if ctx.Err() != nil {
			status = promptflow.ExecutionCancelled
		}
		return rec, &haltReason{status, fmt.Sprintf("step %q: %v", step.ID, err)}
	}

	rec.Output = raw
	rec.Success = true
	if step.OutputProcessor != "" {
		processed, perr := r.process(step.OutputProcessor, raw)
		if perr != nil {
			rec.Error = perr.Error()
			r.log.Warn("output processor failed", "step_id", step.ID, "err", perr)
			if r.x.opts.HaltOnProcessorError {
				rec.Success = false
				r.publish(EventStepFailed, step.ID, map[string]any{"error": perr.Error()})
				return rec, &haltReason{promptflow.ExecutionFailed, fmt.Sprintf("step %q output processor: %v", step.ID, perr)}
			}
		} else {
			rec.Output = processed
		}
	}
	r.publish(EventStepCompleted, step.ID, map[string]any{"output": rec.Output})
	return rec, nil
}

func (r *run) process(expression, raw string) (string, error) {
	v, err := r.x.eval.Evaluate(expression, r.conditionContext(raw))
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// next picks the step after stepID: the true target of the first condition
// that holds, else the first condition's false target. Nil ends the run.
func (r *run) next(stepID, output string) *promptflow.WorkflowStep {
	conds := r.wf.Outgoing(stepID)
	if len(conds) == 0 {
		return nil
	}
	cc := r.conditionContext(output)
	for _, c := range conds {
		if r.x.eval.EvaluateBoolean(c.Expression, cc) {
			s, _ := r.wf.Step(c.TrueTargetStepID)
			return s
		}
	}
	if fallback := conds[0].FalseTargetStepID; fallback != nil {
		s, _ := r.wf.Step(*fallback)
		return s
	}
	return nil
}

func (r *run) renderVars(previous string) map[string]any {
	vars := make(map[string]any, len(r.vars)+len(r.outputs)+1)
	for k, v := range r.vars {
		vars[k] = v
	}
	for k, v := range r.outputs {
		vars[k] = v
	}
	vars["previous_output"] = previous
	return vars
}

func (r *run) conditionContext(output string) condition.Context {
	return condition.Context{Output: output, Variables: r.vars, Steps: r.outputs}
}

func (r *run) finish(status promptflow.ExecutionStatus, msg string) {
	done := r.tick()
	r.exec.Status = status
	r.exec.Error = msg
	r.exec.CompletedAt = &done
	r.current = ""
	r.publish(EventRunFinished, "", map[string]any{"status": string(status), "steps": len(r.exec.Steps)})
	r.log.Info("workflow run finished", "status", status, "steps", len(r.exec.Steps))
}

// tick returns the current UTC time, never earlier than the last tick.
func (r *run) tick() time.Time {
	now := r.x.now().UTC()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

func (r *run) publish(t EventType, stepID string, payload any) {
	r.x.events.Publish(Event{
		Type:        t,
		WorkflowID:  r.wf.ID,
		ExecutionID: r.exec.ID,
		StepID:      stepID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// stringify renders a processor result as step output. Strings pass through;
// everything else is JSON encoded.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
