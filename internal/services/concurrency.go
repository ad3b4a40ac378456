package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// RunLimits caps how many workflow runs may be in flight.
type RunLimits struct {
	GlobalMax   int `yaml:"global_max" json:"global_max"`
	PerWorkflow int `yaml:"per_workflow" json:"per_workflow"`
}

// DefaultRunLimits returns the limits used when none are configured.
func DefaultRunLimits() RunLimits {
	return RunLimits{GlobalMax: 10, PerWorkflow: 3}
}

// RunLimiter controls how many workflows can execute simultaneously.
// It uses channel-based counting semaphores at two levels: global and per-workflow.
type RunLimiter struct {
	global      chan struct{}
	perWorkflow map[string]chan struct{}
	mu          sync.Mutex
	limits      RunLimits
	active      atomic.Int64
}

// NewRunLimiter creates a limiter; non-positive limits take the defaults.
func NewRunLimiter(limits RunLimits) *RunLimiter {
	def := DefaultRunLimits()
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = def.GlobalMax
	}
	if limits.PerWorkflow <= 0 {
		limits.PerWorkflow = def.PerWorkflow
	}
	return &RunLimiter{
		global:      make(chan struct{}, limits.GlobalMax),
		perWorkflow: make(map[string]chan struct{}),
		limits:      limits,
	}
}

// Acquire blocks until both a global and a per-workflow slot are free, or
// ctx is done.
func (l *RunLimiter) Acquire(ctx context.Context, workflowID string) error {
	select {
	case l.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wfCh := l.workflowSlots(workflowID)
	select {
	case wfCh <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		<-l.global
		return ctx.Err()
	}
}

// Release returns the slots taken by a successful Acquire.
func (l *RunLimiter) Release(workflowID string) {
	l.active.Add(-1)

	l.mu.Lock()
	if ch, ok := l.perWorkflow[workflowID]; ok {
		select {
		case <-ch:
		default:
		}
	}
	l.mu.Unlock()

	select {
	case <-l.global:
	default:
	}
}

// RunStats reports current usage.
type RunStats struct {
	ActiveRuns  int `json:"active_runs"`
	GlobalMax   int `json:"global_max"`
	PerWorkflow int `json:"per_workflow"`
}

func (l *RunLimiter) Stats() RunStats {
	return RunStats{
		ActiveRuns:  int(l.active.Load()),
		GlobalMax:   l.limits.GlobalMax,
		PerWorkflow: l.limits.PerWorkflow,
	}
}

func (l *RunLimiter) workflowSlots(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.perWorkflow[id]
	if !ok {
		ch = make(chan struct{}, l.limits.PerWorkflow)
		l.perWorkflow[id] = ch
	}
	return ch
}
