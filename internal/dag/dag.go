// Package dag analyses the step graph formed by a workflow's conditions.
// Workflows may loop, so the graph is not required to be acyclic; cycles
// are reported rather than rejected.
package dag

import "github.com/soochol/promptflow/internal/promptflow"

// Edge is one possible transition between steps.
type Edge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	ConditionID string `json:"condition_id"`
	// OnTrue is false for the condition's false branch.
	OnTrue bool `json:"on_true"`
}

type DAG struct {
	entry     string
	order     []string
	nodes     map[string]*promptflow.WorkflowStep
	children  map[string][]string
	parents   map[string][]string
	edges     []Edge
	backEdges []Edge
}

// Build indexes wf, which must already be valid.
func Build(wf *promptflow.Workflow) *DAG {
	d := &DAG{
		nodes:    make(map[string]*promptflow.WorkflowStep, len(wf.Steps)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for i := range wf.Steps {
		s := &wf.Steps[i]
		d.nodes[s.ID] = s
		d.order = append(d.order, s.ID)
	}
	if e, ok := wf.EntryStep(); ok {
		d.entry = e.ID
	}

	for _, c := range wf.Conditions {
		d.addEdge(Edge{From: c.SourceStepID, To: c.TrueTargetStepID, ConditionID: c.ID, OnTrue: true})
		if c.FalseTargetStepID != nil {
			d.addEdge(Edge{From: c.SourceStepID, To: *c.FalseTargetStepID, ConditionID: c.ID})
		}
	}
	d.backEdges = d.findBackEdges()
	return d
}

func (d *DAG) addEdge(e Edge) {
	if _, ok := d.nodes[e.From]; !ok {
		return
	}
	if _, ok := d.nodes[e.To]; !ok {
		return
	}
	d.edges = append(d.edges, e)
	if !contains(d.children[e.From], e.To) {
		d.children[e.From] = append(d.children[e.From], e.To)
		d.parents[e.To] = append(d.parents[e.To], e.From)
	}
}

// findBackEdges runs a DFS from the entry, then from any unvisited step in
// declaration order, and returns the edges that close a cycle.
func (d *DAG) findBackEdges() []Edge {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(d.nodes))
	back := make(map[[2]string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		for _, c := range d.children[id] {
			switch color[c] {
			case white:
				visit(c)
			case grey:
				back[[2]string{id, c}] = true
			}
		}
		color[id] = black
	}
	if d.entry != "" {
		visit(d.entry)
	}
	for _, id := range d.order {
		if color[id] == white {
			visit(id)
		}
	}

	var out []Edge
	for _, e := range d.edges {
		if back[[2]string{e.From, e.To}] {
			out = append(out, e)
		}
	}
	return out
}

func (d *DAG) Entry() string                           { return d.entry }
func (d *DAG) Children(id string) []string             { return d.children[id] }
func (d *DAG) Parents(id string) []string              { return d.parents[id] }
func (d *DAG) Node(id string) *promptflow.WorkflowStep { return d.nodes[id] }
func (d *DAG) Edges() []Edge                           { return d.edges }
func (d *DAG) BackEdges() []Edge                       { return d.backEdges }
func (d *DAG) HasCycle() bool                          { return len(d.backEdges) > 0 }

// Reachable returns the steps reachable from the entry, in declaration
// order, entry included.
func (d *DAG) Reachable() []string {
	seen := make(map[string]bool, len(d.nodes))
	if d.entry != "" {
		queue := []string{d.entry}
		seen[d.entry] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, c := range d.children[id] {
				if !seen[c] {
					seen[c] = true
					queue = append(queue, c)
				}
			}
		}
	}
	var out []string
	for _, id := range d.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Unreachable returns the steps no run can ever execute.
func (d *DAG) Unreachable() []string {
	reach := d.Reachable()
	var out []string
	for _, id := range d.order {
		if !contains(reach, id) {
			out = append(out, id)
		}
	}
	return out
}

// Terminals returns the steps without outgoing conditions. A run that
// reaches one completes there.
func (d *DAG) Terminals() []string {
	var out []string
	for _, id := range d.order {
		if len(d.children[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Analysis summarises a workflow graph.
type Analysis struct {
	Entry       string   `json:"entry"`
	Reachable   []string `json:"reachable"`
	Unreachable []string `json:"unreachable"`
	Terminals   []string `json:"terminals"`
	BackEdges   []Edge   `json:"back_edges"`
	HasCycle    bool     `json:"has_cycle"`
}

// Analyze builds the graph of wf and summarises it.
func Analyze(wf *promptflow.Workflow) Analysis {
	d := Build(wf)
	a := Analysis{
		Entry:       d.Entry(),
		Reachable:   nonNil(d.Reachable()),
		Unreachable: nonNil(d.Unreachable()),
		Terminals:   nonNil(d.Terminals()),
		BackEdges:   d.BackEdges(),
		HasCycle:    d.HasCycle(),
	}
	if a.BackEdges == nil {
		a.BackEdges = []Edge{}
	}
	return a
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
