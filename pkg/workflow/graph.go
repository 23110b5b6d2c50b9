// Package workflow implements the dependency-graph executor: task status
// machine, parent-output collection through edge mapping/selection, retry
// and breakpoint policy, and resumption from persisted state.
//
// The source platform modeled nodes and edges as classes an ORM library
// built at lookup time for typed views. That is replaced here with a
// tagged-variant Node struct plus a TaskRunner dispatch table keyed by
// task_type, and the background executor is a single goroutine draining
// kernel.InMemoryScheduler, a deterministic single-consumer queue, so task
// activation and completion events are processed in one strict,
// reproducible order and every task status change is made on that
// goroutine.
package workflow

import (
	"fmt"
	"time"
)

// Status is a task's position in the ready -> running -> {completed,
// failed, aborted} state machine, plus the out-of-band disabled status.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusDisabled  Status = "disabled"
)

// terminal reports whether s ends the task's participation in scheduling.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusDisabled:
		return true
	default:
		return false
	}
}

// SessionMeta is the per-node bookkeeping the source platform attached to
// a task's RPC session.
type SessionMeta struct {
	AuthID string    `json:"authid,omitempty"`
	TaskID string    `json:"task_id,omitempty"`
	Status string    `json:"status,omitempty"`
	ITime  time.Time `json:"itime,omitempty"`
	UTime  time.Time `json:"utime,omitempty"`
}

// Node is one task vertex. TaskType selects the TaskRunner that executes
// it; CustomFunc, when set, is passed through to that runner as an extra
// dispatch key (e.g. "docking.autodock_vina") without the engine itself
// needing to know what it means.
type Node struct {
	NID             string         `json:"nid"`
	TaskName        string         `json:"task_name"`
	TaskType        string         `json:"task_type"`
	Status          Status         `json:"status"`
	Active          bool           `json:"active"`
	RetryCount      int            `json:"retry_count"`
	ContinueWithOne bool           `json:"continue_with_one,omitempty"`
	Breakpoint      bool           `json:"breakpoint"`
	StoreOutput     bool           `json:"store_output"`
	Workdir         string         `json:"workdir,omitempty"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	Session         SessionMeta    `json:"session"`
	CustomFunc      string         `json:"custom_func,omitempty"`
}

// Edge governs how a parent's output becomes a child's input: DataSelect
// projects keys (all, if empty), DataMapping renames them.
type Edge struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	DataMapping map[string]string `json:"data_mapping,omitempty"`
	DataSelect  []string          `json:"data_select,omitempty"`
}

// Graph is the whole persisted, resumable workflow state: a single root
// of type Start plus every task reachable from it.
type Graph struct {
	RunID   string           `json:"run_id"`
	Root    string           `json:"root"`
	Workdir string           `json:"workdir,omitempty"`
	Nodes   map[string]*Node `json:"nodes"`
	Edges   []Edge           `json:"edges"`
}

// NewGraph returns an empty graph rooted at a synthetic Start node.
func NewGraph(runID string) *Graph {
	root := &Node{NID: "root", TaskName: "root", TaskType: "Start", Status: StatusCompleted}
	return &Graph{RunID: runID, Root: root.NID, Nodes: map[string]*Node{root.NID: root}}
}

// AddNode inserts n, which must have a unique NID.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.Nodes[n.NID]; exists {
		return fmt.Errorf("workflow: duplicate node id %q", n.NID)
	}
	if n.Status == "" {
		n.Status = StatusReady
	}
	g.Nodes[n.NID] = n
	return nil
}

// AddEdge records a parent->child edge. Both ends must already exist.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.Nodes[e.From]; !ok {
		return fmt.Errorf("workflow: edge references unknown parent %q", e.From)
	}
	if _, ok := g.Nodes[e.To]; !ok {
		return fmt.Errorf("workflow: edge references unknown child %q", e.To)
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// Parents returns the node ids with an edge into nid.
func (g *Graph) Parents(nid string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == nid {
			out = append(out, e.From)
		}
	}
	return out
}

// Children returns the node ids with an edge out of nid.
func (g *Graph) Children(nid string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == nid {
			out = append(out, e.To)
		}
	}
	return out
}

// edge returns the edge from parent to child, if any.
func (g *Graph) edge(from, to string) *Edge {
	for i := range g.Edges {
		if g.Edges[i].From == from && g.Edges[i].To == to {
			return &g.Edges[i]
		}
	}
	return nil
}

// IsRunning reports whether any node is currently active.
func (g *Graph) IsRunning() bool {
	for _, n := range g.Nodes {
		if n.Active {
			return true
		}
	}
	return false
}

// readyNodes returns every node whose own status is ready and whose
// parent-readiness condition (per ContinueWithOne) is satisfied.
func (g *Graph) readyNodes() []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Status != StatusReady || n.Active {
			continue
		}
		if g.parentsSatisfied(n) {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) parentsSatisfied(n *Node) bool {
	parents := g.Parents(n.NID)
	if len(parents) == 0 {
		return true
	}
	if n.ContinueWithOne {
		for _, p := range parents {
			if s := g.Nodes[p].Status; s == StatusCompleted || s == StatusDisabled {
				return true
			}
		}
		return false
	}
	for _, p := range parents {
		s := g.Nodes[p].Status
		if s != StatusCompleted && s != StatusDisabled {
			return false
		}
	}
	return true
}

// anyPending reports whether some non-terminal, non-active node could
// still become ready in the future (used to detect genuine deadlock vs.
// a workflow that has simply finished).
func (g *Graph) anyPending() bool {
	for _, n := range g.Nodes {
		if !n.Status.terminal() {
			return true
		}
	}
	return false
}

// collectInput merges the output of every qualifying parent of nid,
// projected by each edge's DataSelect and renamed by its DataMapping.
// Later parents (in Graph.Edges order) win on key collision. Returns
// ok=false when no qualifying parent has output yet, signalling the
// caller to defer rather than dispatch with a partial input.
func (g *Graph) collectInput(nid string) (map[string]any, bool) {
	n := g.Nodes[nid]
	parents := g.Parents(nid)
	if len(parents) == 0 {
		return map[string]any{}, true
	}

	merged := map[string]any{}
	sawParent := false
	for _, pid := range parents {
		p := g.Nodes[pid]
		if p.Status != StatusCompleted && p.Status != StatusDisabled {
			if !n.ContinueWithOne {
				return nil, false
			}
			continue
		}
		e := g.edge(pid, nid)
		for k, v := range projectOutput(p.OutputData, e) {
			merged[k] = v
		}
		sawParent = true
	}
	if !sawParent {
		return nil, false
	}
	return merged, true
}

func projectOutput(output map[string]any, e *Edge) map[string]any {
	out := map[string]any{}
	if len(output) == 0 {
		return out
	}

	selected := output
	if e != nil && len(e.DataSelect) > 0 {
		selected = map[string]any{}
		for _, k := range e.DataSelect {
			if v, ok := output[k]; ok {
				selected[k] = v
			}
		}
	}

	for k, v := range selected {
		dst := k
		if e != nil {
			if renamed, ok := e.DataMapping[k]; ok {
				dst = renamed
			}
		}
		out[dst] = v
	}
	return out
}
