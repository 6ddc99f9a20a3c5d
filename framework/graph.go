package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeType enumerates supported node categories.
type NodeType string

const (
	NodeTypeRouter   NodeType = "router"
	NodeTypeExecutor NodeType = "executor"
	NodeTypeAnswer   NodeType = "answer"
	NodeTypeTerminal NodeType = "terminal"
	NodeTypeSystem   NodeType = "system"
)

// Result is what a node reports back to the graph after executing.
type Result struct {
	NodeID  string                 `json:"node_id"`
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   error                  `json:"-"`
}

// Node describes the unit of work executed inside a graph.
type Node interface {
	ID() string
	Type() NodeType
	Execute(ctx context.Context, state *TurnState) (*Result, error)
}

// ConditionFunc determines whether an edge should be followed.
type ConditionFunc func(result *Result, state *TurnState) bool

// Edge describes a transition between nodes.
type Edge struct {
	From      string
	To        string
	Condition ConditionFunc
}

// Graph is a tiny deterministic state machine: nodes are registered ahead of
// time, edges describe transitions, and Execute walks the graph while
// recording telemetry and bounding node visits. The definition is immutable
// once built so a single graph can drive many turns concurrently; all
// per-execution bookkeeping lives in a run.
type Graph struct {
	mu                 sync.RWMutex
	nodes              map[string]Node
	edges              map[string][]Edge
	startNodeID        string
	maxNodeVisits      int
	telemetry          Telemetry
	checkpointInterval int
	checkpointCallback CheckpointCallback
}

// CheckpointCallback receives checkpoints generated during execution.
type CheckpointCallback func(checkpoint *GraphCheckpoint) error

// run holds the mutable state of one execution.
type run struct {
	visitCounts   map[string]int
	executionPath []string
	// checkpointedAt is the path length when the last checkpoint was taken.
	checkpointedAt int
}

func newRun() *run {
	return &run{
		visitCounts:   make(map[string]int),
		executionPath: make([]string, 0),
	}
}

// NewGraph creates a graph with sane defaults.
func NewGraph() *Graph {
	return &Graph{
		nodes:         make(map[string]Node),
		edges:         make(map[string][]Edge),
		maxNodeVisits: 1024,
	}
}

// WithCheckpointing configures automatic checkpointing for the graph.
func (g *Graph) WithCheckpointing(interval int, callback CheckpointCallback) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkpointInterval = interval
	g.checkpointCallback = callback
	return g
}

// SetMaxNodeVisits bounds how often any single node may run per execution.
func (g *Graph) SetMaxNodeVisits(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > 0 {
		g.maxNodeVisits = n
	}
}

// SetTelemetry wires a telemetry sink for execution traces.
func (g *Graph) SetTelemetry(t Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.telemetry = t
}

func (g *Graph) emit(event Event) {
	g.mu.RLock()
	telemetry := g.telemetry
	g.mu.RUnlock()
	if telemetry == nil {
		return
	}
	telemetry.Emit(event)
}

// SetStart marks the starting node.
func (g *Graph) SetStart(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("start node %s not found", id)
	}
	g.startNodeID = id
	return nil
}

// AddNode registers a node.
func (g *Graph) AddNode(node Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[node.ID()]; exists {
		return fmt.Errorf("node %s already exists", node.ID())
	}
	g.nodes[node.ID()] = node
	return nil
}

// AddEdge wires two nodes together. A nil condition always matches.
func (g *Graph) AddEdge(from, to string, condition ConditionFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s not defined", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %s not defined", to)
	}
	g.edges[from] = append(g.edges[from], Edge{
		From:      from,
		To:        to,
		Condition: condition,
	})
	return nil
}

// Execute runs the graph from its start node.
func (g *Graph) Execute(ctx context.Context, state *TurnState) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("nil turn state")
	}
	g.mu.RLock()
	start := g.startNodeID
	g.mu.RUnlock()
	return g.execute(ctx, state, start, newRun())
}

func (g *Graph) execute(ctx context.Context, state *TurnState, start string, r *run) (result *Result, err error) {
	taskID := state.TurnID
	g.emit(Event{Type: EventGraphStart, ThreadID: state.ThreadID, TaskID: taskID, Timestamp: time.Now().UTC()})
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		g.emit(Event{
			Type:      EventGraphFinish,
			ThreadID:  state.ThreadID,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Metadata: map[string]interface{}{
				"status": status,
				"path":   append([]string(nil), r.executionPath...),
			},
		})
	}()
	if start == "" {
		return nil, errors.New("graph has no start node")
	}
	return g.run(ctx, state, start, r)
}

func (g *Graph) run(ctx context.Context, state *TurnState, current string, r *run) (*Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var lastResult *Result
	for current != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		node, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("node %s missing", current)
		}
		r.visitCounts[current]++
		if r.visitCounts[current] > g.maxNodeVisits {
			return nil, fmt.Errorf("potential cycle detected at node %s", current)
		}
		r.executionPath = append(r.executionPath, current)
		g.emitLocked(Event{
			Type:      EventNodeStart,
			NodeID:    current,
			ThreadID:  state.ThreadID,
			TaskID:    state.TurnID,
			Timestamp: time.Now().UTC(),
		})
		result, err := node.Execute(ctx, state)
		if err != nil {
			err = fmt.Errorf("node %s execution failed: %w", current, err)
			g.emitLocked(Event{
				Type:      EventNodeError,
				NodeID:    current,
				ThreadID:  state.ThreadID,
				TaskID:    state.TurnID,
				Timestamp: time.Now().UTC(),
				Message:   err.Error(),
			})
			return nil, err
		}
		if result == nil {
			result = &Result{Success: true, Data: map[string]interface{}{}}
		}
		result.NodeID = current
		lastResult = result
		g.emitLocked(Event{
			Type:      EventNodeFinish,
			NodeID:    current,
			ThreadID:  state.ThreadID,
			TaskID:    state.TurnID,
			Timestamp: time.Now().UTC(),
			Metadata: map[string]interface{}{
				"success": result.Success,
				"cursor":  state.Cursor,
			},
		})
		g.maybeCheckpoint(current, state, r)
		next, err := g.nextNode(node, result, state)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return lastResult, nil
}

// emitLocked is emit for callers already holding g.mu.
func (g *Graph) emitLocked(event Event) {
	if g.telemetry != nil {
		g.telemetry.Emit(event)
	}
}

func (g *Graph) maybeCheckpoint(currentNode string, state *TurnState, r *run) {
	if g.checkpointInterval == 0 || g.checkpointCallback == nil {
		return
	}
	if !r.shouldCheckpoint(g.checkpointInterval) {
		return
	}
	checkpoint := g.newCheckpoint(currentNode, state, r)
	if err := g.checkpointCallback(checkpoint); err != nil {
		g.emitLocked(Event{
			Type:      EventNodeError,
			NodeID:    currentNode,
			ThreadID:  state.ThreadID,
			TaskID:    state.TurnID,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("checkpoint callback failed: %v", err),
		})
		return
	}
	g.emitLocked(Event{
		Type:      EventCheckpoint,
		NodeID:    currentNode,
		ThreadID:  state.ThreadID,
		TaskID:    state.TurnID,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"checkpoint_id": checkpoint.CheckpointID},
	})
	r.checkpointedAt = len(r.executionPath)
}

func (r *run) shouldCheckpoint(interval int) bool {
	if interval <= 0 {
		return false
	}
	return len(r.executionPath)-r.checkpointedAt >= interval
}

// nextNode evaluates the outgoing edges for a node. Exactly one edge may
// match; none ends the run.
func (g *Graph) nextNode(node Node, result *Result, state *TurnState) (string, error) {
	outEdges := g.edges[node.ID()]
	if len(outEdges) == 0 || node.Type() == NodeTypeTerminal {
		return "", nil
	}
	var matched []Edge
	for _, edge := range outEdges {
		if edge.Condition != nil && !edge.Condition(result, state) {
			continue
		}
		matched = append(matched, edge)
	}
	if len(matched) == 0 {
		return "", nil
	}
	if len(matched) > 1 {
		return "", fmt.Errorf("ambiguous transitions from %s", node.ID())
	}
	return matched[0].To, nil
}

// Validate ensures the start node and all edge references exist.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return errors.New("graph has no nodes")
	}
	if g.startNodeID == "" {
		return errors.New("graph has no start node")
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge references missing node %s", from)
		}
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge references missing node %s", edge.To)
			}
		}
	}
	return nil
}

// FuncNode adapts a plain function into a Node.
type FuncNode struct {
	id   string
	kind NodeType
	fn   func(ctx context.Context, state *TurnState) (*Result, error)
}

// NewFuncNode builds a node that runs fn.
func NewFuncNode(id string, kind NodeType, fn func(ctx context.Context, state *TurnState) (*Result, error)) *FuncNode {
	return &FuncNode{id: id, kind: kind, fn: fn}
}

// ID implements Node.
func (n *FuncNode) ID() string { return n.id }

// Type implements Node.
func (n *FuncNode) Type() NodeType { return n.kind }

// Execute calls the wrapped function.
func (n *FuncNode) Execute(ctx context.Context, state *TurnState) (*Result, error) {
	if n.fn == nil {
		return &Result{NodeID: n.id, Success: true}, nil
	}
	return n.fn(ctx, state)
}

// TerminalNode marks the end of the workflow.
type TerminalNode struct {
	id string
}

// NewTerminalNode creates a terminal node.
func NewTerminalNode(id string) *TerminalNode {
	return &TerminalNode{id: id}
}

// ID implements Node.
func (n *TerminalNode) ID() string { return n.id }

// Type implements Node.
func (n *TerminalNode) Type() NodeType { return NodeTypeTerminal }

// Execute completes immediately.
func (n *TerminalNode) Execute(ctx context.Context, state *TurnState) (*Result, error) {
	return &Result{NodeID: n.id, Success: true}, nil
}
