package framework

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GraphCheckpoint captures graph execution state after a node finished so a
// turn can be inspected or resumed.
type GraphCheckpoint struct {
	CheckpointID  string                 `json:"checkpoint_id"`
	ThreadID      string                 `json:"thread_id"`
	TurnID        string                 `json:"turn_id"`
	CreatedAt     time.Time              `json:"created_at"`
	CurrentNodeID string                 `json:"current_node_id"`
	VisitCounts   map[string]int         `json:"visit_counts"`
	ExecutionPath []string               `json:"execution_path"`
	State         *TurnState             `json:"state"`
	GraphHash     string                 `json:"graph_hash"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// newCheckpoint snapshots a run. Callers hold g.mu.
func (g *Graph) newCheckpoint(currentNodeID string, state *TurnState, r *run) *GraphCheckpoint {
	visits := make(map[string]int, len(r.visitCounts))
	for k, v := range r.visitCounts {
		visits[k] = v
	}
	return &GraphCheckpoint{
		CheckpointID:  uuid.NewString(),
		ThreadID:      state.ThreadID,
		TurnID:        state.TurnID,
		CreatedAt:     time.Now().UTC(),
		CurrentNodeID: currentNodeID,
		VisitCounts:   visits,
		ExecutionPath: append([]string(nil), r.executionPath...),
		State:         state.Clone(),
		GraphHash:     g.hashLocked(),
		Metadata: map[string]interface{}{
			"cursor":     state.Cursor,
			"plan_steps": len(state.Plan),
		},
	}
}

// ResumeFromCheckpoint continues an execution at the node following the
// checkpointed one. The graph definition must be unchanged.
func (g *Graph) ResumeFromCheckpoint(ctx context.Context, checkpoint *GraphCheckpoint) (*Result, *TurnState, error) {
	if checkpoint == nil {
		return nil, nil, errors.New("nil checkpoint")
	}
	if checkpoint.State == nil {
		return nil, nil, errors.New("checkpoint has no state")
	}
	if g.Hash() != checkpoint.GraphHash {
		return nil, nil, errors.New("graph definition has changed since checkpoint")
	}
	state := checkpoint.State.Clone()
	r := newRun()
	for node, count := range checkpoint.VisitCounts {
		r.visitCounts[node] = count
	}
	r.executionPath = append(r.executionPath, checkpoint.ExecutionPath...)
	r.checkpointedAt = len(r.executionPath)

	g.mu.RLock()
	node, ok := g.nodes[checkpoint.CurrentNodeID]
	var next string
	var err error
	if ok {
		next, err = g.nextNode(node, &Result{NodeID: node.ID(), Success: true}, state)
	}
	g.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("node %s missing", checkpoint.CurrentNodeID)
	}
	if err != nil {
		return nil, nil, err
	}
	if next == "" {
		return &Result{NodeID: checkpoint.CurrentNodeID, Success: true}, state, nil
	}
	g.emit(Event{
		Type:      EventGraphResume,
		NodeID:    next,
		ThreadID:  state.ThreadID,
		TaskID:    state.TurnID,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"checkpoint_id": checkpoint.CheckpointID},
	})
	result, err := g.execute(ctx, state, next, r)
	return result, state, err
}

// Hash fingerprints the node and edge layout.
func (g *Graph) Hash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hashLocked()
}

func (g *Graph) hashLocked() string {
	nodeIDs := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	var sb strings.Builder
	for _, id := range nodeIDs {
		sb.WriteString(id)
	}
	edgeKeys := make([]string, 0, len(g.edges))
	for id := range g.edges {
		edgeKeys = append(edgeKeys, id)
	}
	sort.Strings(edgeKeys)
	for _, from := range edgeKeys {
		for _, edge := range g.edges[from] {
			sb.WriteString(edge.From)
			sb.WriteString(edge.To)
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
