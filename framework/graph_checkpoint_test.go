package framework

import (
	"context"
	"sync"
	"testing"
)

func TestGraphCheckpointsEveryNode(t *testing.T) {
	graph := loopGraph(t)
	var mu sync.Mutex
	var checkpoints []*GraphCheckpoint
	graph.WithCheckpointing(1, func(cp *GraphCheckpoint) error {
		mu.Lock()
		defer mu.Unlock()
		checkpoints = append(checkpoints, cp)
		return nil
	})
	state := NewTurnState("thread-1", "turn-1", "q", nil)
	state.Plan = Plan{{Agent: "a"}, {Agent: "b"}}
	if _, err := graph.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// start, work, work, done
	if len(checkpoints) != 4 {
		t.Fatalf("expected 4 checkpoints, got %d", len(checkpoints))
	}
	first := checkpoints[0]
	if first.ThreadID != "thread-1" || first.TurnID != "turn-1" {
		t.Fatalf("unexpected ids: %+v", first)
	}
	if first.State == state {
		t.Fatal("expected checkpoint to clone the state")
	}
	if first.GraphHash == "" || first.CheckpointID == "" {
		t.Fatal("expected hash and id to be populated")
	}
	if checkpoints[1].State.Cursor != 1 || checkpoints[2].State.Cursor != 2 {
		t.Fatalf("checkpoint cursors: %d %d", checkpoints[1].State.Cursor, checkpoints[2].State.Cursor)
	}
}

func TestGraphCheckpointInterval(t *testing.T) {
	graph := loopGraph(t)
	count := 0
	graph.WithCheckpointing(2, func(cp *GraphCheckpoint) error {
		count++
		return nil
	})
	state := NewTurnState("t", "turn", "q", nil)
	state.Plan = Plan{{Agent: "a"}, {Agent: "b"}}
	if _, err := graph.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", count)
	}
}

func TestGraphResumeFromCheckpoint(t *testing.T) {
	graph := loopGraph(t)
	var saved *GraphCheckpoint
	graph.WithCheckpointing(1, func(cp *GraphCheckpoint) error {
		if saved == nil && cp.CurrentNodeID == "work" {
			saved = cp
		}
		return nil
	})
	state := NewTurnState("t", "turn", "q", nil)
	state.Plan = Plan{{Agent: "a"}, {Agent: "b"}, {Agent: "c"}}
	if _, err := graph.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if saved == nil {
		t.Fatal("expected a checkpoint after the first step")
	}

	result, resumed, err := graph.ResumeFromCheckpoint(context.Background(), saved)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result == nil || result.NodeID != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if resumed.Cursor != 3 {
		t.Fatalf("expected resumed cursor 3, got %d", resumed.Cursor)
	}
	if saved.State.Cursor != 1 {
		t.Fatalf("resume mutated the checkpoint state")
	}
}

func TestGraphResumeRejectsChangedGraph(t *testing.T) {
	graph := loopGraph(t)
	cp := &GraphCheckpoint{CurrentNodeID: "work", GraphHash: "stale", State: NewTurnState("t", "turn", "q", nil)}
	if _, _, err := graph.ResumeFromCheckpoint(context.Background(), cp); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}
