package orchestrator

import (
	"errors"
	"fmt"
)

// Stage names the part of a turn that failed.
type Stage string

const (
	StageLoad     Stage = "load"
	StageRouter   Stage = "router"
	StageExecutor Stage = "executor"
	StageAnswer   Stage = "final_answer"
	StagePersist  Stage = "persist"
	StageGraph    Stage = "graph"
)

// ErrEmptyMessage rejects turns without user text.
var ErrEmptyMessage = errors.New("message is empty")

// TurnError reports a turn that ended without an answer. Nothing from the
// failed turn is written to the conversation store.
type TurnError struct {
	Stage Stage
	// Step and Agent are set for executor failures; Step is 1-based.
	Step  int
	Agent string
	Err   error
}

func (e *TurnError) Error() string {
	if e.Stage == StageExecutor && e.Agent != "" {
		return fmt.Sprintf("turn failed at step %d (%s): %v", e.Step, e.Agent, e.Err)
	}
	return fmt.Sprintf("turn failed during %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
