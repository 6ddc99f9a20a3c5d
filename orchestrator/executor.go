package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
)

// Executor runs one plan step per call.
type Executor struct {
	agents  agents.Invoker
	metrics *Metrics
	logger  *zap.Logger
}

// NewExecutor builds an executor over invoker.
func NewExecutor(invoker agents.Invoker, metrics *Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{agents: invoker, metrics: metrics, logger: logger}
}

// StepContext is the text sent to an agent: the identifiers known so far,
// when any, followed by the task.
func StepContext(known extract.IdentifierMap, task string) string {
	block := ""
	if len(known) > 0 {
		block = "Available identifiers:\n" + extract.RenderIdentifiers(known) + "\n\n"
	}
	return fmt.Sprintf(stepTemplate, block, task)
}

// CollectedEntry labels an agent reply for the collected data.
func CollectedEntry(agent, reply string) string {
	return fmt.Sprintf("[%s]: %s", agents.Label(agent), reply)
}

// Step executes the step under the cursor. A finished plan is a no-op. The
// cursor advances by one whether or not the agent replied; a failed call
// returns a *TurnError and leaves the state as it was.
func (e *Executor) Step(ctx context.Context, state *framework.TurnState) error {
	step, ok := state.CurrentStep()
	if !ok {
		return nil
	}
	index := state.Cursor + 1
	total := len(state.Plan)

	ctx, span := startStepSpan(ctx, step, index, total)
	known := extract.FromSources(state.HistoryText(), state.CollectedData)
	scopeFrom(ctx).send(Event{
		Type:  EventProgress,
		Step:  index,
		Total: total,
		Agent: step.Agent,
		Task:  step.Task,
	})

	reply, err := e.agents.Invoke(ctx, step.Agent, StepContext(known, step.Task))
	e.metrics.agentCall(step.Agent, agents.Outcome(err))
	endSpan(span, err)
	if err != nil {
		return &TurnError{Stage: StageExecutor, Step: index, Agent: step.Agent, Err: err}
	}

	reply = strings.TrimSpace(reply)
	if reply != "" {
		state.CollectedData = append(state.CollectedData, CollectedEntry(step.Agent, reply))
	} else {
		e.logger.Debug("agent returned no text",
			zap.String("thread_id", state.ThreadID),
			zap.String("agent", step.Agent),
			zap.Int("step", index),
		)
	}
	state.Cursor++
	return nil
}
