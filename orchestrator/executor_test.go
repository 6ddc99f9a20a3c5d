package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
)

type agentCall struct {
	Agent string
	Text  string
}

// scriptedAgents answers invocations through fn and records every call.
type scriptedAgents struct {
	mu    sync.Mutex
	fn    func(agent, text string) (string, error)
	calls []agentCall
}

func (s *scriptedAgents) Invoke(ctx context.Context, agent, text string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, agentCall{Agent: agent, Text: text})
	fn := s.fn
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn == nil {
		return "ok from " + agent, nil
	}
	return fn(agent, text)
}

func (s *scriptedAgents) Calls() []agentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agentCall(nil), s.calls...)
}

func repeatPlan(n int) framework.Plan {
	plan := make(framework.Plan, n)
	for i := range plan {
		plan[i] = framework.Step{Agent: "data_agent", Task: fmt.Sprintf("task %d", i+1)}
	}
	return plan
}

func runPlan(t *testing.T, exec *Executor, state *framework.TurnState) {
	t.Helper()
	for guard := 0; !state.Done(); guard++ {
		require.Less(t, guard, 100, "executor did not finish")
		require.NoError(t, exec.Step(context.Background(), state))
	}
}

func TestExecutorPerformsExactlyNSteps(t *testing.T) {
	for n := 0; n <= framework.MaxPlanSteps; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			invoker := &scriptedAgents{}
			exec := NewExecutor(invoker, nil, nil)
			state := framework.NewTurnState("t", "turn", "q", nil)
			state.Plan = repeatPlan(n)

			runPlan(t, exec, state)
			assert.Equal(t, n, state.Cursor)
			assert.Len(t, invoker.Calls(), n)
			assert.Len(t, state.CollectedData, n)

			require.NoError(t, exec.Step(context.Background(), state))
			assert.Equal(t, n, state.Cursor)
			assert.Len(t, invoker.Calls(), n)
		})
	}
}

func TestExecutorEmptyRepliesSkipped(t *testing.T) {
	invoker := &scriptedAgents{fn: func(agent, text string) (string, error) {
		if strings.Contains(text, "task 2") || strings.Contains(text, "task 4") {
			return "  \n", nil
		}
		return "data", nil
	}}
	exec := NewExecutor(invoker, nil, nil)
	state := framework.NewTurnState("t", "turn", "q", nil)
	state.Plan = repeatPlan(5)

	runPlan(t, exec, state)
	assert.Equal(t, 5, state.Cursor)
	assert.Len(t, state.CollectedData, 3)
	assert.LessOrEqual(t, len(state.CollectedData), len(state.Plan))
}

func TestExecutorScenarioDataAgent(t *testing.T) {
	invoker := &scriptedAgents{fn: func(agent, text string) (string, error) {
		return "Found: Acme Corp (ID: 42)", nil
	}}
	exec := NewExecutor(invoker, nil, nil)
	state := framework.NewTurnState("t", "turn", "find Acme", nil)
	state.Plan = framework.Plan{{Agent: "data_agent", Task: "find client Acme"}}

	require.NoError(t, exec.Step(context.Background(), state))
	assert.Equal(t, []string{"[DataAgent]: Found: Acme Corp (ID: 42)"}, state.CollectedData)
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, extract.IdentifierMap{"Acme Corp": 42}, extract.FromSources(state.HistoryText(), state.CollectedData))

	calls := invoker.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "data_agent", calls[0].Agent)
	assert.Contains(t, calls[0].Text, "TASK: find client Acme")
	assert.NotContains(t, calls[0].Text, "Available identifiers")
}

func TestExecutorContextCarriesHistoryIdentifiersOnce(t *testing.T) {
	invoker := &scriptedAgents{}
	exec := NewExecutor(invoker, nil, nil)
	history := []framework.Message{
		{Seq: 1, Role: framework.RoleUser, Content: "tell me about Acme"},
		{Seq: 2, Role: framework.RoleAssistant, Content: "Acme Corp (ID: 42) owes 12k."},
	}
	state := framework.NewTurnState("t", "turn", "and their risk?", history)
	state.Plan = framework.Plan{{Agent: "risk_agent", Task: "score the partner"}}

	require.NoError(t, exec.Step(context.Background(), state))
	text := invoker.Calls()[0].Text
	assert.Equal(t, 1, strings.Count(text, "Acme Corp: partner_id = 42"))
	assert.Contains(t, text, "Never fabricate")
}

func TestExecutorLaterStepsSeeEarlierIdentifiers(t *testing.T) {
	invoker := &scriptedAgents{fn: func(agent, text string) (string, error) {
		if agent == "data_agent" {
			return "**Beta Industries** (ID: 7)", nil
		}
		return "risk is low", nil
	}}
	exec := NewExecutor(invoker, nil, nil)
	state := framework.NewTurnState("t", "turn", "q", nil)
	state.Plan = framework.Plan{{Agent: "data_agent", Task: "find Beta"}, {Agent: "risk_agent", Task: "score Beta"}}

	runPlan(t, exec, state)
	calls := invoker.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Text, "- Beta Industries: partner_id = 7")
	assert.Equal(t, "[RiskAgent]: risk is low", state.CollectedData[1])
}

func TestStepContextIdempotentExtraction(t *testing.T) {
	ids := extract.IdentifierMap{"Acme Corp": 42, "Beta Industries": 7}
	ctxText := StepContext(ids, "compare both partners")
	assert.Equal(t, ids, extract.Identifiers(ctxText))
	again := StepContext(extract.Identifiers(ctxText), "compare both partners")
	assert.Equal(t, ctxText, again)
}

func TestExecutorFailurePropagates(t *testing.T) {
	boom := errors.New("agent exploded")
	invoker := &scriptedAgents{fn: func(agent, text string) (string, error) {
		if strings.Contains(text, "task 2") {
			return "", boom
		}
		return "fine", nil
	}}
	exec := NewExecutor(invoker, nil, nil)
	state := framework.NewTurnState("t", "turn", "q", nil)
	state.Plan = repeatPlan(3)

	require.NoError(t, exec.Step(context.Background(), state))
	err := exec.Step(context.Background(), state)
	require.Error(t, err)
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageExecutor, te.Stage)
	assert.Equal(t, 2, te.Step)
	assert.Equal(t, "data_agent", te.Agent)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, state.Cursor)
	assert.Len(t, state.CollectedData, 1)
}

func TestExecutorEmitsProgress(t *testing.T) {
	var events []Event
	ctx := withScope(context.Background(), &turnScope{emit: func(ev Event) { events = append(events, ev) }})
	exec := NewExecutor(&scriptedAgents{}, nil, nil)
	state := framework.NewTurnState("t", "turn", "q", nil)
	state.Plan = repeatPlan(2)

	require.NoError(t, exec.Step(ctx, state))
	require.NoError(t, exec.Step(ctx, state))
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventProgress, Step: 1, Total: 2, Agent: "data_agent", Task: "task 1"}, events[0])
	assert.Equal(t, 2, events[1].Step)
}
