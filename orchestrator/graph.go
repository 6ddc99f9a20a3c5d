package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
)

// Node IDs of the turn graph.
const (
	NodeRouter      = "router"
	NodeExecutor    = "executor"
	NodeFinalAnswer = "final_answer"
	NodeEnd         = "end"
)

func planPending(_ *framework.Result, state *framework.TurnState) bool { return !state.Done() }
func planDone(_ *framework.Result, state *framework.TurnState) bool    { return state.Done() }

// buildGraph wires router -> (executor loop | final_answer) -> end.
func (e *Engine) buildGraph() (*framework.Graph, error) {
	g := framework.NewGraph()
	// Visits per run: one executor visit per step plus slack.
	g.SetMaxNodeVisits(framework.MaxPlanSteps + 1)
	nodes := []framework.Node{
		framework.NewFuncNode(NodeRouter, framework.NodeTypeRouter, e.route),
		framework.NewFuncNode(NodeExecutor, framework.NodeTypeExecutor, e.execute),
		framework.NewFuncNode(NodeFinalAnswer, framework.NodeTypeAnswer, e.answer),
		framework.NewTerminalNode(NodeEnd),
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	edges := []framework.Edge{
		{From: NodeRouter, To: NodeExecutor, Condition: planPending},
		{From: NodeRouter, To: NodeFinalAnswer, Condition: planDone},
		{From: NodeExecutor, To: NodeExecutor, Condition: planPending},
		{From: NodeExecutor, To: NodeFinalAnswer, Condition: planDone},
		{From: NodeFinalAnswer, To: NodeEnd},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge.From, edge.To, edge.Condition); err != nil {
			return nil, err
		}
	}
	if err := g.SetStart(NodeRouter); err != nil {
		return nil, err
	}
	if e.telemetry != nil {
		g.SetTelemetry(e.telemetry)
	}
	if e.checkpoints != nil && e.checkpointInterval > 0 {
		g.WithCheckpointing(e.checkpointInterval, e.checkpoints.Save)
	}
	return g, g.Validate()
}

// route resets the turn and asks the planner for a plan. A failed planner
// call degrades to the direct-answer path unless the turn was cancelled.
func (e *Engine) route(ctx context.Context, state *framework.TurnState) (*framework.Result, error) {
	ctx, span := startNodeSpan(framework.WithStage(ctx, NodeRouter), NodeRouter)
	state.Plan = framework.Plan{}
	state.Cursor = 0
	state.CollectedData = []string{}
	state.Answer = ""
	state.Charts = nil

	known := extract.FromSources(state.HistoryText(), nil)
	plan, err := e.planner.Plan(ctx, state.Query, state.History, known)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			endSpan(span, ctxErr)
			return nil, &TurnError{Stage: StageRouter, Err: ctxErr}
		}
		e.logger.Warn("planning failed, answering directly",
			zap.String("thread_id", state.ThreadID),
			zap.Error(err),
		)
		plan = framework.Plan{}
	}
	state.Plan = plan
	e.metrics.plan(len(plan))
	scopeFrom(ctx).send(Event{Type: EventPlan, Tasks: plan.Tasks()})
	endSpan(span, nil)
	return &framework.Result{Success: true, Data: map[string]interface{}{"steps": len(plan)}}, nil
}

func (e *Engine) execute(ctx context.Context, state *framework.TurnState) (*framework.Result, error) {
	ctx = framework.WithStage(ctx, NodeExecutor)
	if err := e.executor.Step(ctx, state); err != nil {
		return nil, err
	}
	return &framework.Result{Success: true, Data: map[string]interface{}{"cursor": state.Cursor}}, nil
}

func (e *Engine) answer(ctx context.Context, state *framework.TurnState) (*framework.Result, error) {
	ctx, span := startNodeSpan(framework.WithStage(ctx, NodeFinalAnswer), NodeFinalAnswer)
	scope := scopeFrom(ctx)
	var (
		text string
		err  error
	)
	if scope.stream {
		text, state.Charts, err = e.synth.FinalizeStream(ctx, state.Query, state.History, state.CollectedData, func(token string) {
			scope.send(Event{Type: EventToken, Content: token})
		})
	} else {
		text, state.Charts, err = e.synth.Finalize(ctx, state.Query, state.History, state.CollectedData)
	}
	endSpan(span, err)
	if err != nil {
		var te *TurnError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TurnError{Stage: StageAnswer, Err: err}
	}
	state.Answer = text
	return &framework.Result{Success: true, Data: map[string]interface{}{"charts": len(state.Charts)}}, nil
}
