// Package orchestrator turns one user message into an answer: it plans over
// the remote agents, runs the plan step by step and composes the reply,
// optionally as a stream of events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/llm"
	"github.com/lexcodex/arassist/persistence"
)

const (
	modeBlocking = "blocking"
	modeStream   = "stream"
	modeResume   = "resume"

	streamBuffer = 16
)

// Config assembles an Engine.
type Config struct {
	Model     framework.LanguageModel
	Agents    agents.Invoker
	Catalogue Catalogue
	Store     persistence.ConversationStore
	// Checkpoints, when set, receives a checkpoint every CheckpointInterval
	// node executions (default 1).
	Checkpoints        *persistence.CheckpointStore
	CheckpointInterval int
	// Retry wraps Model. Nil uses llm.DefaultRetryPolicy.
	Retry     *llm.RetryPolicy
	Scanner   extract.ChartScanner
	Telemetry framework.Telemetry
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Engine runs conversation turns. One Engine serves every thread; turns on
// the same thread are serialized while different threads run in parallel.
type Engine struct {
	planner  *Planner
	executor *Executor
	synth    *Synthesizer
	store    persistence.ConversationStore
	graph    *framework.Graph
	locks    persistence.KeyedMutex

	checkpoints        *persistence.CheckpointStore
	checkpointInterval int
	telemetry          framework.Telemetry
	metrics            *Metrics
	logger             *zap.Logger
}

// NewEngine validates cfg and builds the turn graph.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("engine requires a language model")
	}
	if cfg.Agents == nil {
		return nil, errors.New("engine requires an agent invoker")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine requires a conversation store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := llm.DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	model := llm.WithRetry(cfg.Model, policy)
	interval := cfg.CheckpointInterval
	if interval <= 0 {
		interval = 1
	}
	e := &Engine{
		planner:            NewPlanner(model, cfg.Catalogue, logger),
		executor:           NewExecutor(cfg.Agents, cfg.Metrics, logger),
		synth:              NewSynthesizer(model, cfg.Scanner),
		store:              cfg.Store,
		checkpoints:        cfg.Checkpoints,
		checkpointInterval: interval,
		telemetry:          cfg.Telemetry,
		metrics:            cfg.Metrics,
		logger:             logger,
	}
	graph, err := e.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("build turn graph: %w", err)
	}
	e.graph = graph
	return e, nil
}

// ProcessTurn answers message on threadID and returns the reply, including
// any chart suffix.
func (e *Engine) ProcessTurn(ctx context.Context, message, threadID string) (string, error) {
	if err := validateTurn(message, threadID); err != nil {
		return "", err
	}
	state, err := e.runTurn(ctx, message, threadID, modeBlocking, nil)
	if err != nil {
		return "", err
	}
	return state.Answer, nil
}

// StreamTurn answers message on threadID as a stream of events: one status,
// one plan, a progress per step, the answer tokens, then complete. A failed
// turn ends with an error event instead of complete. The channel is closed
// after the last event; cancelling ctx stops emission.
func (e *Engine) StreamTurn(ctx context.Context, message, threadID string) (<-chan Event, error) {
	if err := validateTurn(message, threadID); err != nil {
		return nil, err
	}
	out := make(chan Event, streamBuffer)
	send := func(ev Event) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		state, err := e.runTurn(ctx, message, threadID, modeStream, func(ev Event) { send(ev) })
		if err != nil {
			send(Event{Type: EventError, Message: err.Error()})
			return
		}
		send(Event{Type: EventComplete, Response: state.Answer})
	}()
	return out, nil
}

func validateTurn(message, threadID string) error {
	if err := persistence.ValidateThreadID(threadID); err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func (e *Engine) runTurn(ctx context.Context, message, threadID, mode string, emit func(Event)) (*framework.TurnState, error) {
	unlock := e.locks.Lock(threadID)
	defer unlock()

	start := time.Now()
	turnID := uuid.NewString()
	ctx = framework.WithTurnContext(ctx, framework.TurnContext{ThreadID: threadID, TurnID: turnID})
	ctx = withScope(ctx, &turnScope{emit: emit, stream: emit != nil})
	ctx, span := startTurnSpan(ctx, threadID, turnID, mode)
	logger := e.logger.With(zap.String("thread_id", threadID), zap.String("turn_id", turnID))

	scopeFrom(ctx).send(Event{Type: EventStatus, Message: "Analyzing your request"})

	state, err := e.turn(ctx, message, threadID, turnID)
	endSpan(span, err)
	e.metrics.turn(mode, turnOutcome(err), time.Since(start))
	if err != nil {
		logger.Warn("turn failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}
	logger.Info("turn complete",
		zap.Int("steps", len(state.Plan)),
		zap.Int("collected", len(state.CollectedData)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return state, nil
}

func (e *Engine) turn(ctx context.Context, message, threadID, turnID string) (*framework.TurnState, error) {
	history, err := e.store.GetState(ctx, threadID)
	if err != nil {
		return nil, &TurnError{Stage: StageLoad, Err: err}
	}
	state := framework.NewTurnState(threadID, turnID, message, history)
	if _, err := e.graph.Execute(ctx, state); err != nil {
		return nil, asTurnError(err)
	}
	if err := e.persist(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// persist appends the user message and the answer. Only completed turns get
// here.
func (e *Engine) persist(ctx context.Context, state *framework.TurnState) error {
	_, err := persistence.Append(ctx, e.store, state.ThreadID,
		persistence.NewMessage(framework.RoleUser, state.Query),
		persistence.NewMessage(framework.RoleAssistant, state.Answer),
	)
	if err != nil {
		return &TurnError{Stage: StagePersist, Err: err}
	}
	return nil
}

// ErrStaleCheckpoint means the thread moved on after the checkpoint was
// taken.
var ErrStaleCheckpoint = errors.New("checkpoint is older than the thread")

// ErrTurnCompleted means the latest checkpoint belongs to a finished turn.
var ErrTurnCompleted = errors.New("latest turn already completed")

// ResumeTurn continues the thread's most recent interrupted turn from its
// latest checkpoint, so steps that already succeeded are not repeated.
func (e *Engine) ResumeTurn(ctx context.Context, threadID string) (string, error) {
	if e.checkpoints == nil {
		return "", errors.New("checkpointing is not configured")
	}
	if err := persistence.ValidateThreadID(threadID); err != nil {
		return "", err
	}
	unlock := e.locks.Lock(threadID)
	defer unlock()

	cp, err := e.checkpoints.Latest(threadID)
	if err != nil {
		return "", err
	}
	if cp.CurrentNodeID == NodeFinalAnswer || cp.CurrentNodeID == NodeEnd {
		return "", ErrTurnCompleted
	}
	history, err := e.store.GetState(ctx, threadID)
	if err != nil {
		return "", &TurnError{Stage: StageLoad, Err: err}
	}
	if lastSeq(history) != lastSeq(cp.State.History) {
		return "", ErrStaleCheckpoint
	}

	start := time.Now()
	ctx = framework.WithTurnContext(ctx, framework.TurnContext{ThreadID: threadID, TurnID: cp.TurnID})
	ctx = withScope(ctx, &turnScope{})
	ctx, span := startTurnSpan(ctx, threadID, cp.TurnID, modeResume)
	_, state, err := e.graph.ResumeFromCheckpoint(ctx, cp)
	if err == nil {
		err = e.persist(ctx, state)
	} else {
		err = asTurnError(err)
	}
	endSpan(span, err)
	e.metrics.turn(modeResume, turnOutcome(err), time.Since(start))
	if err != nil {
		return "", err
	}
	e.logger.Info("turn resumed",
		zap.String("thread_id", threadID),
		zap.String("checkpoint_id", cp.CheckpointID),
		zap.Int("cursor", state.Cursor),
	)
	return state.Answer, nil
}

func lastSeq(history []framework.Message) uint64 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].Seq
}

func asTurnError(err error) error {
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TurnError{Stage: StageGraph, Err: err}
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
