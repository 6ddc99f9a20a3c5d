package framework

import "context"

type turnContextKey struct{}

// TurnContext carries turn metadata through contexts so telemetry from the
// model and agent clients can be correlated to a specific thread and turn.
type TurnContext struct {
	ThreadID string
	TurnID   string
	Stage    string
}

// WithTurnContext attaches turn metadata to the context.
func WithTurnContext(ctx context.Context, turn TurnContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, turnContextKey{}, turn)
}

// WithStage returns ctx with the stage of the current turn replaced.
func WithStage(ctx context.Context, stage string) context.Context {
	turn, _ := TurnContextFrom(ctx)
	turn.Stage = stage
	return WithTurnContext(ctx, turn)
}

// TurnContextFrom extracts turn metadata, if present.
func TurnContextFrom(ctx context.Context) (TurnContext, bool) {
	if ctx == nil {
		return TurnContext{}, false
	}
	turn, ok := ctx.Value(turnContextKey{}).(TurnContext)
	return turn, ok
}
