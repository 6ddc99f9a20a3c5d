package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/arassist/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and
// responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

var _ framework.LanguageModel = (*InstrumentedModel)(nil)

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	start := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emit(ctx, "generate", prompt, options, resp, err, time.Since(start))
	return resp, err
}

func (m *InstrumentedModel) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	start := time.Now()
	ch, err := m.Inner.GenerateStream(ctx, prompt, options)
	if err != nil {
		m.emit(ctx, "generate_stream", prompt, options, nil, err, time.Since(start))
		return nil, err
	}
	out := make(chan framework.StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		var streamErr error
		for chunk := range ch {
			if chunk.Err != nil {
				streamErr = chunk.Err
			} else {
				text.WriteString(chunk.Text)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
			}
		}
		m.emit(ctx, "generate_stream", prompt, options, &framework.LLMResponse{Text: text.String(), FinishReason: "stream"}, streamErr, time.Since(start))
	}()
	return out, nil
}

func (m *InstrumentedModel) emit(ctx context.Context, kind, prompt string, options *framework.LLMOptions, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	turn, _ := framework.TurnContextFrom(ctx)
	metadata := map[string]interface{}{
		"kind":         kind,
		"model":        modelFromOptions(options),
		"stage":        turn.Stage,
		"prompt_chars": len(prompt),
		"elapsed_ms":   elapsed.Milliseconds(),
	}
	if m.Debug {
		metadata["prompt"] = clip(prompt, 8192)
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		if resp.Usage != nil {
			metadata["usage"] = resp.Usage
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMCall,
		ThreadID:  turn.ThreadID,
		TaskID:    turn.TurnID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s", kind),
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
