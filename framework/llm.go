package framework

import "context"

// LLMOptions configures language model calls. Keeping the options struct inside
// the framework avoids hard-coding Ollama/OpenAI specific fields in the
// orchestrator.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// StreamChunk carries either a piece of generated text or the error that
// terminated the stream. The channel is closed after an error chunk.
type StreamChunk struct {
	Text string
	Err  error
}

// LanguageModel provides the completion capabilities used by the planner and
// the answer synthesizer.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
	GenerateStream(ctx context.Context, prompt string, options *LLMOptions) (<-chan StreamChunk, error)
}
