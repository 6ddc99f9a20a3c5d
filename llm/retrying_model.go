package llm

import (
	"context"

	"github.com/lexcodex/arassist/framework"
)

// RetryingModel applies a RetryPolicy to every completion. For streams only
// opening the stream is retried; once tokens flow a failure is final.
type RetryingModel struct {
	Inner  framework.LanguageModel
	Policy RetryPolicy
}

var _ framework.LanguageModel = (*RetryingModel)(nil)

// WithRetry decorates model with policy.
func WithRetry(model framework.LanguageModel, policy RetryPolicy) *RetryingModel {
	return &RetryingModel{Inner: model, Policy: policy}
}

func (m *RetryingModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return Retry(ctx, m.Policy, func(ctx context.Context) (*framework.LLMResponse, error) {
		return m.Inner.Generate(ctx, prompt, options)
	})
}

func (m *RetryingModel) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	return Retry(ctx, m.Policy, func(ctx context.Context) (<-chan framework.StreamChunk, error) {
		return m.Inner.GenerateStream(ctx, prompt, options)
	})
}
