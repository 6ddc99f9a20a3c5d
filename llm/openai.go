package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/lexcodex/arassist/framework"
)

// OpenAIClient implements framework.LanguageModel over the chat completions
// API of OpenAI or any compatible gateway.
type OpenAIClient struct {
	Model   string
	Timeout time.Duration
	client  openai.Client
}

var _ framework.LanguageModel = (*OpenAIClient)(nil)

// OpenAIConfig configures NewOpenAIClient.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewOpenAIClient builds a client. SDK-level retries are disabled so the
// shared rate-limit policy is the only retry layer.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIClient{
		Model:   model,
		Timeout: DefaultCallTimeout,
		client:  openai.NewClient(opts...),
	}
}

func (c *OpenAIClient) params(prompt string, options *framework.LLMOptions) openai.ChatCompletionNewParams {
	model := c.Model
	if options != nil && options.Model != "" {
		model = options.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if options == nil {
		return params
	}
	if options.Temperature != 0 {
		params.Temperature = param.NewOpt(options.Temperature)
	}
	if options.MaxTokens != 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(options.MaxTokens))
	}
	if options.TopP != 0 {
		params.TopP = param.NewOpt(options.TopP)
	}
	return params
}

func (c *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// Generate implements single prompt completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	completion, err := c.client.Chat.Completions.New(ctx, c.params(prompt, options))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	resp := &framework.LLMResponse{
		Usage: map[string]int{
			"prompt_tokens":     int(completion.Usage.PromptTokens),
			"completion_tokens": int(completion.Usage.CompletionTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Text = completion.Choices[0].Message.Content
		resp.FinishReason = completion.Choices[0].FinishReason
	}
	return resp, nil
}

// GenerateStream streams content deltas from a server-sent event stream. A
// transport failure or the per-call timeout expiring mid-stream is delivered
// as a chunk with Err set. Callers must drain the channel or cancel ctx.
func (c *OpenAIClient) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	callCtx, cancel := c.withTimeout(ctx)
	stream := c.client.Chat.Completions.NewStreaming(callCtx, c.params(prompt, options))
	if err := stream.Err(); err != nil {
		cancel()
		_ = stream.Close()
		return nil, classifyOpenAIError(err)
	}
	ch := make(chan framework.StreamChunk)
	go func() {
		defer cancel()
		defer stream.Close()
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- framework.StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		err := stream.Err()
		if callCtx.Err() != nil {
			err = callCtx.Err()
		}
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case ch <- framework.StreamChunk{Err: classifyOpenAIError(err)}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return NewRateLimitError(err)
	}
	return ClassifyTransport("openai completion", err)
}
