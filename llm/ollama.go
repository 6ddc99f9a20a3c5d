package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/arassist/framework"
)

// DefaultCallTimeout bounds a single completion. Completions can be slow, so
// the bound is generous.
const DefaultCallTimeout = 5 * time.Minute

// Client implements framework.LanguageModel for Ollama.
type Client struct {
	Endpoint string
	Model    string
	// Timeout bounds each call, including the full duration of a stream.
	Timeout time.Duration
	Logger  *zap.Logger
	Debug   bool
	client  *http.Client
}

var _ framework.LanguageModel = (*Client)(nil)

type ollamaResponse struct {
	Text            string         `json:"text"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	Error           string         `json:"error"`
	Usage           map[string]int `json:"usage"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Client{
		Endpoint: endpoint,
		Model:    model,
		Timeout:  DefaultCallTimeout,
		client:   &http.Client{},
	}
}

// Generate implements single prompt completion.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	payload := map[string]interface{}{
		"model":  c.model(options),
		"prompt": prompt,
		"stream": false,
	}
	c.applyOptions(payload, options)
	resp, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransport("ollama generate", err)
	}
	c.logResponse("/api/generate", body)
	return decodeLLMResponse(bytes.NewReader(body))
}

// GenerateStream streams newline-delimited JSON chunks as they arrive. The
// channel closes after the final chunk; a failure mid-stream, including the
// per-call timeout expiring or the body ending before a done chunk, is
// delivered as a chunk with Err set. Callers must drain the channel or
// cancel ctx.
func (c *Client) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	callCtx, cancel := c.withTimeout(ctx)
	payload := map[string]interface{}{
		"model":  c.model(options),
		"prompt": prompt,
		"stream": true,
	}
	c.applyOptions(payload, options)
	resp, err := c.post(callCtx, "/api/generate", payload)
	if err != nil {
		cancel()
		return nil, err
	}
	ch := make(chan framework.StreamChunk)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(ch)
		// Sends wait on the caller's context only: an expired call deadline
		// must still reach the reader as an error.
		send := func(chunk framework.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			send(framework.StreamChunk{Err: err})
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var raw ollamaResponse
			if err := json.Unmarshal(line, &raw); err != nil {
				fail(err)
				return
			}
			if raw.Error != "" {
				fail(errors.New("ollama error: " + raw.Error))
				return
			}
			if text := responseText(raw); text != "" {
				if !send(framework.StreamChunk{Text: text}) {
					return
				}
			}
			if raw.Done {
				return
			}
		}
		switch err := scanner.Err(); {
		case callCtx.Err() != nil:
			fail(ClassifyTransport("ollama stream", callCtx.Err()))
		case err != nil:
			fail(ClassifyTransport("ollama stream", err))
		default:
			fail(errStreamTruncated)
		}
	}()
	return ch, nil
}

var errStreamTruncated = errors.New("ollama stream ended before the done chunk")

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func (c *Client) getHTTPClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	c.client = &http.Client{}
	return c.client
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "llama3.1"
}

func (c *Client) applyOptions(payload map[string]interface{}, options *framework.LLMOptions) {
	if options == nil {
		return
	}
	opts := map[string]interface{}{}
	if options.Temperature != 0 {
		opts["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		opts["num_predict"] = options.MaxTokens
	}
	if options.Stop != nil {
		opts["stop"] = options.Stop
	}
	if options.TopP != 0 {
		opts["top_p"] = options.TopP
	}
	if len(opts) > 0 {
		payload["options"] = opts
	}
}

// post sends the request and classifies non-2xx responses. The caller owns
// the returned body.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logPayload(path, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, ClassifyTransport("ollama "+path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus("ollama", resp.StatusCode, msg)
	}
	return resp, nil
}

func decodeLLMResponse(body io.Reader) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	if raw.Error != "" {
		return nil, errors.New("ollama error: " + raw.Error)
	}
	return &framework.LLMResponse{
		Text:         responseText(raw),
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}, nil
}

func responseText(raw ollamaResponse) string {
	if text := firstNonEmpty(raw.Text, raw.Response); text != "" {
		return text
	}
	if raw.Message != nil {
		return raw.Message.Content
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeUsage(raw ollamaResponse) map[string]int {
	if raw.Usage != nil {
		return raw.Usage
	}
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *Client) logPayload(path string, payload []byte) {
	if !c.Debug || c.Logger == nil {
		return
	}
	c.Logger.Debug("ollama request", zap.String("path", path), zap.String("payload", truncate(string(payload), 2048)))
}

func (c *Client) logResponse(path string, resp []byte) {
	if !c.Debug || c.Logger == nil {
		return
	}
	c.Logger.Debug("ollama response", zap.String("path", path), zap.String("payload", truncate(string(resp), 2048)))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
