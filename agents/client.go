package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/llm"
)

// DefaultTimeout bounds one agent exchange. Agents run their own model
// calls, so the bound is in minutes.
const DefaultTimeout = 5 * time.Minute

const methodSendMessage = "message/send"

// Resolver maps agent names to addresses. *Registry implements it.
type Resolver interface {
	Get(name string) (AgentSpec, bool)
}

// Invoker sends text to a named agent and returns its reply.
type Invoker interface {
	Invoke(ctx context.Context, agent, text string) (string, error)
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Policy     llm.RetryPolicy
	Timeout    time.Duration
	Logger     *zap.Logger
	Telemetry  framework.Telemetry
}

// Client talks to remote agents over JSON-RPC 2.0 on HTTP. A single Client
// is shared by all turns so its connection pool is process-wide.
type Client struct {
	registry  Resolver
	http      *http.Client
	policy    llm.RetryPolicy
	timeout   time.Duration
	logger    *zap.Logger
	telemetry framework.Telemetry
	tracer    trace.Tracer
	cards     cardCache
	nextID    atomic.Uint64
}

var _ Invoker = (*Client)(nil)

// NewClient builds a client resolving agents through registry.
func NewClient(registry Resolver, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy.Logger == nil {
		opts.Policy.Logger = opts.Logger
	}
	return &Client{
		registry:  registry,
		http:      opts.HTTPClient,
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		tracer:    otel.Tracer("github.com/lexcodex/arassist/agents"),
	}
}

// Part is one piece of message content.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message is a single conversational message exchanged with an agent.
type Message struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
}

type sendParams struct {
	Message Message `json:"message"`
}

type artifact struct {
	Parts []Part `json:"parts"`
}

// sendResult covers both reply shapes: a direct message, or a task carrying
// artifacts and a status message.
type sendResult struct {
	Kind      string     `json:"kind"`
	Parts     []Part     `json:"parts"`
	Artifacts []artifact `json:"artifacts"`
	Status    *struct {
		Message *Message `json:"message"`
	} `json:"status"`
}

func (r sendResult) text() string {
	var texts []string
	collect := func(parts []Part) {
		for _, p := range parts {
			if p.Text != "" && (p.Kind == "" || p.Kind == "text") {
				texts = append(texts, p.Text)
			}
		}
	}
	collect(r.Parts)
	for _, a := range r.Artifacts {
		collect(a.Parts)
	}
	if len(texts) == 0 && r.Status != nil && r.Status.Message != nil {
		collect(r.Status.Message.Parts)
	}
	return strings.Join(texts, "\n")
}

// Invoke sends text as a single user message to the named agent and returns
// every text part of the reply joined together. Rate-limited exchanges are
// retried with the client's policy; other failures return immediately.
func (c *Client) Invoke(ctx context.Context, agent, text string) (string, error) {
	spec, ok := c.registry.Get(agent)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agent)
	}
	ctx, span := c.tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("agent", agent),
		attribute.Int("request.chars", len(text)),
	))
	defer span.End()

	start := time.Now()
	attempts := 0
	reply, err := llm.Retry(ctx, c.policy, func(ctx context.Context) (string, error) {
		attempts++
		return c.send(ctx, spec, text)
	})
	c.emit(ctx, agent, attempts, len(reply), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("agent %s: %w", agent, err)
	}
	span.SetAttributes(attribute.Int("reply.chars", len(reply)), attribute.Int("attempts", attempts))
	return reply, nil
}

func (c *Client) send(ctx context.Context, spec AgentSpec, text string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := &jsonrpc2.Request{
		Method: methodSendMessage,
		ID:     jsonrpc2.ID{Num: c.nextID.Add(1)},
	}
	params := sendParams{Message: Message{
		Kind:      "message",
		MessageID: uuid.NewString(),
		Role:      "user",
		Parts:     []Part{{Kind: "text", Text: text}},
	}}
	if err := req.SetParams(params); err != nil {
		return "", err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", llm.ClassifyTransport("agent "+spec.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.ClassifyTransport("agent "+spec.Name, err)
	}
	if resp.StatusCode >= 300 {
		return "", llm.ClassifyStatus("agent "+spec.Name, resp.StatusCode, raw)
	}

	var rpcResp jsonrpc2.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", classifyRPCError(rpcResp.Error)
	}
	if rpcResp.Result == nil {
		return "", nil
	}
	var result sendResult
	if err := json.Unmarshal(*rpcResp.Result, &result); err != nil {
		return "", fmt.Errorf("decode agent result: %w", err)
	}
	return result.text(), nil
}

func classifyRPCError(rpcErr *jsonrpc2.Error) error {
	err := fmt.Errorf("agent rpc error %d: %s", rpcErr.Code, rpcErr.Message)
	if rpcErr.Code == http.StatusTooManyRequests || llm.LooksRateLimited(rpcErr.Message) {
		return llm.NewRateLimitError(err)
	}
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) emit(ctx context.Context, agent string, attempts, replyChars int, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("agent", agent),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	}
	turn, _ := framework.TurnContextFrom(ctx)
	if turn.ThreadID != "" {
		fields = append(fields, zap.String("thread_id", turn.ThreadID))
	}
	if err != nil {
		c.logger.Warn("agent call failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug("agent call", append(fields, zap.Int("reply_chars", replyChars))...)
	}
	if c.telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"agent":       agent,
		"attempts":    attempts,
		"reply_chars": replyChars,
		"elapsed_ms":  elapsed.Milliseconds(),
		"outcome":     Outcome(err),
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	c.telemetry.Emit(framework.Event{
		Type:      framework.EventAgentCall,
		ThreadID:  turn.ThreadID,
		TaskID:    turn.TurnID,
		Message:   "agent " + agent,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
}

// Outcome classifies a call result for logs and metrics.
func Outcome(err error) string {
	var exhausted *llm.RetryExhaustedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &exhausted):
		return "rate_limited"
	case llm.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
