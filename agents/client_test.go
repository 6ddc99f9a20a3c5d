package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/llm"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  sendParams      `json:"params"`
}

func rpcResult(id json.RawMessage, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, id, result)
}

func agentServer(t *testing.T, handler func(w http.ResponseWriter, req rpcRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func newTestClient(url string) *Client {
	reg := NewStaticRegistry(AgentSpec{Name: "data_agent", URL: url})
	return NewClient(reg, Options{Policy: testPolicy()})
}

func TestInvokeMessageReply(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, methodSendMessage, req.Method)
		assert.Equal(t, "user", req.Params.Message.Role)
		if assert.Len(t, req.Params.Message.Parts, 1) {
			assert.Equal(t, "TASK: find client Acme", req.Params.Message.Parts[0].Text)
		}
		assert.NotEmpty(t, req.Params.Message.MessageID)
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","role":"agent","parts":[{"kind":"text","text":"Found: Acme Corp (ID: 42)"}]}`))
	})

	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "TASK: find client Acme")
	require.NoError(t, err)
	assert.Equal(t, "Found: Acme Corp (ID: 42)", reply)
}

func TestInvokeTaskReplyConcatenatesParts(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		fmt.Fprint(w, rpcResult(req.ID, `{
			"kind":"task",
			"status":{"state":"completed","message":{"kind":"message","parts":[{"kind":"text","text":"status only"}]}},
			"artifacts":[
				{"parts":[{"kind":"text","text":"first"},{"kind":"data","data":{}}]},
				{"parts":[{"kind":"text","text":"second"}]}
			]}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", reply)
}

func TestInvokeTaskStatusMessageFallback(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"task","status":{"message":{"parts":[{"kind":"text","text":"done"}]}}}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
}

func TestInvokeEmptyReply(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","parts":[]}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestInvokeRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		if calls.Add(1) < 5 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "too many requests")
			return
		}
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","parts":[{"kind":"text","text":"ok"}]}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(5), calls.Load())
}

func TestInvokeRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.Error(t, err)
	var exhausted *llm.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, "rate_limited", Outcome(err))
}

func TestInvokeRPCRateLimitMessageRetried(t *testing.T) {
	var calls atomic.Int32
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		if calls.Add(1) == 1 {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"Rate limit exceeded"}}`, req.ID)
			return
		}
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","parts":[{"kind":"text","text":"ok"}]}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeOtherErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		calls.Add(1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32602,"message":"invalid params"}}`, req.ID)
	})
	_, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "error", Outcome(err))
}

func TestInvokeErrorMentioningIdentifierNotRetried(t *testing.T) {
	for _, message := range []string{"partner 14290 not found", "invoice INV-4291 does not exist"} {
		var calls atomic.Int32
		srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
			calls.Add(1)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":%q}}`, req.ID, message)
		})
		_, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
		require.Error(t, err)
		assert.False(t, llm.IsRateLimited(err), message)
		assert.Equal(t, int32(1), calls.Load(), message)
		assert.Equal(t, "error", Outcome(err))
	}
}

func TestInvokeRPCCode429Retried(t *testing.T) {
	var calls atomic.Int32
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		if calls.Add(1) == 1 {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":429,"message":"slow down"}}`, req.ID)
			return
		}
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","parts":[{"kind":"text","text":"ok"}]}`))
	})
	reply, err := newTestClient(srv.URL).Invoke(context.Background(), "data_agent", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeTimeoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		calls.Add(1)
		<-release
	})
	defer close(release)
	reg := NewStaticRegistry(AgentSpec{Name: "data_agent", URL: srv.URL})
	client := NewClient(reg, Options{Policy: testPolicy(), Timeout: 50 * time.Millisecond})

	_, err := client.Invoke(context.Background(), "data_agent", "x")
	require.Error(t, err)
	assert.True(t, llm.IsTimeout(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "timeout", Outcome(err))
}

func TestInvokeUnknownAgent(t *testing.T) {
	client := NewClient(NewStaticRegistry(), Options{})
	_, err := client.Invoke(context.Background(), "ghost", "x")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

type eventSink struct {
	mu     sync.Mutex
	events []framework.Event
}

func (s *eventSink) Emit(e framework.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestInvokeEmitsAgentCallTelemetry(t *testing.T) {
	srv := agentServer(t, func(w http.ResponseWriter, req rpcRequest) {
		fmt.Fprint(w, rpcResult(req.ID, `{"kind":"message","parts":[{"kind":"text","text":"ok"}]}`))
	})
	sink := &eventSink{}
	reg := NewStaticRegistry(AgentSpec{Name: "data_agent", URL: srv.URL})
	client := NewClient(reg, Options{Policy: testPolicy(), Telemetry: sink})
	ctx := framework.WithTurnContext(context.Background(), framework.TurnContext{ThreadID: "t1", TurnID: "turn-1"})

	_, err := client.Invoke(ctx, "data_agent", "x")
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, framework.EventAgentCall, ev.Type)
	assert.Equal(t, "t1", ev.ThreadID)
	assert.Equal(t, "ok", ev.Metadata["outcome"])
	assert.Equal(t, 1, ev.Metadata["attempts"])
}

func TestDiscoverCachesCard(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/.well-known/agent.json":
			w.WriteHeader(http.StatusNotFound)
		case "/.well-known/agent-card.json":
			fmt.Fprint(w, `{"name":"Data Agent","description":"ERP access","skills":[{"id":"lookup","name":"Partner lookup","description":"Find partners by name","tags":["erp"]}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := newTestClient(srv.URL)

	caps, err := client.Discover(context.Background(), "data_agent")
	require.NoError(t, err)
	assert.Equal(t, "Data Agent", caps.Name)
	require.Len(t, caps.Skills, 1)
	assert.Equal(t, []string{"erp"}, caps.Skills[0].Tags)
	assert.Equal(t, "ERP access; Partner lookup: Find partners by name", caps.Summary())

	again, err := client.Discover(context.Background(), "data_agent")
	require.NoError(t, err)
	assert.Same(t, caps, again)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDiscoverFailureCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := newTestClient(srv.URL)

	_, err := client.Discover(context.Background(), "data_agent")
	require.Error(t, err)
	_, err = client.Discover(context.Background(), "data_agent")
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
