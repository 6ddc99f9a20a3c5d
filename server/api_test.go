package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/orchestrator"
	"github.com/lexcodex/arassist/persistence"
)

type stubRunner struct {
	reply  string
	err    error
	events []orchestrator.Event
}

func (s stubRunner) ProcessTurn(ctx context.Context, message, threadID string) (string, error) {
	if err := persistence.ValidateThreadID(threadID); err != nil {
		return "", err
	}
	return s.reply, s.err
}

func (s stubRunner) StreamTurn(ctx context.Context, message, threadID string) (<-chan orchestrator.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan orchestrator.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

var streamedEvents = []orchestrator.Event{
	{Type: orchestrator.EventStatus, Message: "Analyzing your request"},
	{Type: orchestrator.EventPlan, Tasks: []string{"data_agent: find Acme"}},
	{Type: orchestrator.EventProgress, Step: 1, Total: 1, Agent: "data_agent", Task: "find Acme"},
	{Type: orchestrator.EventToken, Content: "Acme owes 12k."},
	{Type: orchestrator.EventComplete, Response: "Acme owes 12k."},
}

func newTestAPI(runner TurnRunner) (*APIServer, *persistence.MemoryStore) {
	store := persistence.NewMemoryStore()
	return &APIServer{
		Engine:   runner,
		Store:    store,
		Agents:   agents.NewStaticRegistry(agents.DefaultAgents()...),
		Gatherer: prometheus.NewRegistry(),
	}, store
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIServerHandleChat(t *testing.T) {
	api, _ := newTestAPI(stubRunner{reply: "Acme owes 12k."})
	rec := postJSON(t, api.Handler(), "/api/chat", ChatRequest{Message: "how much?", ThreadID: "t1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Acme owes 12k.", resp.Response)
}

func TestAPIServerChatErrors(t *testing.T) {
	api, _ := newTestAPI(stubRunner{err: &orchestrator.TurnError{Stage: orchestrator.StageExecutor, Err: errors.New("agent down")}})
	h := api.Handler()

	rec := postJSON(t, h, "/api/chat", ChatRequest{Message: "q", ThreadID: "t1"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent down")

	rec = postJSON(t, h, "/api/chat", ChatRequest{Message: "q", ThreadID: "../x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIServerStreamWritesEvents(t *testing.T) {
	api, _ := newTestAPI(stubRunner{events: streamedEvents})
	rec := postJSON(t, api.Handler(), "/api/chat/stream", ChatRequest{Message: "q", ThreadID: "t1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	var got []orchestrator.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		got = append(got, ev)
	}
	assert.Equal(t, streamedEvents, got)
	assert.Contains(t, body, "event: complete\n")
}

func TestAPIServerWebsocket(t *testing.T) {
	api, _ := newTestAPI(stubRunner{events: streamedEvents})
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ChatRequest{Message: "q", ThreadID: "t1"}))
	for _, want := range streamedEvents {
		var ev orchestrator.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, want, ev)
	}
}

func TestAPIServerThreadHistory(t *testing.T) {
	api, store := newTestAPI(stubRunner{})
	h := api.Handler()
	_, err := persistence.Append(context.Background(), store, "t1",
		persistence.NewMessage(framework.RoleUser, "hi"),
		persistence.NewMessage(framework.RoleAssistant, "hello"),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var thread ThreadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "hello", thread.Messages[1].Content)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
	assert.JSONEq(t, `{"threads":["t1"]}`, rec.Body.String())
}

type stubDiscoverer struct{}

func (stubDiscoverer) Discover(_ context.Context, name string) (*agents.Capabilities, error) {
	if name == "data_agent" {
		return &agents.Capabilities{Name: "Data Agent", Description: "ERP"}, nil
	}
	return nil, errors.New("unreachable")
}

func TestAPIServerAgentsAndHealth(t *testing.T) {
	api, _ := newTestAPI(stubRunner{})
	api.Discoverer = stubDiscoverer{}
	h := api.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Agents []AgentInfo `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 3)
	assert.Equal(t, "data_agent", body.Agents[0].Name)
	require.NotNil(t, body.Agents[0].Capabilities)
	assert.Equal(t, "ERP", body.Agents[0].Capabilities.Description)
	assert.Nil(t, body.Agents[1].Capabilities)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeContextStopsOnCancel(t *testing.T) {
	api, _ := newTestAPI(stubRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.ServeContext(ctx, "127.0.0.1:0") }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
