// Package server exposes the turn engine over HTTP: blocking chat, server-sent
// events, websockets, thread history, the agent catalogue and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/orchestrator"
	"github.com/lexcodex/arassist/persistence"
)

const (
	defaultTurnTimeout = 10 * time.Minute
	maxRequestBytes    = 1 << 20
)

// TurnRunner is the engine surface the API needs. *orchestrator.Engine
// implements it.
type TurnRunner interface {
	ProcessTurn(ctx context.Context, message, threadID string) (string, error)
	StreamTurn(ctx context.Context, message, threadID string) (<-chan orchestrator.Event, error)
}

// AgentDirectory lists the configured agents.
type AgentDirectory interface {
	List() []agents.AgentSpec
}

// APIServer serves the chat API.
type APIServer struct {
	Engine TurnRunner
	Store  persistence.ConversationStore
	Agents AgentDirectory
	// Discoverer, when set, adds live capabilities to GET /api/agents.
	Discoverer orchestrator.Discoverer
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	TurnTimeout time.Duration

	upgrader websocket.Upgrader
}

// ChatRequest is the body of the chat endpoints and of websocket frames.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ThreadResponse is the reply of GET /api/threads/{id}.
type ThreadResponse struct {
	ThreadID string              `json:"thread_id"`
	Messages []framework.Message `json:"messages"`
}

// AgentInfo describes one agent in GET /api/agents.
type AgentInfo struct {
	agents.AgentSpec
	Capabilities *agents.Capabilities `json:"capabilities,omitempty"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed API.
func (s *APIServer) Handler() http.Handler {
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleStream)
	mux.HandleFunc("GET /api/chat/ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/threads", s.handleThreads)
	mux.HandleFunc("GET /api/threads/{id}", s.handleThread)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *APIServer) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := s.TurnTimeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	return context.WithTimeout(parent, timeout)
}

func decodeChat(w http.ResponseWriter, r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage), errors.Is(err, persistence.ErrInvalidThreadID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *APIServer) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChat(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: err.Error()})
		return
	}
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()
	reply, err := s.Engine.ProcessTurn(ctx, req.Message, req.ThreadID)
	if err != nil {
		s.logger().Warn("chat turn failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
		writeJSON(w, statusFor(err), ChatResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply})
}

func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChat(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: err.Error()})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Error: "streaming not supported"})
		return
	}
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()
	events, err := s.Engine.StreamTurn(ctx, req.Message, req.ThreadID)
	if err != nil {
		writeJSON(w, statusFor(err), ChatResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			s.logger().Debug("stream client went away", zap.String("thread_id", req.ThreadID), zap.Error(err))
			cancel()
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// handleWebsocket runs one turn per client frame and writes its events back
// as JSON text frames. Turns on one connection run one at a time.
func (s *APIServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger().Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if err := s.streamToSocket(r.Context(), conn, req); err != nil {
			s.logger().Debug("websocket write failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			return
		}
	}
}

func (s *APIServer) streamToSocket(parent context.Context, conn *websocket.Conn, req ChatRequest) error {
	ctx, cancel := s.turnContext(parent)
	defer cancel()
	events, err := s.Engine.StreamTurn(ctx, req.Message, req.ThreadID)
	if err != nil {
		return conn.WriteJSON(orchestrator.Event{Type: orchestrator.EventError, Message: err.Error()})
	}
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if writeErr = conn.WriteJSON(ev); writeErr != nil {
			cancel()
		}
	}
	return writeErr
}

func (s *APIServer) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := persistence.ValidateThreadID(threadID); err != nil {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: err.Error()})
		return
	}
	msgs, err := s.Store.GetState(r.Context(), threadID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Error: err.Error()})
		return
	}
	if len(msgs) == 0 {
		writeJSON(w, http.StatusNotFound, ChatResponse{Error: "thread not found"})
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{ThreadID: threadID, Messages: msgs})
}

func (s *APIServer) handleThreads(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.Store.(persistence.ThreadLister)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, ChatResponse{Error: "store cannot list threads"})
		return
	}
	ids, err := lister.Threads(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Error: err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": ids})
}

func (s *APIServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	var specs []agents.AgentSpec
	if s.Agents != nil {
		specs = s.Agents.List()
	}
	out := make([]AgentInfo, 0, len(specs))
	for _, spec := range specs {
		info := AgentInfo{AgentSpec: spec}
		if s.Discoverer != nil {
			if caps, err := s.Discoverer.Discover(r.Context(), spec.Name); err == nil {
				info.Capabilities = caps
			}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string][]AgentInfo{"agents": out})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
