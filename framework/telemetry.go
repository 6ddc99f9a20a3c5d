package framework

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventGraphStart  EventType = "graph_start"
	EventGraphFinish EventType = "graph_finish"
	EventGraphResume EventType = "graph_resume"
	EventNodeStart   EventType = "node_start"
	EventNodeFinish  EventType = "node_finish"
	EventNodeError   EventType = "node_error"
	EventCheckpoint  EventType = "checkpoint"
	EventAgentCall   EventType = "agent_call"
	EventRetry       EventType = "retry"
	EventLLMCall     EventType = "llm_call"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	NodeID    string                 `json:"node_id,omitempty"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the graph runtime and the
// components it drives.
type Telemetry interface {
	Emit(event Event)
}

// TelemetryFunc adapts a function to Telemetry.
type TelemetryFunc func(event Event)

// Emit calls f.
func (f TelemetryFunc) Emit(event Event) { f(event) }

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file so
// external tools can tail the stream.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// ZapTelemetry emits events as structured log lines. Node errors are logged
// at warn level, everything else at debug.
type ZapTelemetry struct {
	Logger *zap.Logger
}

// Emit logs the event.
func (t ZapTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("thread_id", event.ThreadID),
	}
	if event.NodeID != "" {
		fields = append(fields, zap.String("node", event.NodeID))
	}
	if event.TaskID != "" {
		fields = append(fields, zap.String("turn_id", event.TaskID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("meta", event.Metadata))
	}
	if event.Type == EventNodeError {
		logger.Warn(event.Message, fields...)
		return
	}
	logger.Debug(event.Message, fields...)
}
