package framework

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestJSONFileTelemetryWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	sink, err := NewJSONFileTelemetry(path)
	require.NoError(t, err)
	sink.Emit(Event{Type: EventNodeStart, NodeID: "router", ThreadID: "t1", Timestamp: time.Now()})
	sink.Emit(Event{Type: EventNodeFinish, NodeID: "router", ThreadID: "t1", Timestamp: time.Now()})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var types []EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		types = append(types, event.Type)
	}
	assert.Equal(t, []EventType{EventNodeStart, EventNodeFinish}, types)
}

func TestZapTelemetryLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := ZapTelemetry{Logger: zap.New(core)}
	sink.Emit(Event{Type: EventNodeStart, NodeID: "executor", ThreadID: "t1"})
	sink.Emit(Event{Type: EventNodeError, NodeID: "executor", ThreadID: "t1", Message: "failed"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "executor", entries[1].ContextMap()["node"])
}

func TestMultiplexTelemetrySkipsNilSinks(t *testing.T) {
	var got []EventType
	m := MultiplexTelemetry{Sinks: []Telemetry{nil, TelemetryFunc(func(e Event) { got = append(got, e.Type) })}}
	m.Emit(Event{Type: EventRetry})
	assert.Equal(t, []EventType{EventRetry}, got)
}
