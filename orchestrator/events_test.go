package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireForm(t *testing.T) {
	cases := []struct {
		event Event
		want  string
	}{
		{Event{Type: EventStatus, Message: "Analyzing your request"}, `{"type":"status","message":"Analyzing your request"}`},
		{Event{Type: EventPlan}, `{"type":"plan","tasks":[]}`},
		{Event{Type: EventProgress, Step: 1, Total: 2, Agent: "data_agent", Task: "find"}, `{"type":"progress","step":1,"total":2,"agent":"data_agent","task":"find"}`},
		{Event{Type: EventToken, Content: "Ac"}, `{"type":"token","content":"Ac"}`},
		{Event{Type: EventComplete, Response: "done"}, `{"type":"complete","response":"done"}`},
		{Event{Type: EventError, Message: "boom"}, `{"type":"error","message":"boom"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.event)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))
	}
}

func TestEventDecodesWireForm(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"progress","step":3,"total":4,"agent":"risk_agent","task":"score"}`), &ev))
	assert.Equal(t, Event{Type: EventProgress, Step: 3, Total: 4, Agent: "risk_agent", Task: "score"}, ev)
}
