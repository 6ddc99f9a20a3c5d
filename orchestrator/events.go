package orchestrator

import (
	"context"
	"encoding/json"
)

// EventType tags a stream event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventPlan     EventType = "plan"
	EventProgress EventType = "progress"
	EventToken    EventType = "token"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one element of a streamed turn. Which fields are meaningful
// depends on Type:
//
//	status   Message
//	plan     Tasks
//	progress Step, Total, Agent, Task
//	token    Content
//	complete Response
//	error    Message
type Event struct {
	Type     EventType
	Message  string
	Tasks    []string
	Step     int
	Total    int
	Agent    string
	Task     string
	Content  string
	Response string
}

// MarshalJSON writes the wire form: the type plus only the fields that
// belong to it.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus, EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	case EventPlan:
		tasks := e.Tasks
		if tasks == nil {
			tasks = []string{}
		}
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Tasks []string  `json:"tasks"`
		}{e.Type, tasks})
	case EventProgress:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Step  int       `json:"step"`
			Total int       `json:"total"`
			Agent string    `json:"agent"`
			Task  string    `json:"task"`
		}{e.Type, e.Step, e.Total, e.Agent, e.Task})
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventComplete:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Response string    `json:"response"`
		}{e.Type, e.Response})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type     EventType `json:"type"`
		Message  string    `json:"message"`
		Tasks    []string  `json:"tasks"`
		Step     int       `json:"step"`
		Total    int       `json:"total"`
		Agent    string    `json:"agent"`
		Task     string    `json:"task"`
		Content  string    `json:"content"`
		Response string    `json:"response"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Event(wire)
	return nil
}

type scopeKey struct{}

// turnScope carries the per-turn event sink through the graph nodes.
type turnScope struct {
	emit   func(Event)
	stream bool
}

func withScope(ctx context.Context, scope *turnScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFrom(ctx context.Context) *turnScope {
	if scope, ok := ctx.Value(scopeKey{}).(*turnScope); ok && scope != nil {
		return scope
	}
	return &turnScope{}
}

func (s *turnScope) send(ev Event) {
	if s.emit != nil {
		s.emit(ev)
	}
}
