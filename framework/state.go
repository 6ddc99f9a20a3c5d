package framework

import (
	"encoding/json"
	"time"
)

// MaxPlanSteps bounds how many steps a single turn may execute.
const MaxPlanSteps = 8

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a thread's append-only log. Seq is assigned by the
// conversation store and increases monotonically per thread.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Step is a single {agent, task} instruction produced by the planner.
type Step struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// Plan is the ordered list of steps for a turn. An empty plan means the turn
// is answered directly from history.
type Plan []Step

// Tasks renders each step as "agent: task" for status displays.
func (p Plan) Tasks() []string {
	out := make([]string, 0, len(p))
	for _, step := range p {
		out = append(out, step.Agent+": "+step.Task)
	}
	return out
}

// TurnState is the blackboard threaded through the turn graph. Plan, Cursor
// and CollectedData are reset at the start of every turn.
type TurnState struct {
	ThreadID      string            `json:"thread_id"`
	TurnID        string            `json:"turn_id"`
	Query         string            `json:"query"`
	History       []Message         `json:"history"`
	Plan          Plan              `json:"plan"`
	Cursor        int               `json:"cursor"`
	CollectedData []string          `json:"collected_data"`
	Answer        string            `json:"answer,omitempty"`
	Charts        []json.RawMessage `json:"charts,omitempty"`
}

// NewTurnState prepares a fresh turn over the supplied history.
func NewTurnState(threadID, turnID, query string, history []Message) *TurnState {
	return &TurnState{
		ThreadID:      threadID,
		TurnID:        turnID,
		Query:         query,
		History:       append([]Message(nil), history...),
		CollectedData: []string{},
	}
}

// Done reports whether every planned step has been executed.
func (s *TurnState) Done() bool {
	return s.Cursor >= len(s.Plan)
}

// CurrentStep returns the step under the cursor.
func (s *TurnState) CurrentStep() (Step, bool) {
	if s.Done() || s.Cursor < 0 {
		return Step{}, false
	}
	return s.Plan[s.Cursor], true
}

// HistoryText returns the contents of the history messages in order.
func (s *TurnState) HistoryText() []string {
	out := make([]string, 0, len(s.History))
	for _, msg := range s.History {
		out = append(out, msg.Content)
	}
	return out
}

// Clone deep-copies the state so checkpoints are isolated from later steps.
func (s *TurnState) Clone() *TurnState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.History = append([]Message(nil), s.History...)
	clone.Plan = append(Plan(nil), s.Plan...)
	clone.CollectedData = append([]string(nil), s.CollectedData...)
	if s.Charts != nil {
		clone.Charts = make([]json.RawMessage, len(s.Charts))
		for i, chart := range s.Charts {
			clone.Charts[i] = append(json.RawMessage(nil), chart...)
		}
	}
	return &clone
}
