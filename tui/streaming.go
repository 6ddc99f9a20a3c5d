package tui

import (
	"strings"
	"time"

	"github.com/lexcodex/arassist/orchestrator"
)

// StreamEventMsg carries one turn event into the Bubble Tea loop.
type StreamEventMsg struct {
	Event orchestrator.Event
}

// StreamCompleteMsg signals that the event channel closed.
type StreamCompleteMsg struct {
	Duration time.Duration
}

// StreamErrorMsg wraps turn failures for display.
type StreamErrorMsg struct {
	Error error
}

// MessageBuilder accumulates a streamed turn until it completes.
type MessageBuilder struct {
	startTime time.Time
	status    string
	text      strings.Builder
	plan      *TaskPlan
	final     string
	failed    string
}

// NewMessageBuilder starts a builder for a new turn.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{startTime: time.Now()}
}

// AddEvent folds the next turn event into the message.
func (mb *MessageBuilder) AddEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventStatus:
		mb.status = ev.Message
	case orchestrator.EventPlan:
		mb.plan = &TaskPlan{StartTime: time.Now(), Tasks: make([]Task, 0, len(ev.Tasks))}
		for _, desc := range ev.Tasks {
			mb.plan.Tasks = append(mb.plan.Tasks, Task{Description: desc, Status: TaskPending})
		}
		if len(ev.Tasks) == 0 {
			mb.status = "Answering directly"
		} else {
			mb.status = "Running plan"
		}
	case orchestrator.EventProgress:
		mb.markProgress(ev.Step)
		mb.status = "Asking " + ev.Agent
	case orchestrator.EventToken:
		if mb.text.Len() == 0 {
			mb.completeTasks()
			mb.status = "Writing answer"
		}
		mb.text.WriteString(ev.Content)
	case orchestrator.EventComplete:
		mb.completeTasks()
		mb.final = ev.Response
		mb.status = ""
	case orchestrator.EventError:
		mb.failed = ev.Message
		mb.status = ""
	}
}

// markProgress marks step (1-based) in progress and every earlier step done.
func (mb *MessageBuilder) markProgress(step int) {
	if mb.plan == nil {
		return
	}
	now := time.Now()
	for i := range mb.plan.Tasks {
		task := &mb.plan.Tasks[i]
		switch {
		case i < step-1 && task.Status != TaskCompleted:
			task.Status = TaskCompleted
			task.EndTime = now
		case i == step-1:
			task.Status = TaskInProgress
			task.StartTime = now
		}
	}
}

func (mb *MessageBuilder) completeTasks() {
	if mb.plan == nil {
		return
	}
	now := time.Now()
	for i := range mb.plan.Tasks {
		if mb.plan.Tasks[i].Status != TaskCompleted {
			mb.plan.Tasks[i].Status = TaskCompleted
			mb.plan.Tasks[i].EndTime = now
		}
	}
}

// Failed returns the error message of a failed turn.
func (mb *MessageBuilder) Failed() string {
	return mb.failed
}

// Status is the live status line of the turn.
func (mb *MessageBuilder) Status() string {
	return mb.status
}

// Build finalizes the streamed turn into an assistant message.
func (mb *MessageBuilder) Build(duration time.Duration) Message {
	text := mb.final
	if text == "" {
		text = mb.text.String()
	}
	return Message{
		ID:        generateID(),
		Timestamp: mb.startTime,
		Role:      RoleAssistant,
		Content:   MessageContent{Text: text, Plan: clonePlan(mb.plan), Error: mb.failed},
		Metadata:  MessageMetadata{Duration: duration},
	}
}

// BuildPartial renders the in-progress response.
func (mb *MessageBuilder) BuildPartial() Message {
	return Message{
		ID:        streamingID,
		Timestamp: mb.startTime,
		Role:      RoleAssistant,
		Content: MessageContent{
			Text:   mb.text.String(),
			Plan:   clonePlan(mb.plan),
			Status: mb.status,
		},
	}
}

func clonePlan(plan *TaskPlan) *TaskPlan {
	if plan == nil {
		return nil
	}
	cp := *plan
	cp.Tasks = append([]Task(nil), plan.Tasks...)
	return &cp
}
