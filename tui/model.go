// Package tui is a terminal chat client for the turn engine. Answers stream
// into a scrollable feed while the plan and agent progress update live.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/lexcodex/arassist/orchestrator"
)

const (
	streamingID = "streaming"
	turnTimeout = 10 * time.Minute
)

// Streamer runs a streamed turn. *orchestrator.Engine implements it.
type Streamer interface {
	StreamTurn(ctx context.Context, message, threadID string) (<-chan orchestrator.Event, error)
}

// Options configures the chat client.
type Options struct {
	// ThreadID continues an existing conversation; empty starts a new one.
	ThreadID string
	Model    string
}

// Run starts the chat client and blocks until the user quits.
func Run(ctx context.Context, streamer Streamer, opts Options) error {
	if streamer == nil {
		return errors.New("streamer is required")
	}
	program := tea.NewProgram(
		NewModel(ctx, streamer, opts),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := program.Run()
	return err
}

// Model implements the Bubble Tea Model interface and coordinates the feed,
// prompt bar, and status bar.
type Model struct {
	ctx      context.Context
	streamer Streamer
	threadID string

	feed    *viewport.Model
	input   textinput.Model
	spinner spinner.Model

	statusBar StatusBar
	messages  []Message

	width  int
	height int
	ready  bool

	mode InputMode

	streaming bool
	streamBuf *MessageBuilder
	streamCh  chan tea.Msg

	autoFollow bool
}

// InputMode tracks the role of the prompt bar.
type InputMode int

const (
	ModeNormal InputMode = iota
	ModeCommand
)

// Message is one entry of the feed.
type Message struct {
	ID        string
	Timestamp time.Time
	Role      MessageRole
	Content   MessageContent
	Metadata  MessageMetadata
}

// MessageRole identifies the role of each entry in the feed.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageContent holds the text plus the plan the turn ran.
type MessageContent struct {
	Text   string
	Plan   *TaskPlan
	Status string
	Error  string
}

// TaskPlan is the plan announced by the router.
type TaskPlan struct {
	Tasks     []Task
	StartTime time.Time
}

// Task is one plan step as shown in the feed.
type Task struct {
	Description string
	Status      TaskStatus
	StartTime   time.Time
	EndTime     time.Time
}

// TaskStatus enumerates plan state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// MessageMetadata contains per-message metrics.
type MessageMetadata struct {
	Duration time.Duration
}

// NewModel initializes the prompt/input/feed model.
func NewModel(ctx context.Context, streamer Streamer, opts Options) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = newThreadID()
	}
	input := textinput.New()
	input.Placeholder = "Ask about your receivables or /help for commands"
	input.Focus()

	v := viewport.New(0, 0)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:        ctx,
		streamer:   streamer,
		threadID:   threadID,
		feed:       &v,
		input:      input,
		spinner:    sp,
		statusBar:  StatusBar{thread: threadID, model: opts.Model},
		messages:   []Message{},
		mode:       ModeNormal,
		autoFollow: true,
	}
}

func newThreadID() string {
	return "chat-" + uuid.NewString()[:8]
}

// ThreadID returns the conversation the model is attached to.
func (m Model) ThreadID() string {
	return m.threadID
}

// submitPrompt sends the current input as a new turn.
func (m Model) submitPrompt() (Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" || m.streaming {
		return m, nil
	}
	m.messages = append(m.messages, Message{
		ID:        generateID(),
		Timestamp: time.Now(),
		Role:      RoleUser,
		Content:   MessageContent{Text: value},
	})
	m.input.SetValue("")
	m.mode = ModeNormal

	m.streaming = true
	m.streamBuf = NewMessageBuilder()
	m.statusBar.state = "working"
	m = m.refreshFeedContent()

	ch := make(chan tea.Msg)
	m.streamCh = ch
	go runTurnStream(m.ctx, m.streamer, ch, value, m.threadID)

	return m, tea.Batch(listenToStream(ch), m.spinner.Tick)
}

// runTurnStream forwards the engine's events into ch and closes it.
func runTurnStream(parent context.Context, streamer Streamer, ch chan<- tea.Msg, prompt, threadID string) {
	defer close(ch)
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, turnTimeout)
	defer cancel()

	events, err := streamer.StreamTurn(ctx, prompt, threadID)
	if err != nil {
		ch <- StreamErrorMsg{Error: err}
		return
	}
	for ev := range events {
		ch <- StreamEventMsg{Event: ev}
	}
	ch <- StreamCompleteMsg{Duration: time.Since(start)}
}

// generateID produces a lightweight unique identifier for feed entries.
func generateID() string {
	return fmt.Sprintf("msg-%d", time.Now().UnixNano())
}

// refreshFeedContent ensures the viewport reflects the latest messages.
func (m Model) refreshFeedContent() Model {
	if !m.ready || m.feed == nil {
		return m
	}
	m.feed.SetContent(m.renderMessages())
	if m.autoFollow {
		m.feed.GotoBottom()
	}
	return m
}
