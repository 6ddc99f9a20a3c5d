package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update applies incoming Bubble Tea messages to mutate the Model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "ctrl+l":
			m.messages = nil
			return m.refreshFeedContent(), nil
		}
		switch m.mode {
		case ModeNormal:
			return m.handleNormalMode(msg)
		case ModeCommand:
			return m.handleCommandMode(msg)
		}
	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case StreamEventMsg:
		return m.handleStreamEvent(msg)
	case StreamCompleteMsg:
		return m.handleStreamComplete(msg)
	case StreamErrorMsg:
		return m.handleStreamError(msg)
	}
	return m, nil
}

// handleResize adjusts the feed/input layout on terminal resize events.
func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	statusBarHeight := 1
	promptBarHeight := 1
	feedHeight := max(1, msg.Height-statusBarHeight-promptBarHeight)

	if !m.ready {
		v := viewport.New(msg.Width, feedHeight)
		m.feed = &v
		m.ready = true
	} else {
		m.feed.Width = msg.Width
		m.feed.Height = feedHeight
	}
	m.input.Width = max(10, msg.Width-4)
	return m.refreshFeedContent(), nil
}

func (m Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyRunes && msg.String() == "/" && strings.TrimSpace(m.input.Value()) == "" {
		m.mode = ModeCommand
		m.input.SetValue("/")
		m.input.CursorEnd()
		return m, nil
	}
	switch msg.String() {
	case "enter":
		return m.submitPrompt()
	case "up", "down", "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		*m.feed, cmd = m.feed.Update(msg)
		m.autoFollow = m.feed.AtBottom()
		return m, cmd
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// handleCommandMode processes slash-prefixed commands.
func (m Model) handleCommandMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		m.mode = ModeNormal
		if raw == "" || raw == "/" {
			return m, nil
		}
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		name, args := parseCommand(raw)
		updated, cmd := handleCommand(m, name, args)
		return updated.refreshFeedContent(), cmd
	case "esc":
		m.mode = ModeNormal
		m.input.SetValue("")
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// handleStreamEvent updates the live message as turn events arrive.
func (m Model) handleStreamEvent(msg StreamEventMsg) (tea.Model, tea.Cmd) {
	if !m.streaming || m.streamBuf == nil {
		return m, nil
	}
	m.streamBuf.AddEvent(msg.Event)
	partial := m.streamBuf.BuildPartial()
	if n := len(m.messages); n > 0 && m.messages[n-1].ID == streamingID {
		m.messages[n-1] = partial
	} else {
		m.messages = append(m.messages, partial)
	}
	m = m.refreshFeedContent()
	return m, listenToStream(m.streamCh)
}

// handleStreamComplete finalizes the message once the channel closes.
func (m Model) handleStreamComplete(msg StreamCompleteMsg) (tea.Model, tea.Cmd) {
	if !m.streaming || m.streamBuf == nil {
		return m, nil
	}
	final := m.streamBuf.Build(msg.Duration)
	if n := len(m.messages); n > 0 && m.messages[n-1].ID == streamingID {
		m.messages[n-1] = final
	} else {
		m.messages = append(m.messages, final)
	}
	if final.Content.Error == "" {
		m.statusBar.turns++
	}
	m.statusBar.duration += msg.Duration
	m.statusBar.state = ""
	m.streaming = false
	m.streamBuf = nil
	m.streamCh = nil
	return m.refreshFeedContent(), nil
}

// handleStreamError reports a turn that could not start.
func (m Model) handleStreamError(msg StreamErrorMsg) (tea.Model, tea.Cmd) {
	m.streaming = false
	m.streamBuf = nil
	m.streamCh = nil
	m.statusBar.state = ""
	return m.addSystemMessage(fmt.Sprintf("turn error: %v", msg.Error)), nil
}

func (m Model) addSystemMessage(text string) Model {
	m.messages = append(m.messages, Message{
		ID:        generateID(),
		Timestamp: time.Now(),
		Role:      RoleSystem,
		Content:   MessageContent{Text: text},
	})
	return m.refreshFeedContent()
}

// listenToStream adapts Go channels to Bubble Tea commands for streaming.
func listenToStream(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
