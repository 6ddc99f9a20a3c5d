package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/arassist/persistence"
)

// CommandHandler mutates model state for /commands in the prompt bar.
type CommandHandler func(Model, []string) (Model, tea.Cmd)

// Command describes a slash command entry.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

var commandRegistry = map[string]Command{}

func init() {
	registerCommand(Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handler:     handleHelp,
	})
	registerCommand(Command{
		Name:        "thread",
		Aliases:     []string{"t"},
		Description: "Show or switch the conversation thread",
		Usage:       "/thread [id]",
		Handler:     handleThread,
	})
	registerCommand(Command{
		Name:        "new",
		Aliases:     []string{"n"},
		Description: "Start a new conversation thread",
		Usage:       "/new",
		Handler:     handleNew,
	})
	registerCommand(Command{
		Name:        "clear",
		Aliases:     []string{"cls"},
		Description: "Clear the feed",
		Usage:       "/clear",
		Handler:     handleClear,
	})
	registerCommand(Command{
		Name:        "quit",
		Aliases:     []string{"q", "exit"},
		Description: "Exit the chat",
		Usage:       "/quit",
		Handler:     handleQuit,
	})
}

func registerCommand(cmd Command) {
	commandRegistry[cmd.Name] = cmd
}

func parseCommand(input string) (string, []string) {
	parts := strings.Fields(input)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", nil
	}
	return strings.TrimPrefix(parts[0], "/"), parts[1:]
}

func lookupCommand(name string) (Command, bool) {
	if cmd, ok := commandRegistry[name]; ok {
		return cmd, true
	}
	for _, registered := range commandRegistry {
		for _, alias := range registered.Aliases {
			if alias == name {
				return registered, true
			}
		}
	}
	return Command{}, false
}

func handleCommand(m Model, name string, args []string) (Model, tea.Cmd) {
	if name == "" {
		return m, nil
	}
	cmd, ok := lookupCommand(name)
	if !ok {
		return m.addSystemMessage(fmt.Sprintf("Unknown command: %s", name)), nil
	}
	return cmd.Handler(m, args)
}

func handleHelp(m Model, args []string) (Model, tea.Cmd) {
	if len(args) > 0 {
		if cmd, ok := lookupCommand(strings.TrimPrefix(args[0], "/")); ok {
			return m.addSystemMessage(fmt.Sprintf("%s - %s\nUsage: %s", cmd.Name, cmd.Description, cmd.Usage)), nil
		}
	}
	names := make([]string, 0, len(commandRegistry))
	for name := range commandRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	for _, name := range names {
		cmd := commandRegistry[name]
		b.WriteString(fmt.Sprintf("  %s - %s\n", cmd.Usage, cmd.Description))
	}
	return m.addSystemMessage(b.String()), nil
}

func handleThread(m Model, args []string) (Model, tea.Cmd) {
	if len(args) == 0 {
		return m.addSystemMessage("Current thread: " + m.threadID), nil
	}
	if m.streaming {
		return m.addSystemMessage("Wait for the current answer before switching threads"), nil
	}
	id := args[0]
	if err := persistence.ValidateThreadID(id); err != nil {
		return m.addSystemMessage(fmt.Sprintf("Invalid thread id %q: %v", id, err)), nil
	}
	return m.switchThread(id), nil
}

func handleNew(m Model, _ []string) (Model, tea.Cmd) {
	if m.streaming {
		return m.addSystemMessage("Wait for the current answer before starting a new thread"), nil
	}
	return m.switchThread(newThreadID()), nil
}

func (m Model) switchThread(id string) Model {
	m.threadID = id
	m.statusBar.thread = id
	m.statusBar.turns = 0
	m.statusBar.duration = 0
	m.messages = nil
	return m.addSystemMessage("Switched to thread " + id)
}

func handleClear(m Model, _ []string) (Model, tea.Cmd) {
	m.messages = nil
	return m, nil
}

func handleQuit(m Model, _ []string) (Model, tea.Cmd) {
	return m, tea.Quit
}
