package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBar renders thread/model metadata plus turn count & duration.
type StatusBar struct {
	thread   string
	model    string
	state    string
	turns    int
	duration time.Duration
}

func (s StatusBar) View(width int) string {
	left := fmt.Sprintf("thread %s | model %s", truncate(s.thread, 24), s.model)
	if s.state != "" {
		left += " | " + s.state
	}
	right := fmt.Sprintf("%d turns | %s", s.turns, formatDuration(s.duration))
	padding := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return statusStyle.Render(left + strings.Repeat(" ", padding) + right)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:1]
	}
	return s[:n-1] + "…"
}
