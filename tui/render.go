package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/arassist/extract"
)

var charts extract.ChartScanner = extract.MarkerScanner{}

// RenderMessage converts a Message into a styled string for the viewport.
func RenderMessage(msg Message, width int) string {
	var b strings.Builder

	b.WriteString(renderMessageHeader(msg))
	b.WriteString("\n")

	switch msg.Role {
	case RoleUser:
		b.WriteString(textStyle.Render(msg.Content.Text))
	case RoleAssistant:
		b.WriteString(renderAssistantMessage(msg))
	case RoleSystem:
		b.WriteString(dimStyle.Render(msg.Content.Text))
	}

	if msg.Metadata.Duration > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("⏱  %s", formatDuration(msg.Metadata.Duration))))
	}

	boxWidth := max(0, width-4)
	return messageBoxStyle.Width(boxWidth).Render(b.String())
}

func renderMessageHeader(msg Message) string {
	timestamp := msg.Timestamp.Format("15:04:05")
	icon := "💬"
	roleText := "User"
	switch msg.Role {
	case RoleUser:
		icon = "👤"
		roleText = "You"
	case RoleAssistant:
		icon = "🤖"
		roleText = "Assistant"
	case RoleSystem:
		icon = "⚙️"
		roleText = "System"
	}
	return headerStyle.Render(fmt.Sprintf("%s [%s] %s", icon, timestamp, roleText))
}

func renderAssistantMessage(msg Message) string {
	var b strings.Builder

	if msg.Content.Plan != nil && len(msg.Content.Plan.Tasks) > 0 {
		b.WriteString(renderPlanSection(msg.Content.Plan))
		b.WriteString("\n")
	}

	if msg.Content.Status != "" {
		b.WriteString(inProgressStyle.Render("… " + msg.Content.Status))
		b.WriteString("\n")
	}

	if msg.Content.Text != "" {
		text, attached := charts.Extract(msg.Content.Text)
		b.WriteString(textStyle.Render(strings.TrimRight(text, "\n")))
		if n := len(attached); n > 0 {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(fmt.Sprintf("📊 %d chart(s) attached", n)))
		}
	}

	if msg.Content.Error != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(errorStyle.Render("✗ " + msg.Content.Error))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderPlanSection(plan *TaskPlan) string {
	var b strings.Builder
	completed := 0
	for _, task := range plan.Tasks {
		if task.Status == TaskCompleted {
			completed++
		}
	}
	b.WriteString(sectionHeaderStyle.Render(fmt.Sprintf("💡 Plan (%d/%d)", completed, len(plan.Tasks))))
	b.WriteString("\n")
	for _, task := range plan.Tasks {
		var icon string
		var style lipgloss.Style
		switch task.Status {
		case TaskCompleted:
			icon = "✅"
			style = completedStyle
		case TaskInProgress:
			icon = "⏳"
			style = inProgressStyle
		default:
			icon = "☐"
			style = pendingStyle
		}
		duration := ""
		if task.Status == TaskCompleted && !task.StartTime.IsZero() && !task.EndTime.IsZero() {
			duration = dimStyle.Render(fmt.Sprintf(" (%s)", formatDuration(task.EndTime.Sub(task.StartTime))))
		}
		b.WriteString(fmt.Sprintf("%s %s%s\n", icon, style.Render(task.Description), duration))
	}
	return b.String()
}
