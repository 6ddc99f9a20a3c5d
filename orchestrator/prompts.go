package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lexcodex/arassist/framework"
)

// HistoryWindow is how many of the most recent messages are shown to the
// planner and the synthesizer.
const HistoryWindow = 10

const routerTemplate = `You are the router of an accounts-receivable portfolio assistant. Decide which specialist agents must be called, in order, to answer the user's latest message.

Available agents:
%s

Conversation so far:
%s

Known identifiers:
%s

User message: %s

Rules:
- Reply with a JSON array only, no prose. Each element is {"agent": "<agent name>", "task": "<instruction for that agent>"}.
- Use at most %d steps. Order them so later steps can use identifiers found by earlier ones.
- Reuse the known identifiers verbatim; never invent a partner_id.
- Reply with [] when the conversation already contains everything needed to answer.`

const stepTemplate = `%sTASK: %s

Use only the identifiers listed above or ones you look up yourself. Never fabricate a partner_id or any other identifier.`

const finalTemplate = `You are an accounts-receivable portfolio assistant. Answer the user's message using the data gathered by the specialist agents.

Conversation so far:
%s

User message: %s

Data gathered for this message:
%s

Answer concisely in the user's language. Quote figures and identifiers exactly as they appear in the data. If the data does not answer the question, say so.`

const directTemplate = `You are an accounts-receivable portfolio assistant. No agent was consulted for this message; answer from the conversation so far.

Conversation so far:
%s

User message: %s

Answer concisely in the user's language. If answering would require data that is not in the conversation, say which data is missing.`

// renderHistory renders the last HistoryWindow messages as "User:" and
// "Assistant:" lines, dropping the oldest first.
func renderHistory(history []framework.Message) string {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if len(history) == 0 {
		return "(no previous messages)"
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		speaker := "User"
		if msg.Role == framework.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.Content))
	}
	return strings.Join(lines, "\n")
}

func renderCatalogue(entries []CatalogueEntry) string {
	if len(entries) == 0 {
		return "(no agents available)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.Name, e.Description))
	}
	return strings.Join(lines, "\n")
}
