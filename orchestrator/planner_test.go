package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/llm/testutil"
)

func knownAgents(names ...string) func(string) bool {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestParsePlanMalformedYieldsEmpty(t *testing.T) {
	for _, text := range []string{
		"not json",
		"",
		`{"agent":"data_agent","task":"x"}`,
		`{"plan":[{"agent":"data_agent"}]}`,
		`[{"agent":"data_agent",`,
		"```json\nnope\n```",
	} {
		plan := ParsePlan(text, nil)
		assert.NotNil(t, plan, text)
		assert.Empty(t, plan, text)
	}
}

func TestParsePlanFencesAndTrailingCommas(t *testing.T) {
	text := "Here is the plan:\n```json\n[\n  {\"agent\": \"data_agent\", \"task\": \"find client Acme\"},\n  {\"agent\": \"risk_agent\", \"task\": \"score Acme\"},\n]\n```"
	plan := ParsePlan(text, nil)
	require.Len(t, plan, 2)
	assert.Equal(t, framework.Step{Agent: "data_agent", Task: "find client Acme"}, plan[0])
	assert.Equal(t, framework.Step{Agent: "risk_agent", Task: "score Acme"}, plan[1])
}

func TestParsePlanProseAroundArray(t *testing.T) {
	plan := ParsePlan(`Sure. [{"agent":"data_agent","task":"list overdue"}] Done.`, nil)
	require.Len(t, plan, 1)
	assert.Equal(t, "list overdue", plan[0].Task)
}

func TestParsePlanSkipsMalformedEntries(t *testing.T) {
	text := `[
		"data_agent",
		{"task": "no agent"},
		{"agent": 7, "task": "numeric agent"},
		{"agent": "  ", "task": "blank agent"},
		{"agent": "data_agent"},
		{"agent": "risk_agent", "task": null},
		{"agent": "memory_agent", "task": 12}
	]`
	plan := ParsePlan(text, nil)
	require.Len(t, plan, 3)
	assert.Equal(t, framework.Step{Agent: "data_agent", Task: ""}, plan[0])
	assert.Equal(t, framework.Step{Agent: "risk_agent", Task: ""}, plan[1])
	assert.Equal(t, framework.Step{Agent: "memory_agent", Task: "12"}, plan[2])
}

func TestParsePlanTruncatesToMaxSteps(t *testing.T) {
	var items []string
	for i := 1; i <= 12; i++ {
		items = append(items, fmt.Sprintf(`{"agent":"data_agent","task":"step %d"}`, i))
	}
	plan := ParsePlan("["+strings.Join(items, ",")+"]", nil)
	require.Len(t, plan, framework.MaxPlanSteps)
	assert.Equal(t, "step 1", plan[0].Task)
	assert.Equal(t, "step 8", plan[7].Task)
}

func TestParsePlanDropsUnknownAgents(t *testing.T) {
	text := `[{"agent":"data_agent","task":"a"},{"agent":"weather_agent","task":"b"},{"agent":"risk_agent","task":"c"}]`
	plan := ParsePlan(text, knownAgents("data_agent", "risk_agent"))
	assert.Equal(t, []string{"data_agent: a", "risk_agent: c"}, plan.Tasks())
}

func TestParsePlanTrailingProseAfterArray(t *testing.T) {
	text := "[{\"agent\":\"data_agent\",\"task\":\"find Acme\"}]\nHope this helps!"
	assert.Equal(t, []string{"data_agent: find Acme"}, ParsePlan(text, nil).Tasks())
}

func TestParsePlanTruncatesBeforeDroppingUnknownAgents(t *testing.T) {
	var items []string
	for i := 1; i <= 12; i++ {
		agent := "data_agent"
		if i%2 == 0 {
			agent = "weather_agent"
		}
		items = append(items, fmt.Sprintf(`{"agent":%q,"task":"step %d"}`, agent, i))
	}
	plan := ParsePlan("["+strings.Join(items, ",")+"]", knownAgents("data_agent"))
	assert.Equal(t, []string{
		"data_agent: step 1", "data_agent: step 3", "data_agent: step 5", "data_agent: step 7",
	}, plan.Tasks())
}

type staticCatalogue []CatalogueEntry

func (c staticCatalogue) Entries(context.Context) []CatalogueEntry { return c }
func (c staticCatalogue) Has(name string) bool {
	for _, e := range c {
		if e.Name == name {
			return true
		}
	}
	return false
}

func historyOf(contents ...string) []framework.Message {
	msgs := make([]framework.Message, len(contents))
	for i, c := range contents {
		role := framework.RoleUser
		if i%2 == 1 {
			role = framework.RoleAssistant
		}
		msgs[i] = framework.Message{Seq: uint64(i + 1), Role: role, Content: c}
	}
	return msgs
}

func TestPlannerPromptContents(t *testing.T) {
	planner := NewPlanner(&testutil.MockModel{}, staticCatalogue{{Name: "data_agent", Description: "ERP lookups"}}, nil)
	var contents []string
	for i := 1; i <= 12; i++ {
		contents = append(contents, fmt.Sprintf("message %02d", i))
	}
	prompt := planner.Prompt(context.Background(), "what about Acme?", historyOf(contents...), extract.IdentifierMap{"Acme Corp": 42})

	assert.Contains(t, prompt, "- data_agent: ERP lookups")
	assert.Contains(t, prompt, "- Acme Corp: partner_id = 42")
	assert.Contains(t, prompt, "User message: what about Acme?")
	assert.NotContains(t, prompt, "message 01")
	assert.NotContains(t, prompt, "message 02")
	assert.Contains(t, prompt, "User: message 03")
	assert.Contains(t, prompt, "Assistant: message 12")

	empty := planner.Prompt(context.Background(), "hi", nil, nil)
	assert.Contains(t, empty, "Known identifiers:\nnone available")
}

func TestPlannerPlan(t *testing.T) {
	mock := &testutil.MockModel{Replies: []testutil.Reply{
		{Text: "```json\n[{\"agent\":\"data_agent\",\"task\":\"find client Acme\"}]\n```"},
	}}
	planner := NewPlanner(mock, staticCatalogue{{Name: "data_agent"}}, nil)
	plan, err := planner.Plan(context.Background(), "find Acme", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, framework.Plan{{Agent: "data_agent", Task: "find client Acme"}}, plan)
	assert.Equal(t, 1, mock.Calls())
}

func TestPlannerPlanCompletionError(t *testing.T) {
	boom := errors.New("provider down")
	planner := NewPlanner(&testutil.MockModel{Replies: []testutil.Reply{{Err: boom}}}, nil, nil)
	_, err := planner.Plan(context.Background(), "q", nil, nil)
	assert.ErrorIs(t, err, boom)
}

type fakeDiscoverer map[string]*agents.Capabilities

func (f fakeDiscoverer) Discover(_ context.Context, name string) (*agents.Capabilities, error) {
	if caps, ok := f[name]; ok {
		return caps, nil
	}
	return nil, errors.New("no card")
}

func TestAgentCatalogueUsesLiveCapabilities(t *testing.T) {
	reg := agents.NewStaticRegistry(
		agents.AgentSpec{Name: "data_agent", URL: "http://d", Description: "static data"},
		agents.AgentSpec{Name: "risk_agent", URL: "http://r"},
	)
	cat := AgentCatalogue{Registry: reg, Discoverer: fakeDiscoverer{
		"data_agent": {Description: "Live ERP access", Skills: []agents.Skill{{Name: "Aging", Description: "aging buckets"}}},
	}}
	entries := cat.Entries(context.Background())
	require.Len(t, entries, 2)
	assert.Equal(t, CatalogueEntry{Name: "data_agent", Description: "Live ERP access; Aging: aging buckets"}, entries[0])
	assert.Equal(t, CatalogueEntry{Name: "risk_agent", Description: "Risk Agent"}, entries[1])
	assert.True(t, cat.Has("risk_agent"))
	assert.False(t, cat.Has("weather_agent"))

	static := AgentCatalogue{Registry: reg}
	assert.Equal(t, "static data", static.Entries(context.Background())[0].Description)
}
