package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
)

// CatalogueEntry describes one agent to the planner.
type CatalogueEntry struct {
	Name        string
	Description string
}

// Catalogue lists the agents the planner may choose from.
type Catalogue interface {
	Entries(ctx context.Context) []CatalogueEntry
	Has(name string) bool
}

// Discoverer resolves live agent capabilities. *agents.Client implements it.
type Discoverer interface {
	Discover(ctx context.Context, name string) (*agents.Capabilities, error)
}

// AgentCatalogue describes registry agents, preferring the capabilities an
// agent publishes over the static manifest description.
type AgentCatalogue struct {
	Registry   *agents.Registry
	Discoverer Discoverer
}

// Entries implements Catalogue. Discovery failures fall back silently to
// the manifest text.
func (c AgentCatalogue) Entries(ctx context.Context) []CatalogueEntry {
	specs := c.Registry.List()
	entries := make([]CatalogueEntry, 0, len(specs))
	for _, spec := range specs {
		desc := spec.Description
		if c.Discoverer != nil {
			if caps, err := c.Discoverer.Discover(ctx, spec.Name); err == nil {
				if summary := caps.Summary(); summary != "" {
					desc = summary
				}
			}
		}
		if desc == "" {
			desc = agents.DisplayName(spec.Name)
		}
		entries = append(entries, CatalogueEntry{Name: spec.Name, Description: desc})
	}
	return entries
}

// Has implements Catalogue.
func (c AgentCatalogue) Has(name string) bool {
	_, ok := c.Registry.Get(name)
	return ok
}

// Planner asks the language model for the turn's plan.
type Planner struct {
	model     framework.LanguageModel
	catalogue Catalogue
	options   *framework.LLMOptions
	logger    *zap.Logger
}

// NewPlanner builds a planner. The model should already carry the retry
// policy.
func NewPlanner(model framework.LanguageModel, catalogue Catalogue, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		model:     model,
		catalogue: catalogue,
		options:   &framework.LLMOptions{Temperature: 0},
		logger:    logger,
	}
}

// Prompt renders the router prompt.
func (p *Planner) Prompt(ctx context.Context, query string, history []framework.Message, known extract.IdentifierMap) string {
	var entries []CatalogueEntry
	if p.catalogue != nil {
		entries = p.catalogue.Entries(ctx)
	}
	return fmt.Sprintf(routerTemplate,
		renderCatalogue(entries),
		renderHistory(history),
		extract.RenderIdentifiers(known),
		query,
		framework.MaxPlanSteps,
	)
}

// Plan returns the steps for query. Malformed model output yields an empty
// plan; a failed completion is returned as an error for the caller to
// degrade.
func (p *Planner) Plan(ctx context.Context, query string, history []framework.Message, known extract.IdentifierMap) (framework.Plan, error) {
	resp, err := p.model.Generate(ctx, p.Prompt(ctx, query, history, known), p.options)
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}
	var isKnown func(string) bool
	if p.catalogue != nil {
		isKnown = p.catalogue.Has
	}
	plan := ParsePlan(resp.Text, isKnown)
	p.logger.Debug("plan parsed", zap.Int("steps", len(plan)), zap.Strings("tasks", plan.Tasks()))
	return plan, nil
}

var (
	codeFence     = regexp.MustCompile("(?s)```[A-Za-z]*\\s*\\n?(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ParsePlan reads a JSON array of {agent, task} objects from model output.
// Code fences are stripped, trailing commas tolerated and prose around the
// array ignored. Elements that are not objects with a non-empty string
// "agent" are skipped; "task" defaults to "". Only the first
// framework.MaxPlanSteps well-formed elements are considered, and of those
// agents rejected by known (when non-nil) are dropped. Anything else yields
// an empty plan.
func ParsePlan(text string, known func(string) bool) framework.Plan {
	body := strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(body, "{") {
		return framework.Plan{}
	}
	items, ok := decodeArray(body)
	if !ok {
		start := strings.Index(body, "[")
		end := strings.LastIndex(body, "]")
		if start < 0 || end < start {
			return framework.Plan{}
		}
		if items, ok = decodeArray(body[start : end+1]); !ok {
			return framework.Plan{}
		}
	}
	plan := make(framework.Plan, 0, min(len(items), framework.MaxPlanSteps))
	wellFormed := 0
	for _, item := range items {
		if wellFormed == framework.MaxPlanSteps {
			break
		}
		step, ok := parseStep(item)
		if !ok {
			continue
		}
		wellFormed++
		if known != nil && !known(step.Agent) {
			continue
		}
		plan = append(plan, step)
	}
	return plan
}

func decodeArray(body string) ([]json.RawMessage, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err == nil {
		return items, true
	}
	cleaned := trailingComma.ReplaceAllString(body, "$1")
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, false
	}
	return items, true
}

func parseStep(item json.RawMessage) (framework.Step, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
		return framework.Step{}, false
	}
	rawAgent, ok := obj["agent"]
	if !ok {
		return framework.Step{}, false
	}
	var agent string
	if err := json.Unmarshal(rawAgent, &agent); err != nil {
		return framework.Step{}, false
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return framework.Step{}, false
	}
	var task string
	if rawTask, ok := obj["task"]; ok {
		if err := json.Unmarshal(rawTask, &task); err != nil {
			task = string(rawTask)
		}
	}
	return framework.Step{Agent: agent, Task: strings.TrimSpace(task)}, true
}
