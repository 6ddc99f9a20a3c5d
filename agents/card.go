package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Skill is one capability an agent declares.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Capabilities is an agent's self-description.
type Capabilities struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Skills      []Skill `json:"skills"`
}

// Summary renders the capabilities as one catalogue line body.
func (c *Capabilities) Summary() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Description))
	for _, skill := range c.Skills {
		desc := strings.TrimSpace(skill.Description)
		name := firstNonEmpty(skill.Name, skill.ID)
		if name == "" && desc == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		if desc == "" {
			b.WriteString(name)
			continue
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(desc)
	}
	return b.String()
}

// cardPaths are tried in order under an agent's base URL.
var cardPaths = []string{"/.well-known/agent.json", "/.well-known/agent-card.json"}

type cardEntry struct {
	once sync.Once
	caps *Capabilities
	err  error
}

type cardCache struct {
	mu      sync.Mutex
	entries map[string]*cardEntry
}

func (c *cardCache) entry(name string) *cardEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*cardEntry)
	}
	e, ok := c.entries[name]
	if !ok {
		e = &cardEntry{}
		c.entries[name] = e
	}
	return e
}

// Discover resolves an agent's capabilities once and caches the outcome,
// failures included. Callers treat an error as "capabilities unknown".
func (c *Client) Discover(ctx context.Context, name string) (*Capabilities, error) {
	spec, ok := c.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	e := c.cards.entry(name)
	e.once.Do(func() {
		e.caps, e.err = c.fetchCard(ctx, spec)
		if e.err != nil {
			c.logger.Warn("agent discovery failed", zap.String("agent", name), zap.Error(e.err))
		}
	})
	return e.caps, e.err
}

func (c *Client) fetchCard(ctx context.Context, spec AgentSpec) (*Capabilities, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var lastErr error
	for _, path := range cardPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("agent card %s: status %d", path, resp.StatusCode)
			continue
		}
		var caps Capabilities
		if err := json.Unmarshal(body, &caps); err != nil {
			return nil, fmt.Errorf("decode agent card: %w", err)
		}
		return &caps, nil
	}
	return nil, lastErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
