package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrAgentNotFound indicates lookup failure.
var ErrAgentNotFound = errors.New("agent not found")

// AgentSpec addresses one remote agent.
type AgentSpec struct {
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description"`
}

type manifest struct {
	Agents []AgentSpec `yaml:"agents"`
}

// DefaultAgents is the catalogue used when no manifest is configured.
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{
			Name:        "data_agent",
			URL:         "http://localhost:8001",
			Description: "Retrieves partners, invoices, payments and aging balances from the ERP.",
		},
		{
			Name:        "risk_agent",
			URL:         "http://localhost:8002",
			Description: "Scores late-payment risk for a partner and explains the drivers.",
		},
		{
			Name:        "memory_agent",
			URL:         "http://localhost:8003",
			Description: "Stores and recalls notes and alerts about partners.",
		},
	}
}

// Registry tracks the remote agent catalogue and supports hot reloading from
// a YAML manifest.
type Registry struct {
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	agents  map[string]AgentSpec
	watchCh []chan struct{}
	loaded  time.Time
}

// NewRegistry builds a registry backed by the manifest at path. Call Load
// before use.
func NewRegistry(path string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		path:   path,
		logger: logger,
		agents: make(map[string]AgentSpec),
	}
}

// NewStaticRegistry builds a registry that is never reloaded.
func NewStaticRegistry(specs ...AgentSpec) *Registry {
	r := NewRegistry("", nil)
	r.agents = indexSpecs(specs)
	r.loaded = time.Now()
	return r
}

// ParseManifest decodes an agents manifest.
func ParseManifest(data []byte) ([]AgentSpec, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse agents manifest: %w", err)
	}
	for i, spec := range m.Agents {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("agents manifest: entry %d has no name", i)
		}
		if strings.TrimSpace(spec.URL) == "" {
			return nil, fmt.Errorf("agents manifest: agent %s has no url", spec.Name)
		}
		m.Agents[i].URL = strings.TrimRight(spec.URL, "/")
	}
	return m.Agents, nil
}

// Load reads the manifest. A registry without a manifest path serves
// DefaultAgents. On error the previous catalogue is kept.
func (r *Registry) Load() error {
	specs := DefaultAgents()
	if r.path != "" {
		data, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read agents manifest: %w", err)
		}
		specs, err = ParseManifest(data)
		if err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.agents = indexSpecs(specs)
	r.loaded = time.Now()
	r.broadcast()
	r.mu.Unlock()
	r.logger.Info("agent catalogue loaded", zap.String("path", r.path), zap.Int("agents", len(specs)))
	return nil
}

// Reload rereads the manifest and notifies subscribers.
func (r *Registry) Reload() error {
	return r.Load()
}

// List returns the catalogue sorted by name.
func (r *Registry) List() []AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]AgentSpec, 0, len(r.agents))
	for _, spec := range r.agents {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the sorted agent names.
func (r *Registry) Names() []string {
	specs := r.List()
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	return names
}

// Get retrieves an agent by name.
func (r *Registry) Get(name string) (AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.agents[name]
	return spec, ok
}

// LoadedAt reports when the catalogue was last loaded.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Subscribe registers a listener notified on reload events.
func (r *Registry) Subscribe() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{}, 1)
	r.watchCh = append(r.watchCh, ch)
	return ch
}

func (r *Registry) broadcast() {
	for _, ch := range r.watchCh {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch reloads the catalogue whenever the manifest changes, until ctx is
// done. The manifest's directory is watched so editors that replace the
// file by rename are picked up. Bursts of events are coalesced.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if r.path == "" {
		return errors.New("registry has no manifest to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(r.path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := r.Reload(); err != nil {
					r.logger.Warn("agent manifest reload failed", zap.String("path", r.path), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("agent manifest watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

func indexSpecs(specs []AgentSpec) map[string]AgentSpec {
	out := make(map[string]AgentSpec, len(specs))
	for _, spec := range specs {
		spec.URL = strings.TrimRight(spec.URL, "/")
		out[spec.Name] = spec
	}
	return out
}
