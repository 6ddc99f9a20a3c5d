// Package cliutils assembles the engine and its collaborators from a
// config.Config for the command-line entrypoints.
package cliutils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/config"
	"github.com/lexcodex/arassist/extract"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/llm"
	"github.com/lexcodex/arassist/orchestrator"
	"github.com/lexcodex/arassist/persistence"
)

// Runtime is everything a command needs to run turns.
type Runtime struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *agents.Registry
	Client      *agents.Client
	Store       persistence.ConversationStore
	Checkpoints *persistence.CheckpointStore
	Engine      *orchestrator.Engine
	Prometheus  *prometheus.Registry

	closers []func() error
}

// Close releases stores, connections and telemetry files in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rt *Runtime) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// BootstrapRuntime wires the engine from cfg. The caller must Close it.
func BootstrapRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, Logger: logger, Prometheus: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()
	rt.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := orchestrator.NewMetrics(rt.Prometheus)

	rt.Registry = agents.NewRegistry(cfg.Agents.Manifest, logger.Named("agents"))
	if err := rt.Registry.Load(); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	telemetry, err := rt.buildTelemetry()
	if err != nil {
		return nil, err
	}

	agentPolicy := cfg.RetryPolicy()
	agentPolicy.OnRetry = metrics.RetryHook("agent")
	rt.Client = agents.NewClient(rt.Registry, agents.Options{
		Policy:    agentPolicy,
		Timeout:   cfg.Agents.Timeout,
		Logger:    logger.Named("agents"),
		Telemetry: telemetry,
	})

	rt.Store, err = rt.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Checkpoints.Enabled {
		rt.Checkpoints = persistence.NewCheckpointStore(cfg.Checkpoints.Path)
	}

	catalogue := orchestrator.AgentCatalogue{Registry: rt.Registry}
	if cfg.Agents.Discover {
		catalogue.Discoverer = rt.Client
	}
	llmPolicy := cfg.RetryPolicy()
	llmPolicy.OnRetry = metrics.RetryHook("llm")

	rt.Engine, err = orchestrator.NewEngine(orchestrator.Config{
		Model:              llm.NewInstrumentedModel(buildModel(cfg.LLM, logger), telemetry, cfg.Log.Level == "debug"),
		Agents:             rt.Client,
		Catalogue:          catalogue,
		Store:              rt.Store,
		Checkpoints:        rt.Checkpoints,
		CheckpointInterval: cfg.Checkpoints.Interval,
		Retry:              &llmPolicy,
		Scanner:            extract.MarkerScanner{},
		Telemetry:          telemetry,
		Metrics:            metrics,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// WatchAgents reloads the manifest on change until ctx ends.
func (rt *Runtime) WatchAgents(ctx context.Context) {
	if !rt.Config.Agents.Watch || rt.Config.Agents.Manifest == "" {
		return
	}
	go func() {
		if err := rt.Registry.Watch(ctx, 250*time.Millisecond); err != nil && !errors.Is(err, context.Canceled) {
			rt.Logger.Warn("agent manifest watch stopped", zap.Error(err))
		}
	}()
}

func (rt *Runtime) buildTelemetry() (framework.Telemetry, error) {
	sinks := []framework.Telemetry{framework.ZapTelemetry{Logger: rt.Logger.Named("telemetry")}}
	if path := rt.Config.Telemetry.File; path != "" {
		file, err := framework.NewJSONFileTelemetry(path)
		if err != nil {
			return nil, fmt.Errorf("open telemetry file: %w", err)
		}
		rt.onClose(file.Close)
		sinks = append(sinks, file)
	}
	return framework.MultiplexTelemetry{Sinks: sinks}, nil
}

func (rt *Runtime) buildStore(ctx context.Context) (persistence.ConversationStore, error) {
	sc := rt.Config.Store
	switch sc.Backend {
	case config.BackendMemory:
		return persistence.NewMemoryStore(), nil
	case config.BackendFile:
		return persistence.NewFileStore(sc.Path)
	case config.BackendSQLite:
		store, err := persistence.NewSQLiteStore(sc.Path)
		if err != nil {
			return nil, err
		}
		rt.onClose(store.Close)
		return store, nil
	case config.BackendNATS:
		nc, err := nats.Connect(sc.NATSURL, nats.Name("arassist"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		rt.onClose(func() error {
			return nc.Drain()
		})
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		return persistence.NewNATSStore(ctx, js, sc.Bucket, sc.TTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

func buildModel(lc config.LLMConfig, logger *zap.Logger) framework.LanguageModel {
	switch lc.Provider {
	case config.ProviderOpenAI:
		baseURL := lc.Endpoint
		if baseURL == config.DefaultOllamaEndpoint {
			baseURL = ""
		}
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  lc.APIKey,
			BaseURL: baseURL,
			Model:   lc.Model,
		})
		if lc.Timeout > 0 {
			client.Timeout = lc.Timeout
		}
		return client
	default:
		client := llm.NewClient(lc.Endpoint, lc.Model)
		if lc.Timeout > 0 {
			client.Timeout = lc.Timeout
		}
		client.Logger = logger.Named("ollama")
		client.Debug = logger.Core().Enabled(zap.DebugLevel)
		return client
	}
}
