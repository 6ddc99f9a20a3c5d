// Package config loads arassist settings. Environment variables prefixed
// with ARASSIST_ override the YAML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/arassist/llm"
)

const (
	envPrefix  = "ARASSIST"
	configName = "arassist"
	configType = "yaml"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// LLM providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	// DefaultOllamaEndpoint is the llm.endpoint default. The openai provider
	// treats it as unset and uses the SDK's base URL.
	DefaultOllamaEndpoint = "http://localhost:11434"
)

// Config is the full runtime configuration.
type Config struct {
	Log         LogConfig        `mapstructure:"log"`
	LLM         LLMConfig        `mapstructure:"llm"`
	Retry       RetryConfig      `mapstructure:"retry"`
	Agents      AgentsConfig     `mapstructure:"agents"`
	Store       StoreConfig      `mapstructure:"store"`
	Checkpoints CheckpointConfig `mapstructure:"checkpoints"`
	Server      ServerConfig     `mapstructure:"server"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

type AgentsConfig struct {
	// Manifest is the agents.yaml path; empty uses the built-in agents.
	Manifest string        `mapstructure:"manifest"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Watch    bool          `mapstructure:"watch"`
	Discover bool          `mapstructure:"discover"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the directory for the file backend and the database file for
	// sqlite.
	Path    string        `mapstructure:"path"`
	NATSURL string        `mapstructure:"nats_url"`
	Bucket  string        `mapstructure:"bucket"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type CheckpointConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Interval int    `mapstructure:"interval"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

type TelemetryConfig struct {
	// File receives graph events as NDJSON when set.
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("llm.endpoint", DefaultOllamaEndpoint)
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", llm.DefaultCallTimeout)

	policy := llm.DefaultRetryPolicy()
	v.SetDefault("retry.max_retries", policy.MaxRetries)
	v.SetDefault("retry.base_delay", policy.BaseDelay)
	v.SetDefault("retry.max_delay", policy.MaxDelay)

	v.SetDefault("agents.manifest", "")
	v.SetDefault("agents.timeout", 5*time.Minute)
	v.SetDefault("agents.watch", true)
	v.SetDefault("agents.discover", true)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.path", ".arassist/threads")
	v.SetDefault("store.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("store.bucket", "arassist_threads")
	v.SetDefault("store.ttl", time.Duration(0))

	v.SetDefault("checkpoints.enabled", false)
	v.SetDefault("checkpoints.path", ".arassist/checkpoints")
	v.SetDefault("checkpoints.interval", 1)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.turn_timeout", 10*time.Minute)

	v.SetDefault("telemetry.file", "")
}

// Load reads path when given, otherwise looks for arassist.yaml in the
// working directory. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendNATS:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if c.Checkpoints.Interval < 1 {
		return errors.New("checkpoints.interval must be at least 1")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: expected json or console, got %q", c.Log.Format)
	}
	return nil
}

// RetryPolicy converts the retry section into an llm.RetryPolicy.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// NewLogger builds the process logger: JSON for production, colored console
// output for "console".
func NewLogger(c LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
