// Package config provides configuration loading and management for Bloom.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/bloom/imaging"
	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/storage"
)

// Config represents the complete Bloom configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Model pins every capability to one endpoint name (e.g. "llava").
	// Empty keeps the per-capability preferences.
	Model string `yaml:"model,omitempty"`

	// Models overlays the built-in model registry.
	Models *model.RegistryConfig `yaml:"models,omitempty"`

	Retry   llm.RetryConfig `yaml:"retry"`
	Prompts PromptsConfig   `yaml:"prompts"`
	NATS    NATSConfig      `yaml:"nats"`
	Log     LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `yaml:"addr"`
	// AllowedOrigin is sent as Access-Control-Allow-Origin (default: "*")
	AllowedOrigin string `yaml:"allowed_origin"`
}

// PipelineConfig bounds a single run
type PipelineConfig struct {
	// Timeout caps the wall time of one run (default: 2m)
	Timeout time.Duration `yaml:"timeout"`
	// MaxImageBytes caps the decoded size of an attached image
	MaxImageBytes int `yaml:"max_image_bytes"`
}

// PromptsConfig configures prompt template overrides
type PromptsConfig struct {
	// Dir holds <pillar>.<action>.tmpl and router.tmpl overrides (empty = built-ins only)
	Dir string `yaml:"dir"`
	// Watch reloads templates when files in Dir change
	Watch bool `yaml:"watch"`
	// Debounce coalesces bursts of file events
	Debounce time.Duration `yaml:"debounce"`
}

// NATSConfig configures the NATS connection used for call and run records
type NATSConfig struct {
	// URL is the NATS server URL (empty = records are not published)
	URL string `yaml:"url"`
	// CallSubject receives one record per model call
	CallSubject string `yaml:"call_subject"`
	// RunSubject receives one record per pipeline run
	RunSubject string `yaml:"run_subject"`
	// RunBucket is the JetStream KV bucket runs are kept in for lookup
	RunBucket string `yaml:"run_bucket"`
	// RunTTL bounds how long run records are kept
	RunTTL time.Duration `yaml:"run_ttl"`
}

// LogConfig configures the process logger
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			AllowedOrigin: "*",
		},
		Pipeline: PipelineConfig{
			Timeout:       pipeline.DefaultTimeout,
			MaxImageBytes: imaging.DefaultMaxBytes,
		},
		Retry: llm.DefaultRetryConfig(),
		Prompts: PromptsConfig{
			Debounce: 100 * time.Millisecond,
		},
		NATS: NATSConfig{
			CallSubject: llm.DefaultCallSubject,
			RunSubject:  pipeline.DefaultRunSubject,
			RunBucket:   storage.DefaultRunBucket,
			RunTTL:      storage.DefaultRunTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Pipeline.Timeout <= 0 {
		return errors.New("pipeline.timeout must be positive")
	}
	if c.Pipeline.MaxImageBytes <= 0 {
		return errors.New("pipeline.max_image_bytes must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Prompts.Watch && c.Prompts.Dir == "" {
		return errors.New("prompts.watch requires prompts.dir")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Model != "" && c.ModelRegistry().GetEndpoint(c.Model) == nil {
		return fmt.Errorf("model %q is not a configured endpoint", c.Model)
	}
	return nil
}

// ModelRegistry builds the model registry: built-in defaults, then the
// models overlay, then the Model pin.
func (c *Config) ModelRegistry() *model.Registry {
	reg := model.NewDefaultRegistry()
	reg.MergeFromConfig(c.Models)
	if c.Model != "" {
		for _, capability := range reg.ListCapabilities() {
			reg.SetCapability(capability, &model.CapabilityConfig{Preferred: []string{c.Model}})
		}
		reg.SetDefault(c.Model)
	}
	return reg
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	overlay, err := readFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	config.Merge(overlay)
	return config, nil
}

// readFile parses a YAML file without applying defaults, so that absent
// keys stay zero and do not mask earlier layers on Merge.
func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.AllowedOrigin != "" {
		c.Server.AllowedOrigin = other.Server.AllowedOrigin
	}

	// Pipeline
	if other.Pipeline.Timeout != 0 {
		c.Pipeline.Timeout = other.Pipeline.Timeout
	}
	if other.Pipeline.MaxImageBytes != 0 {
		c.Pipeline.MaxImageBytes = other.Pipeline.MaxImageBytes
	}

	// Models
	if other.Model != "" {
		c.Model = other.Model
	}
	c.Models = mergeModels(c.Models, other.Models)

	// Retry
	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.BackoffBase != 0 {
		c.Retry.BackoffBase = other.Retry.BackoffBase
	}
	if other.Retry.BackoffMultiplier != 0 {
		c.Retry.BackoffMultiplier = other.Retry.BackoffMultiplier
	}
	if other.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = other.Retry.MaxBackoff
	}

	// Prompts
	if other.Prompts.Dir != "" {
		c.Prompts.Dir = other.Prompts.Dir
	}
	if other.Prompts.Watch {
		c.Prompts.Watch = true
	}
	if other.Prompts.Debounce != 0 {
		c.Prompts.Debounce = other.Prompts.Debounce
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.CallSubject != "" {
		c.NATS.CallSubject = other.NATS.CallSubject
	}
	if other.NATS.RunSubject != "" {
		c.NATS.RunSubject = other.NATS.RunSubject
	}
	if other.NATS.RunBucket != "" {
		c.NATS.RunBucket = other.NATS.RunBucket
	}
	if other.NATS.RunTTL != 0 {
		c.NATS.RunTTL = other.NATS.RunTTL
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}

// mergeModels overlays b onto a key by key.
func mergeModels(a, b *model.RegistryConfig) *model.RegistryConfig {
	if b == nil {
		return a
	}
	if a == nil {
		a = &model.RegistryConfig{}
	}
	if len(b.Capabilities) > 0 && a.Capabilities == nil {
		a.Capabilities = make(map[string]*model.CapabilityConfig, len(b.Capabilities))
	}
	for k, v := range b.Capabilities {
		a.Capabilities[k] = v
	}
	if len(b.Endpoints) > 0 && a.Endpoints == nil {
		a.Endpoints = make(map[string]*model.EndpointConfig, len(b.Endpoints))
	}
	for k, v := range b.Endpoints {
		a.Endpoints[k] = v
	}
	if b.Defaults != nil {
		a.Defaults = b.Defaults
	}
	if b.Health != nil {
		a.Health = b.Health
	}
	return a
}
