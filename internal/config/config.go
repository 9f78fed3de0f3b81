// Package config loads and validates guardrail's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"guardrail/internal/logging"
)

// Config holds all guardrail configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Completion CompletionConfig `yaml:"completion"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Limits     CoreLimits       `yaml:"limits"`
}

// CompletionConfig configures the external patch-generation completion service.
type CompletionConfig struct {
	Provider    string `yaml:"provider" json:"provider"`
	Model       string `yaml:"model" json:"model"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	APIKey      string `yaml:"-" json:"-"` // never persisted; env-only
	Timeout     string `yaml:"timeout" json:"timeout"`
	MaxRetries  int    `yaml:"max_retries" json:"max_retries"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int    `yaml:"max_tokens" json:"max_tokens"`
}

// PipelineConfig tunes the scan/patch orchestrator.
type PipelineConfig struct {
	RiskThreshold    int    `yaml:"risk_threshold" json:"risk_threshold"`
	MaxFileSizeBytes int    `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	TestHarness      bool   `yaml:"test_harness_enabled" json:"test_harness_enabled"`
	TestTimeout      string `yaml:"test_harness_timeout" json:"test_harness_timeout"`
	MaxRetries       int    `yaml:"max_retries" json:"max_retries"`
	ReviewEnabled    bool   `yaml:"review_enabled" json:"review_enabled"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host                    string `yaml:"host" json:"host"`
	Port                    int    `yaml:"port" json:"port"`
	BackgroundFileThreshold int    `yaml:"background_file_threshold" json:"background_file_threshold"`
	CORSOrigins             []string `yaml:"cors_origins" json:"cors_origins"`
}

// CacheConfig configures the content-addressed ModuleAST cache.
type CacheConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}

// AuditConfig configures the append-only audit sink.
type AuditConfig struct {
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "guardrail",
		Version: "0.1.0",

		Completion: CompletionConfig{
			Provider:    "groq",
			Model:       "llama-3.3-70b-versatile",
			BaseURL:     "https://api.groq.com/openai/v1",
			Timeout:     "20s",
			MaxRetries:  3,
			Temperature: 0.2,
			MaxTokens:   2000,
		},

		Pipeline: PipelineConfig{
			RiskThreshold:    20,
			MaxFileSizeBytes: 512 * 1024,
			TestHarness:      false,
			TestTimeout:      "30s",
			MaxRetries:       2,
			ReviewEnabled:    true,
		},

		Server: ServerConfig{
			Host:                    "127.0.0.1",
			Port:                    8790,
			BackgroundFileThreshold: 25,
			CORSOrigins:             []string{"*"},
		},

		Cache: CacheConfig{
			TTL: "15m",
		},

		Audit: AuditConfig{
			Path: ".guardrail/audit.jsonl",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "guardrail.log",
		},

		Limits: CoreLimits{
			MaxConcurrentScans:   4,
			MaxConcurrentAPICall: 2,
			ScanTimeoutSec:       120,
		},
	}
}

// Load loads configuration from a YAML file under a workspace's .guardrail directory.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: provider=%s model=%s", cfg.Completion.Provider, cfg.Completion.Model)
	return cfg, nil
}

// Save persists configuration to a YAML file. The completion API key is never written.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over file-provided values, for secrets
// that must never round-trip through the YAML file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		c.Completion.APIKey = key
		if c.Completion.Provider == "" {
			c.Completion.Provider = "groq"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Completion.APIKey = key
		c.Completion.Provider = "openai"
	}
	if url := os.Getenv("GUARDRAIL_COMPLETION_URL"); url != "" {
		c.Completion.BaseURL = url
	}
	if port := os.Getenv("GUARDRAIL_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

// CompletionTimeout returns the per-attempt completion-service timeout.
func (c *Config) CompletionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Completion.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// CacheTTL returns the cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// TestHarnessTimeout returns the per-case subprocess test timeout.
func (c *Config) TestHarnessTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.TestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Pipeline.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("pipeline.max_file_size_bytes must be > 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Completion.MaxRetries < 1 {
		return fmt.Errorf("completion.max_retries must be >= 1")
	}
	return c.Limits.Validate()
}
