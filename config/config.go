// Package config loads agentinvoke configuration from YAML files.
//
// Environment variables in the form ${VAR_NAME} are expanded before parsing,
// so secrets such as API keys never need to live in the file itself. Duration
// fields accept Go duration strings ("30s", "1m30s").
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend providers.
const (
	ProviderEcho      = "echo"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config represents the complete agentinvoke configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Backend BackendConfig `yaml:"backend"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig holds the invocation lifecycle settings.
type EngineConfig struct {
	DefaultTimeout           time.Duration `yaml:"-"`
	MaxConcurrentInvocations int           `yaml:"max_concurrent_invocations"`

	// Raw string values for YAML unmarshaling
	DefaultTimeoutRaw string `yaml:"default_timeout"`
}

// BackendConfig selects and configures the backend.
type BackendConfig struct {
	Provider     string  `yaml:"provider"` // echo, anthropic or openai
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int64   `yaml:"max_tokens"`
	Instructions string  `yaml:"instructions"`

	// EchoDelay slows the echo backend down, useful for timeout demos.
	EchoDelay    time.Duration `yaml:"-"`
	EchoDelayRaw string        `yaml:"echo_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultTimeout:    30 * time.Second,
			DefaultTimeoutRaw: "30s",
		},
		Backend: BackendConfig{
			Provider:    ProviderEcho,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data on top of Default.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive")
	}
	if c.Engine.MaxConcurrentInvocations < 0 {
		return fmt.Errorf("engine.max_concurrent_invocations must not be negative")
	}

	switch c.Backend.Provider {
	case ProviderEcho:
	case ProviderAnthropic, ProviderOpenAI:
		if c.Backend.MaxTokens <= 0 {
			return fmt.Errorf("backend.max_tokens must be positive")
		}
	default:
		return fmt.Errorf("backend.provider %q is not one of echo, anthropic, openai", c.Backend.Provider)
	}
	if c.Backend.EchoDelay < 0 {
		return fmt.Errorf("backend.echo_delay must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.DefaultTimeoutRaw != "" {
		cfg.Engine.DefaultTimeout, err = time.ParseDuration(cfg.Engine.DefaultTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing default_timeout %q: %w", cfg.Engine.DefaultTimeoutRaw, err)
		}
	}

	if cfg.Backend.EchoDelayRaw != "" {
		cfg.Backend.EchoDelay, err = time.ParseDuration(cfg.Backend.EchoDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing echo_delay %q: %w", cfg.Backend.EchoDelayRaw, err)
		}
	}

	return nil
}
