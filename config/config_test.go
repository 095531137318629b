package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
engine:
  default_timeout: "45s"
  max_concurrent_invocations: 8

backend:
  provider: anthropic
  model: claude-3-5-haiku-latest
  api_key: "${TEST_ANTHROPIC_KEY}"
  temperature: 0.2
  max_tokens: 1024
  instructions: "Answer briefly."

logging:
  level: debug
  format: json

metrics:
  enabled: true
  addr: "127.0.0.1:9100"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrentInvocations)
	assert.Equal(t, ProviderAnthropic, cfg.Backend.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Backend.Model)
	assert.Equal(t, "sk-ant-test", cfg.Backend.APIKey)
	assert.InDelta(t, 0.2, cfg.Backend.Temperature, 1e-9)
	assert.Equal(t, int64(1024), cfg.Backend.MaxTokens)
	assert.Equal(t, "Answer briefly.", cfg.Backend.Instructions)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestParse_KeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("backend:\n  echo_delay: 250ms\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Engine.DefaultTimeout, cfg.Engine.DefaultTimeout)
	assert.Equal(t, ProviderEcho, cfg.Backend.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Backend.EchoDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "engine: [", "parsing config file"},
		{"bad duration", "engine:\n  default_timeout: soon\n", `parsing default_timeout "soon"`},
		{"zero timeout", "engine:\n  default_timeout: 0s\n", "engine.default_timeout must be positive"},
		{"negative limit", "engine:\n  max_concurrent_invocations: -1\n", "must not be negative"},
		{"unknown provider", "backend:\n  provider: bedrock\n", `backend.provider "bedrock"`},
		{"bad max tokens", "backend:\n  provider: openai\n  max_tokens: 0\n", "backend.max_tokens must be positive"},
		{"bad log format", "logging:\n  format: xml\n", `logging.format "xml"`},
		{"metrics without addr", "metrics:\n  enabled: true\n  addr: \"\"\n", "metrics.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGENTINVOKE_TEST_VAR", "value")

	assert.Equal(t, "key: value", expandEnvVars("key: ${AGENTINVOKE_TEST_VAR}"))
	assert.Equal(t, "key: ", expandEnvVars("key: ${AGENTINVOKE_TEST_UNSET_VAR}"))
	assert.Equal(t, "key: $PLAIN", expandEnvVars("key: $PLAIN"))
}
