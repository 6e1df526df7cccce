package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.Persona)
	assert.Equal(t, 5, cfg.Limits.ToolCallCap)
	assert.Equal(t, 1800, cfg.Limits.CacheTTLSeconds)
	assert.Equal(t, 200000, cfg.Limits.SessionTokenLimit)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Provider, cfg.LLM.Provider)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persona: jarvis
primary_operator: alice
llm:
  provider: ollama
  ollama_model: llama3
limits:
  tool_call_cap: 3
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "jarvis", cfg.Persona)
	assert.Equal(t, "alice", cfg.PrimaryOperator)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.OllamaModel)
	assert.Equal(t, 3, cfg.Limits.ToolCallCap)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1800, cfg.Limits.CacheTTLSeconds)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.GeminiModel)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: watson\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("SYNAPSE_PRIMARY_OPERATOR", "bob")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "sk-test", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, "sk-test", cfg.Memory.Embedding.GenAIAPIKey)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.OllamaEndpoint)
	assert.Equal(t, "bob", cfg.PrimaryOperator)
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.ToolCallCap = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Persona = ""
	assert.Error(t, cfg.Validate())
}
