// Package config holds all synapse configuration, loaded from
// .synapse/config.yaml with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all synapse configuration.
type Config struct {
	// Persona names the active system-prompt persona. One context cache
	// exists per (persona, model) pair.
	Persona string `yaml:"persona"`

	// PrimaryOperator is the actor id with full write authority over the
	// record and semantic stores.
	PrimaryOperator string `yaml:"primary_operator"`

	// LLM configures the inference backends.
	LLM LLMConfig `yaml:"llm"`

	// Memory configures the record store, semantic store and embeddings.
	Memory MemoryConfig `yaml:"memory"`

	// Limits configures budgets and caps.
	Limits LimitsConfig `yaml:"limits"`

	// Logging configures the categorized debug logger.
	Logging LoggingConfig `yaml:"logging"`
}

// Load reads configuration from the given path, falling back to defaults
// for any unset field.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkspace loads .synapse/config.yaml under the workspace root.
func LoadFromWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".synapse", "config.yaml"))
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Persona:         "default",
		PrimaryOperator: "operator",
		LLM:             DefaultLLMConfig(),
		Memory:          DefaultMemoryConfig(),
		Limits:          DefaultLimitsConfig(),
		Logging:         LoggingConfig{Level: "info"},
	}
}

// ApplyEnvOverrides pulls secrets and endpoint overrides from the
// environment so they never need to live in the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Memory.Embedding.GenAIAPIKey == "" {
		c.Memory.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.LLM.OllamaEndpoint = v
		if c.Memory.Embedding.OllamaEndpoint == "" {
			c.Memory.Embedding.OllamaEndpoint = v
		}
	}
	if v := os.Getenv("SYNAPSE_PRIMARY_OPERATOR"); v != "" {
		c.PrimaryOperator = v
	}
}

// Validate rejects configurations that cannot produce a working brain.
func (c *Config) Validate() error {
	if c.Persona == "" {
		return fmt.Errorf("persona must not be empty")
	}
	if c.PrimaryOperator == "" {
		return fmt.Errorf("primary_operator must not be empty")
	}
	switch c.LLM.Provider {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("unknown llm provider %q (want gemini or ollama)", c.LLM.Provider)
	}
	if c.Limits.ToolCallCap <= 0 {
		return fmt.Errorf("tool_call_cap must be positive, got %d", c.Limits.ToolCallCap)
	}
	return nil
}
