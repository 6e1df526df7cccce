package config

// LLMConfig configures the two interchangeable inference backends.
type LLMConfig struct {
	// Provider selects the default backend: "gemini" or "ollama".
	// Individual sessions may switch via the mode surface.
	Provider string `yaml:"provider"`

	// Gemini (cloud) backend.
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"` // Default: "gemini-2.5-flash"

	// Ollama (local) backend.
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "qwen3"

	// InstructionsPath points at the persona system-prompt file. The cache
	// manager hashes this file's content and the watcher hot-swaps the
	// remote cache when it changes.
	InstructionsPath string `yaml:"instructions_path"`

	// MaxOutputTokens bounds a single generation.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Temperature for generation.
	Temperature float64 `yaml:"temperature"`
}

// DefaultLLMConfig returns sensible backend defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:         "gemini",
		GeminiModel:      "gemini-2.5-flash",
		OllamaEndpoint:   "http://localhost:11434",
		OllamaModel:      "qwen3",
		InstructionsPath: ".synapse/instructions.md",
		MaxOutputTokens:  8192,
		Temperature:      0.7,
	}
}
