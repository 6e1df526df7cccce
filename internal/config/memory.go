package config

// MemoryConfig configures the structured and semantic memory stores.
type MemoryConfig struct {
	// DatabasePath is the record store (SQLite) file.
	DatabasePath string `yaml:"database_path"`

	// VectorPath is the semantic store (SQLite + sqlite-vec) file. Kept
	// separate from the record store because the two stores are only
	// eventually consistent and may be rebuilt independently.
	VectorPath string `yaml:"vector_path"`

	// Embedding configures the vector embedding engine.
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig configures the vector embedding engine.
// Supports Ollama (local) and GenAI (cloud) backends.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Ollama configuration (local embedding server)
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "embeddinggemma"

	// GenAI configuration (Google cloud embedding)
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI embeddings (SEMANTIC_SIMILARITY, RETRIEVAL_DOCUMENT,
	// RETRIEVAL_QUERY, ...).
	TaskType string `yaml:"task_type"`

	// Dimensions fixes the vector width. The vec0 table is declared with
	// this dimensionality at creation time and cannot change afterwards.
	Dimensions int `yaml:"dimensions"` // Default: 768
}

// DefaultMemoryConfig returns the baseline memory configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DatabasePath: ".synapse/records.db",
		VectorPath:   ".synapse/vectors.db",
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
			Dimensions:     768,
		},
	}
}
