package config

// LimitsConfig holds budgets and caps that keep long sessions and agentic
// loops bounded.
type LimitsConfig struct {
	// SessionTokenLimit is the running token budget per session. Before
	// every turn the oldest exchanges are evicted until the session fits.
	SessionTokenLimit int `yaml:"session_token_limit"`

	// ToolCallCap is the hard per-turn cap on real tool executions. Once
	// reached, further requests receive a synthetic limit message and are
	// never executed, for the remainder of the turn.
	ToolCallCap int `yaml:"tool_call_cap"`

	// CacheTTLSeconds is the rolling expiry window for the remote context
	// cache, refreshed after every successful generation that used it.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// RetrievalTopK is how many semantic matches each memory lookup pulls.
	RetrievalTopK int `yaml:"retrieval_top_k"`

	// MemoryBlockBudget bounds the formatted memory context block, in
	// characters, so retrieval can never crowd out the user's input.
	MemoryBlockBudget int `yaml:"memory_block_budget"`
}

// DefaultLimitsConfig returns the baseline limits.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		SessionTokenLimit: 200000,
		ToolCallCap:       5,
		CacheTTLSeconds:   1800,
		RetrievalTopK:     5,
		MemoryBlockBudget: 6000,
	}
}
