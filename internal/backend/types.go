// Package backend defines the typed message shapes exchanged with the two
// inference backends (Gemini cloud, Ollama local) and the client interfaces
// the brain drives. The brain never sees provider wire formats; it consumes
// these shapes only.
package backend

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a backend's request to invoke a named capability.
type ToolCallRequest struct {
	// ID correlates the request with its response, for providers that
	// assign one. May be empty.
	ID string `json:"id,omitempty"`

	// Name is the registry identifier of the requested capability.
	Name string `json:"name"`

	// Args are the parsed call arguments.
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse carries one tool execution result back to the backend.
type ToolResponse struct {
	// Name echoes the tool that produced the result.
	Name string `json:"name"`

	// Content is the result string (or error string) fed to the model.
	Content string `json:"content"`
}

// Message is one unit of conversation sent to a backend.
type Message struct {
	Role Role `json:"role"`

	// Text is the message body for user and assistant messages.
	Text string `json:"text,omitempty"`

	// ToolCalls is set on assistant messages that requested tools, so the
	// conversation replayed to the backend stays coherent.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// ToolResponse is set on tool-role messages.
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// ParamSpec describes a single tool parameter for the provider's schema.
type ParamSpec struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	// ItemType is the element type when Type is "array".
	ItemType string `json:"item_type,omitempty"`
}

// ToolSpec declares one callable capability to a backend.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Required    []string             `json:"required,omitempty"`
	Properties  map[string]ParamSpec `json:"properties,omitempty"`
}

// GenerateConfig controls a single generation call.
type GenerateConfig struct {
	// SystemInstruction is the full system prompt. Ignored when CacheHandle
	// is set (the cached context already carries it).
	SystemInstruction string

	// CacheHandle is the remote context-cache identifier, or empty to send
	// instructions inline.
	CacheHandle string

	// Tools are the capabilities the backend may request.
	Tools []ToolSpec

	// MaxOutputTokens bounds the response. Zero means provider default.
	MaxOutputTokens int

	// Temperature for sampling.
	Temperature float64

	// IncludeThoughts asks the backend to stream reasoning separately.
	IncludeThoughts bool
}

// Usage is the token accounting for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StreamChunk is one unit of a streaming generation. Exactly zero or one of
// Thought/Text is set per chunk; ToolCalls and Usage may ride along with
// either or arrive alone.
type StreamChunk struct {
	// Thought is reasoning output, surfaced separately from final text.
	Thought string

	// Text is final-answer output.
	Text string

	// ToolCalls are capability requests accumulated during this chunk.
	ToolCalls []ToolCallRequest

	// Usage arrives once, near the end of the stream.
	Usage *Usage
}

// GenerateResult is the outcome of a non-streaming generation.
type GenerateResult struct {
	Text      string
	Thought   string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// Client is one inference backend.
type Client interface {
	// Name identifies the backend ("gemini" or "ollama").
	Name() string

	// Generate performs one blocking generation.
	Generate(ctx context.Context, messages []Message, cfg GenerateConfig) (*GenerateResult, error)

	// GenerateStream performs one streaming generation, sending chunks to
	// out until the stream ends. The callee never closes out; it returns
	// when the provider stream is exhausted or fails.
	GenerateStream(ctx context.Context, messages []Message, cfg GenerateConfig, out chan<- StreamChunk) error
}

// CacheClient is implemented by backends that support remote context caches.
type CacheClient interface {
	// CacheCreate builds a remote cache holding the system instruction and
	// returns its opaque handle.
	CacheCreate(ctx context.Context, instruction string, ttlSeconds int) (string, error)

	// CacheGet probes a cache by handle. Returns ErrCacheNotFound when the
	// remote side expired or evicted it; any other error is a transport
	// failure and propagates.
	CacheGet(ctx context.Context, handle string) error

	// CacheUpdateTTL extends the cache's expiry to the given window.
	CacheUpdateTTL(ctx context.Context, handle string, ttlSeconds int) error
}
