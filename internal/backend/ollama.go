package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"synapse/internal/logging"
)

// OllamaClient drives a locally hosted model through the Ollama chat API.
// It has no remote context cache; the system instruction is sent inline on
// every request (the local server does its own prompt caching).
type OllamaClient struct {
	endpoint string
	model    string
	client   *http.Client
}

// OllamaConfig holds configuration for the local backend.
type OllamaConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Endpoint: "http://localhost:11434",
		Model:    "qwen3",
		Timeout:  300 * time.Second,
	}
}

// NewOllamaClient creates a local backend client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &OllamaClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the backend.
func (c *OllamaClient) Name() string { return "ollama" }

// Model returns the configured model id.
func (c *OllamaClient) Model() string { return c.model }

// ollamaMessage is one message in the Ollama chat wire format.
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolSpec `json:"function"`
}

type ollamaToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ollamaToolParam `json:"parameters"`
}

type ollamaToolParam struct {
	Type       string                     `json:"type"`
	Required   []string                   `json:"required,omitempty"`
	Properties map[string]ollamaParamSpec `json:"properties,omitempty"`
}

type ollamaParamSpec struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ollamaChatRequest is the /api/chat request body.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

// ollamaChatResponse is one /api/chat response unit (one NDJSON line when
// streaming, the whole body otherwise).
type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Generate performs one blocking generation.
func (c *OllamaClient) Generate(ctx context.Context, messages []Message, cfg GenerateConfig) (*GenerateResult, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "ollama.Generate")
	defer timer.Stop()

	body, err := c.request(messages, cfg, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ollama response: %w", err)
	}
	var cr ollamaChatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse ollama response: %w", err)
	}
	if cr.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", cr.Error)
	}

	result := &GenerateResult{
		Text:    cr.Message.Content,
		Thought: cr.Message.Thinking,
		Usage: Usage{
			InputTokens:  cr.PromptEvalCount,
			OutputTokens: cr.EvalCount,
			TotalTokens:  cr.PromptEvalCount + cr.EvalCount,
		},
	}
	for _, tc := range cr.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCallRequest{
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return result, nil
}

// GenerateStream performs one streaming generation over NDJSON lines.
func (c *OllamaClient) GenerateStream(ctx context.Context, messages []Message, cfg GenerateConfig, out chan<- StreamChunk) error {
	timer := logging.StartTimer(logging.CategoryBackend, "ollama.GenerateStream")
	defer timer.Stop()

	body, err := c.request(messages, cfg, true)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cr ollamaChatResponse
		if err := json.Unmarshal(line, &cr); err != nil {
			logging.Get(logging.CategoryBackend).Warn("Skipping malformed ollama stream line: %v", err)
			continue
		}
		if cr.Error != "" {
			return fmt.Errorf("ollama error: %s", cr.Error)
		}

		chunk := StreamChunk{
			Thought: cr.Message.Thinking,
			Text:    cr.Message.Content,
		}
		for _, tc := range cr.Message.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallRequest{
				Name: tc.Function.Name,
				Args: tc.Function.Arguments,
			})
		}
		if cr.Done {
			chunk.Usage = &Usage{
				InputTokens:  cr.PromptEvalCount,
				OutputTokens: cr.EvalCount,
				TotalTokens:  cr.PromptEvalCount + cr.EvalCount,
			}
		}
		if chunk.Thought == "" && chunk.Text == "" && len(chunk.ToolCalls) == 0 && chunk.Usage == nil {
			continue
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama stream read failed: %w", err)
	}
	return nil
}

// request builds the /api/chat body.
func (c *OllamaClient) request(messages []Message, cfg GenerateConfig, stream bool) ([]byte, error) {
	msgs := make([]ollamaMessage, 0, len(messages)+1)
	if cfg.SystemInstruction != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: cfg.SystemInstruction})
	}
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Text}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: tc.Name, Arguments: tc.Args},
			})
		}
		if m.Role == RoleTool && m.ToolResponse != nil {
			om.Content = m.ToolResponse.Content
			om.ToolName = m.ToolResponse.Name
		}
		msgs = append(msgs, om)
	}

	req := ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   stream,
	}
	if cfg.Temperature > 0 || cfg.MaxOutputTokens > 0 {
		req.Options = map[string]any{}
		if cfg.Temperature > 0 {
			req.Options["temperature"] = cfg.Temperature
		}
		if cfg.MaxOutputTokens > 0 {
			req.Options["num_predict"] = cfg.MaxOutputTokens
		}
	}
	for _, spec := range cfg.Tools {
		props := make(map[string]ollamaParamSpec, len(spec.Properties))
		for name, p := range spec.Properties {
			props[name] = ollamaParamSpec{Type: p.Type, Description: p.Description, Enum: p.Enum}
		}
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolSpec{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: ollamaToolParam{
					Type:       "object",
					Required:   spec.Required,
					Properties: props,
				},
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}
	return body, nil
}

func (c *OllamaClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
