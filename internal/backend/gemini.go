package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"synapse/internal/logging"
)

// GeminiClient drives the Google Gemini API through the genai SDK. It is the
// cloud backend and the only one with remote context-cache support.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini backend client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// Name identifies the backend.
func (c *GeminiClient) Name() string { return "gemini" }

// Model returns the configured model id.
func (c *GeminiClient) Model() string { return c.model }

// Generate performs one blocking generation.
func (c *GeminiClient) Generate(ctx context.Context, messages []Message, cfg GenerateConfig) (*GenerateResult, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "gemini.Generate")
	defer timer.Stop()

	contents := toGenAIContents(messages)
	gc := c.generateConfig(cfg)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	result := &GenerateResult{}
	if resp.UsageMetadata != nil {
		result.Usage = usageFromMetadata(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		collectPart(part, &result.Thought, &result.Text, &result.ToolCalls)
	}
	return result, nil
}

// GenerateStream performs one streaming generation, classifying each part as
// thought, text or tool-call request.
func (c *GeminiClient) GenerateStream(ctx context.Context, messages []Message, cfg GenerateConfig, out chan<- StreamChunk) error {
	timer := logging.StartTimer(logging.CategoryBackend, "gemini.GenerateStream")
	defer timer.Stop()

	contents := toGenAIContents(messages)
	gc := c.generateConfig(cfg)

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, gc) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}

		var chunk StreamChunk
		if resp.UsageMetadata != nil {
			u := usageFromMetadata(resp.UsageMetadata)
			chunk.Usage = &u
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			for _, part := range resp.Candidates[0].Content.Parts {
				collectPart(part, &chunk.Thought, &chunk.Text, &chunk.ToolCalls)
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
	return nil
}

// CacheCreate builds a remote cached context holding the system instruction.
func (c *GeminiClient) CacheCreate(ctx context.Context, instruction string, ttlSeconds int) (string, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "gemini.CacheCreate")
	defer timer.Stop()

	cc, err := c.client.Caches.Create(ctx, c.model, &genai.CreateCachedContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		TTL:               time.Duration(ttlSeconds) * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("cache create failed: %w", err)
	}

	logging.BackendDebug("Created context cache: %s (model=%s, ttl=%ds)", cc.Name, c.model, ttlSeconds)
	return cc.Name, nil
}

// CacheGet probes a cached context by handle.
func (c *GeminiClient) CacheGet(ctx context.Context, handle string) error {
	_, err := c.client.Caches.Get(ctx, handle, nil)
	if err != nil {
		if isNotFound(err) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache probe failed: %w", err)
	}
	return nil
}

// CacheUpdateTTL extends the remote cache expiry.
func (c *GeminiClient) CacheUpdateTTL(ctx context.Context, handle string, ttlSeconds int) error {
	_, err := c.client.Caches.Update(ctx, handle, &genai.UpdateCachedContentConfig{
		TTL: time.Duration(ttlSeconds) * time.Second,
	})
	if err != nil {
		if isNotFound(err) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache ttl update failed: %w", err)
	}
	return nil
}

// generateConfig converts the backend-neutral config to the SDK shape. When a
// cache handle is present the instruction is NOT sent inline; the cached
// context already carries it.
func (c *GeminiClient) generateConfig(cfg GenerateConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}

	if cfg.CacheHandle != "" {
		gc.CachedContent = cfg.CacheHandle
	} else if cfg.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.IncludeThoughts {
		gc.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if len(cfg.Tools) > 0 {
		gc.Tools = toGenAITools(cfg.Tools)
	}
	return gc
}

// toGenAIContents maps neutral messages onto genai contents. Tool responses
// ride as user-role function-response parts, which is what the Gemini API
// expects for the followup generation step.
func toGenAIContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			var parts []*genai.Part
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, tc.Args))
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			if m.ToolResponse == nil {
				continue
			}
			part := genai.NewPartFromFunctionResponse(m.ToolResponse.Name, map[string]any{
				"result": m.ToolResponse.Content,
			})
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
		}
	}
	return contents
}

// toGenAITools converts neutral tool specs to genai function declarations.
func toGenAITools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		props := make(map[string]*genai.Schema, len(spec.Properties))
		for name, p := range spec.Properties {
			s := &genai.Schema{
				Type:        genAIType(p.Type),
				Description: p.Description,
			}
			if len(p.Enum) > 0 {
				s.Enum = p.Enum
			}
			if p.Type == "array" {
				s.Items = &genai.Schema{Type: genAIType(p.ItemType)}
			}
			props[name] = s
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   spec.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func genAIType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// collectPart routes one response part into thought, text or tool calls.
func collectPart(part *genai.Part, thought, text *string, calls *[]ToolCallRequest) {
	if part == nil {
		return
	}
	if part.FunctionCall != nil {
		*calls = append(*calls, ToolCallRequest{
			ID:   part.FunctionCall.ID,
			Name: part.FunctionCall.Name,
			Args: part.FunctionCall.Args,
		})
		return
	}
	if part.Text == "" {
		return
	}
	if part.Thought {
		*thought += part.Text
	} else {
		*text += part.Text
	}
}

func usageFromMetadata(md *genai.GenerateContentResponseUsageMetadata) Usage {
	return Usage{
		InputTokens:  int(md.PromptTokenCount),
		OutputTokens: int(md.CandidatesTokenCount),
		TotalTokens:  int(md.TotalTokenCount),
	}
}

// isNotFound reports whether err is a remote 404.
func isNotFound(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	return false
}
