// Package tools provides the model-callable tool surface: a registry of
// named tools with JSON-schema argument descriptions, executed with an
// explicit ToolContext instead of globals so a tool always knows who is
// asking and in which session.
package tools

import (
	"context"

	"synapse/internal/archive"
	"synapse/internal/session"
)

// ToolContext carries the identity and stores a tool needs. It is built per
// turn by the orchestrator and passed explicitly to every execution.
type ToolContext struct {
	// ActorID is the identity of the human whose turn triggered the call.
	// Authorization in the stores keys off this, not off the model.
	ActorID string

	// SessionID is the conversation the call belongs to.
	SessionID string

	Sessions *session.Store
	Archive  *archive.Orchestrator
}

// Property describes a single parameter for the JSON schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. The result string is
// what the model sees verbatim.
type ExecuteFunc func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error)

// Tool defines one model-callable capability.
type Tool struct {
	// Name is the unique identifier the model calls the tool by.
	Name string

	// Description explains what the tool does, written for the model.
	Description string

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// RequiresContext marks tools that need a non-nil ToolContext.
	RequiresContext bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}
