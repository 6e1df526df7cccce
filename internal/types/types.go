// Package types defines the shared data model for the synapse brain:
// exchanges, sessions-on-the-wire, and the per-turn event stream emitted
// to front-ends.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ToolCallRecord is one request/response pair produced while resolving a turn.
type ToolCallRecord struct {
	// Name is the registry identifier of the invoked capability.
	Name string `json:"name"`

	// Args are the arguments the backend requested.
	Args map[string]any `json:"args,omitempty"`

	// Result is the string output fed back to the backend.
	Result string `json:"result"`

	// IsError marks results that describe a failure (tool error, unknown
	// tool, or the synthetic call-limit message).
	IsError bool `json:"is_error,omitempty"`

	// Synthetic marks records that were never executed (call-limit answers).
	Synthetic bool `json:"synthetic,omitempty"`
}

// Exchange is one fully-resolved conversational turn. It is created once by
// the turn orchestrator and immutable after being appended to a session;
// truncation removes whole exchanges, never edits them.
type Exchange struct {
	// UserContent is the structured prompt that was sent, including any
	// injected memory block and file references.
	UserContent string `json:"user_content"`

	// ToolCalls is the ordered tool activity for this turn. Empty when the
	// backend never requested a tool.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// ModelContent is the final assistant output.
	ModelContent string `json:"model_content"`

	// ArchivalID is the record-store row id assigned on successful archival,
	// or nil when archival failed.
	ArchivalID *int64 `json:"archival_id,omitempty"`

	// TokenCost is the total token usage reported by the backend.
	TokenCost int `json:"token_cost"`

	// CreatedAt is when the turn finalized.
	CreatedAt time.Time `json:"created_at"`
}

// ToolSummary renders the tool activity of an exchange as a short
// human-readable line, used by the conversation document factory.
func (e *Exchange) ToolSummary() string {
	if len(e.ToolCalls) == 0 {
		return ""
	}
	names := make([]string, 0, len(e.ToolCalls))
	for _, tc := range e.ToolCalls {
		names = append(names, tc.Name)
	}
	return fmt.Sprintf("[used tools: %s]", strings.Join(names, ", "))
}

// EventKind classifies per-turn events streamed to front-ends.
type EventKind string

const (
	// EventStatus reports coarse progress ("thinking", "looking up memory").
	EventStatus EventKind = "status"

	// EventThought carries reasoning output, surfaced separately from the
	// final answer so callers can render it distinctly.
	EventThought EventKind = "thought"

	// EventToken carries one streamed chunk of final answer text.
	EventToken EventKind = "token"

	// EventUsage reports token accounting once the turn's cost is known.
	EventUsage EventKind = "usage"

	// EventFullResponse carries the complete final answer after streaming.
	EventFullResponse EventKind = "full_response"

	// EventError carries a short human-readable failure description.
	EventError EventKind = "error"

	// EventDone terminates the stream. Always the last event.
	EventDone EventKind = "done"
)

// TurnEvent is one unit of the per-turn event stream.
type TurnEvent struct {
	Kind EventKind `json:"kind"`

	// Text is the payload for status, thought, token, full_response and
	// error events.
	Text string `json:"text,omitempty"`

	// TokenCount accompanies usage and full_response events.
	TokenCount int `json:"token_count,omitempty"`

	// RestartPending signals that the host intends to restart and state has
	// been saved; front-ends may show a notice.
	RestartPending bool `json:"restart_pending,omitempty"`
}

// StatusEvent builds a status event.
func StatusEvent(text string) TurnEvent { return TurnEvent{Kind: EventStatus, Text: text} }

// ThoughtEvent builds a thought event.
func ThoughtEvent(text string) TurnEvent { return TurnEvent{Kind: EventThought, Text: text} }

// TokenEvent builds a token event.
func TokenEvent(text string) TurnEvent { return TurnEvent{Kind: EventToken, Text: text} }

// ErrorEvent builds an error event.
func ErrorEvent(text string) TurnEvent { return TurnEvent{Kind: EventError, Text: text} }
