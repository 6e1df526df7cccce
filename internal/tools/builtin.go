package tools

import (
	"context"
	"fmt"
	"strings"

	"synapse/internal/store"
	"synapse/internal/vector"
)

// RegisterBuiltins installs the memory and profile tools. All of them need
// a ToolContext; authorization happens inside the stores using the actor id
// carried by the context.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(memorySearchTool())
	r.MustRegister(memorySaveTool())
	r.MustRegister(memoryForgetTool())
	r.MustRegister(profileUpdateTool())
	r.MustRegister(protocolLookupTool())
}

func memorySearchTool() *Tool {
	return &Tool{
		Name:        "memory_search",
		Description: "Search long-term memory for past conversations, saved notes, user profiles and protocols relevant to a query.",
		Schema: ToolSchema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "What to search for, phrased naturally."},
				"top_k": {Type: "integer", Description: "Maximum number of results (default 5)."},
			},
		},
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			query := argString(args, "query")
			topK := argInt(args, "top_k", 5)

			matches, err := tc.Archive.Read(ctx, []string{query}, topK, nil)
			if err != nil {
				return "", fmt.Errorf("memory search failed: %w", err)
			}
			if len(matches) == 0 {
				return "No memories matched the query.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d memories:\n", len(matches))
			for i, m := range matches {
				fmt.Fprintf(&b, "%d. [relevance %.2f] %s\n", i+1, 1-m.Distance, m.Document)
			}
			return b.String(), nil
		},
	}
}

func memorySaveTool() *Tool {
	return &Tool{
		Name:        "memory_save",
		Description: "Save a fact or observation to long-term memory so it can be recalled in future conversations.",
		Schema: ToolSchema{
			Required: []string{"title", "content"},
			Properties: map[string]Property{
				"title":    {Type: "string", Description: "Short title for the memory."},
				"content":  {Type: "string", Description: "The fact to remember."},
				"category": {Type: "string", Description: "Free-form grouping label (default 'general')."},
			},
		},
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			category := argString(args, "category")
			if category == "" {
				category = "general"
			}
			res, err := tc.Archive.Write(ctx, "deep_memory", store.VerbInsert, tc.ActorID, store.Row{
				"owner":    tc.ActorID,
				"title":    argString(args, "title"),
				"category": category,
				"content":  argString(args, "content"),
			}, nil)
			if err != nil {
				return "", fmt.Errorf("failed to save memory: %w", err)
			}
			if res.ArchivalID != nil {
				return fmt.Sprintf("Saved memory #%d.", *res.ArchivalID), nil
			}
			return "Saved memory.", nil
		},
	}
}

func memoryForgetTool() *Tool {
	return &Tool{
		Name:        "memory_forget",
		Description: "Delete a saved memory by its id. Only the primary operator may delete.",
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "integer", Description: "The memory id to delete."},
			},
		},
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			id := argInt(args, "id", -1)
			if id < 0 {
				return "", fmt.Errorf("%w: id must be a non-negative integer", ErrMissingRequiredArg)
			}
			res, err := tc.Archive.Write(ctx, "deep_memory", store.VerbDelete, tc.ActorID, nil, store.Row{"id": id})
			if err != nil {
				return "", fmt.Errorf("failed to forget memory: %w", err)
			}
			if res.RowsAffected == 0 {
				return fmt.Sprintf("No memory with id %d.", id), nil
			}
			return fmt.Sprintf("Forgot memory #%d.", id), nil
		},
	}
}

func profileUpdateTool() *Tool {
	return &Tool{
		Name:        "profile_update",
		Description: "Update the profile of the current user with observed preferences or notes. Users can only change their own profile.",
		Schema: ToolSchema{
			Required: []string{},
			Properties: map[string]Property{
				"display_name": {Type: "string", Description: "How the user wants to be addressed."},
				"notes":        {Type: "string", Description: "Notes about the user."},
				"preferences":  {Type: "string", Description: "Stated preferences, free text."},
			},
		},
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			data := store.Row{}
			for _, col := range []string{"display_name", "notes", "preferences"} {
				if v := argString(args, col); v != "" {
					data[col] = v
				}
			}
			if len(data) == 0 {
				return "Nothing to update.", nil
			}

			where := store.Row{"user_id": tc.ActorID}
			res, err := tc.Archive.Write(ctx, "user_profiles", store.VerbUpdate, tc.ActorID, data, where)
			if err != nil {
				return "", fmt.Errorf("failed to update profile: %w", err)
			}
			if res.RowsAffected == 0 {
				// First contact with this user, create the row instead.
				data["user_id"] = tc.ActorID
				if _, err := tc.Archive.Write(ctx, "user_profiles", store.VerbInsert, tc.ActorID, data, nil); err != nil {
					return "", fmt.Errorf("failed to create profile: %w", err)
				}
				return fmt.Sprintf("Created profile for %s.", tc.ActorID), nil
			}
			return fmt.Sprintf("Updated profile for %s.", tc.ActorID), nil
		},
	}
}

func protocolLookupTool() *Tool {
	return &Tool{
		Name:        "protocol_lookup",
		Description: "Look up a standing protocol (a named instruction the operator has saved) by name or by semantic similarity.",
		Schema: ToolSchema{
			Required: []string{"name"},
			Properties: map[string]Property{
				"name": {Type: "string", Description: "The protocol name or a description of what it covers."},
			},
		},
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			name := argString(args, "name")

			rows, err := tc.Archive.Records().Read("SELECT name, body FROM protocols WHERE name = ?", name)
			if err != nil {
				return "", fmt.Errorf("protocol lookup failed: %w", err)
			}
			if len(rows) > 0 {
				return fmt.Sprintf("Protocol %v: %v", rows[0]["name"], rows[0]["body"]), nil
			}

			// No exact hit, fall back to a similarity match over protocols.
			matches, err := tc.Archive.Read(ctx, []string{name}, 1, &vector.MetaFilter{
				Equals: map[string]string{"source_table": "protocols"},
			})
			if err != nil || len(matches) == 0 {
				return fmt.Sprintf("No protocol named %q.", name), nil
			}
			return matches[0].Document, nil
		},
	}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
