package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"synapse/internal/store"
	"synapse/internal/types"
)

// Document is the semantic-store representation derived from one canonical
// row: the text that gets embedded plus the metadata that makes the row
// identifiable (and excludable) in later retrieval.
type Document struct {
	Text     string
	Metadata map[string]any
}

// documentFactory converts a canonical row of one table into its semantic
// document.
type documentFactory func(row store.Row) Document

// factories maps each archivable table to its renderer.
var factories = map[string]documentFactory{
	"conversation_log": conversationDocument,
	"deep_memory":      deepMemoryDocument,
	"user_profiles":    profileDocument,
	"protocols":        protocolDocument,
}

// VectorID derives the deterministic semantic-store id for a canonical row:
// "{table}_{primary_key}", falling back to a content hash for rows whose key
// column is missing.
func VectorID(table string, row store.Row) string {
	if key, ok := store.PrimaryKey(table); ok {
		if v, present := row[key]; present && v != nil {
			return fmt.Sprintf("%s_%v", table, v)
		}
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", row)))
	return fmt.Sprintf("%s_%s", table, hex.EncodeToString(sum[:8]))
}

// vectorIDFromWhere reconstructs the deterministic id from a delete's where
// clause, when possible.
func vectorIDFromWhere(table string, where store.Row) (string, bool) {
	key, ok := store.PrimaryKey(table)
	if !ok {
		return "", false
	}
	v, present := where[key]
	if !present || v == nil {
		return "", false
	}
	return fmt.Sprintf("%s_%v", table, v), true
}

// deriveDocument renders the semantic document for a canonical row. The
// metadata always carries source_table and source_id so retrieval can
// exclude the row by id later.
func deriveDocument(table string, row store.Row) (Document, error) {
	factory, ok := factories[table]
	if !ok {
		return Document{}, fmt.Errorf("no document factory for table %s", table)
	}

	doc := factory(row)
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["source_table"] = table
	if key, ok := store.PrimaryKey(table); ok {
		if v, present := row[key]; present && v != nil {
			doc.Metadata["source_id"] = fmt.Sprintf("%v", v)
		}
	}
	return doc, nil
}

// conversationDocument renders an archived turn as a compact narrative so
// similarity search matches on what was discussed, not on formatting.
func conversationDocument(row store.Row) Document {
	user := rowString(row, "user_name")
	question := rowString(row, "user_content")
	answer := rowString(row, "model_content")

	var b strings.Builder
	fmt.Fprintf(&b, "User %s asked: %s\n", user, question)
	fmt.Fprintf(&b, "Assistant responded: %s", answer)
	if summary := toolSummaryFromJSON(rowString(row, "tool_calls_json")); summary != "" {
		b.WriteString(" " + summary)
	}

	return Document{
		Text: b.String(),
		Metadata: map[string]any{
			"owner":      user,
			"category":   "conversation",
			"session_id": rowString(row, "session_id"),
		},
	}
}

func deepMemoryDocument(row store.Row) Document {
	return Document{
		Text: fmt.Sprintf("%s (%s): %s",
			rowString(row, "title"), rowString(row, "category"), rowString(row, "content")),
		Metadata: map[string]any{
			"owner":    rowString(row, "owner"),
			"category": rowString(row, "category"),
		},
	}
}

func profileDocument(row store.Row) Document {
	name := rowString(row, "display_name")
	if name == "" {
		name = rowString(row, "user_id")
	}
	text := fmt.Sprintf("Profile of %s: %s", name, rowString(row, "notes"))
	if prefs := rowString(row, "preferences"); prefs != "" {
		text += " Preferences: " + prefs
	}
	return Document{
		Text: text,
		Metadata: map[string]any{
			"owner":    rowString(row, "user_id"),
			"category": "profile",
		},
	}
}

func protocolDocument(row store.Row) Document {
	return Document{
		Text: fmt.Sprintf("Protocol %s: %s", rowString(row, "name"), rowString(row, "body")),
		Metadata: map[string]any{
			"owner":    rowString(row, "owner"),
			"category": "protocol",
		},
	}
}

// toolSummaryFromJSON extracts the tool-name summary from the archived
// tool_calls_json column.
func toolSummaryFromJSON(raw string) string {
	if raw == "" {
		return ""
	}
	var calls []types.ToolCallRecord
	if err := json.Unmarshal([]byte(raw), &calls); err != nil || len(calls) == 0 {
		return ""
	}
	ex := types.Exchange{ToolCalls: calls}
	return ex.ToolSummary()
}

func rowString(row store.Row, col string) string {
	if v, ok := row[col]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
