package store

import "fmt"

// tableKeys is the table allowlist, mapping each writable table to its
// primary key column. Interpolated table names are always checked against
// this map first.
var tableKeys = map[string]string{
	"conversation_log": "id",
	"deep_memory":      "id",
	"user_profiles":    "user_id",
	"protocols":        "id",
}

// PrimaryKey returns the primary key column for an allowlisted table.
func PrimaryKey(table string) (string, bool) {
	key, ok := tableKeys[table]
	return key, ok
}

// Tables returns the writable table allowlist.
func Tables() []string {
	out := make([]string, 0, len(tableKeys))
	for t := range tableKeys {
		out = append(out, t)
	}
	return out
}

// migrate creates the required tables.
func (s *RecordStore) migrate() error {
	// Archived conversational turns, one row per exchange.
	conversationTable := `
	CREATE TABLE IF NOT EXISTS conversation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		user_content TEXT NOT NULL,
		tool_calls_json TEXT,
		model_content TEXT NOT NULL,
		token_cost INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_log(session_id);
	`

	// Long-term free-form facts.
	deepMemoryTable := `
	CREATE TABLE IF NOT EXISTS deep_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT DEFAULT 'general',
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_deep_memory_owner ON deep_memory(owner);
	CREATE INDEX IF NOT EXISTS idx_deep_memory_category ON deep_memory(category);
	`

	// Per-user profiles; the one table a non-primary actor may update,
	// and only their own row.
	profilesTable := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		display_name TEXT,
		notes TEXT,
		preferences TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// Named protocol documents (standing instructions, procedures).
	protocolsTable := `
	CREATE TABLE IF NOT EXISTS protocols (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// One serialized blob per session id, consumed exactly once on restart.
	restartTable := `
	CREATE TABLE IF NOT EXISTS restart_state (
		session_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// One live cache record per (persona, model) pair.
	cacheTable := `
	CREATE TABLE IF NOT EXISTS context_caches (
		persona TEXT NOT NULL,
		model TEXT NOT NULL,
		cache_handle TEXT NOT NULL,
		instruction_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_updated DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (persona, model)
	);
	`

	for _, table := range []string{
		conversationTable, deepMemoryTable, profilesTable,
		protocolsTable, restartTable, cacheTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
