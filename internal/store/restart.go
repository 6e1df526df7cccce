package store

import (
	"fmt"

	"synapse/internal/logging"
)

// =============================================================================
// RESTART STATE (one-shot session persistence across process restarts)
// =============================================================================

// SaveRestartState persists one serialized session blob, replacing any
// previous snapshot for the same session id.
func (s *RecordStore) SaveRestartState(sessionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Saving restart state: session=%s bytes=%d", sessionID, len(payload))

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO restart_state (session_id, payload, saved_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		sessionID, string(payload),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save restart state for %s: %v", sessionID, err)
		return fmt.Errorf("failed to save restart state: %w", err)
	}
	return nil
}

// LoadAndClearRestartState reads every saved session blob and deletes the
// table contents in the same transaction. The destructive read guarantees a
// snapshot is consumed at most once; a second load after a successful first
// one returns nothing.
func (s *RecordStore) LoadAndClearRestartState() (map[string][]byte, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadAndClearRestartState")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin restart load: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT session_id, payload FROM restart_state")
	if err != nil {
		return nil, fmt.Errorf("failed to read restart state: %w", err)
	}

	state := make(map[string][]byte)
	for rows.Next() {
		var sessionID, payload string
		if err := rows.Scan(&sessionID, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan restart state: %w", err)
		}
		state[sessionID] = []byte(payload)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating restart state: %w", err)
	}
	rows.Close()

	if _, err := tx.Exec("DELETE FROM restart_state"); err != nil {
		return nil, fmt.Errorf("failed to clear restart state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit restart load: %w", err)
	}

	logging.StoreDebug("Loaded and cleared restart state for %d sessions", len(state))
	return state, nil
}
