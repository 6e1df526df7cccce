package session

import (
	"encoding/json"

	"synapse/internal/logging"
)

// SaveAll serializes every session into the restart table, one JSON blob
// per session id. Returns false when any session failed to persist; the
// in-memory state stays authoritative either way.
func (s *Store) SaveAll() bool {
	timer := logging.StartTimer(logging.CategorySession, "SaveAll")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ok := true
	for id, sess := range s.sessions {
		payload, err := json.Marshal(sess)
		if err != nil {
			logging.Get(logging.CategorySession).Error("Failed to serialize session %s: %v", id, err)
			ok = false
			continue
		}
		if err := s.records.SaveRestartState(id, payload); err != nil {
			logging.Get(logging.CategorySession).Error("Failed to persist session %s: %v", id, err)
			ok = false
		}
	}

	logging.Get(logging.CategorySession).Info("Saved %d sessions for restart (ok=%v)", len(s.sessions), ok)
	return ok
}

// LoadAll restores sessions from the restart table. The load is destructive
// and one-shot: the table is cleared in the same transaction as the read, so
// an already-consumed snapshot can never be replayed. Returns false when
// nothing was loaded or the load failed.
func (s *Store) LoadAll() bool {
	timer := logging.StartTimer(logging.CategorySession, "LoadAll")
	defer timer.Stop()

	state, err := s.records.LoadAndClearRestartState()
	if err != nil {
		logging.Get(logging.CategorySession).Error("Failed to load restart state: %v", err)
		return false
	}
	if len(state) == 0 {
		logging.SessionDebug("No restart state to load")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for id, payload := range state {
		var sess Session
		if err := json.Unmarshal(payload, &sess); err != nil {
			logging.Get(logging.CategorySession).Error("Failed to deserialize session %s, skipping: %v", id, err)
			continue
		}
		sess.ID = id
		s.sessions[id] = &sess
		loaded++
	}

	logging.Get(logging.CategorySession).Info("Restored %d sessions from restart state", loaded)
	return loaded > 0
}
