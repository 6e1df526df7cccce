// Package session holds the per-conversation exchange history: an ordered
// list of exchanges per session id, with creation-on-first-use, index/count
// truncation, a running token budget, and one-shot persistence across
// process restarts. Operations never panic past the boundary; persistence
// failures are logged and reported as booleans, leaving in-memory state
// authoritative for the current process lifetime.
package session

import (
	"fmt"
	"sync"

	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// Session is the ordered history of exchanges for one conversation surface
// (a chat thread, channel, direct message or local UI instance).
type Session struct {
	ID string `json:"id"`

	// Mode selects the inference backend for this session ("" = default).
	Mode string `json:"mode,omitempty"`

	// Exchanges in chronological insertion order.
	Exchanges []types.Exchange `json:"exchanges"`
}

// TokenCost sums the token cost of all exchanges.
func (s *Session) TokenCost() int {
	total := 0
	for _, ex := range s.Exchanges {
		total += ex.TokenCost
	}
	return total
}

// Summary is the listing view of one session.
type Summary struct {
	ID        string `json:"id"`
	Mode      string `json:"mode,omitempty"`
	Exchanges int    `json:"exchanges"`
	TokenCost int    `json:"token_cost"`
}

// TruncateResult describes the outcome of a truncation. Out-of-range
// requests are no-ops with a descriptive message, not errors.
type TruncateResult struct {
	Removed   int
	Remaining int
	Message   string
}

// Store holds all sessions. Mutation is expected to happen under the brain
// lock; the internal mutex additionally protects the session-management
// surface (list/truncate) called by front-ends between turns.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	records  *store.RecordStore
}

// NewStore creates an empty session store backed by the given record store
// for restart persistence.
func NewStore(records *store.RecordStore) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		records:  records,
	}
}

// GetOrCreate returns the session for the given id, inserting an empty one
// on first reference.
func (s *Store) GetOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	sess := &Session{ID: sessionID}
	s.sessions[sessionID] = sess
	logging.SessionDebug("Created session %s", sessionID)
	return sess
}

// Append adds a finalized exchange to the end of the session. The exchange
// must already carry its archival outcome; it is immutable once appended.
func (s *Store) Append(sessionID string, ex types.Exchange) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	sess.Exchanges = append(sess.Exchanges, ex)
	logging.SessionDebug("Appended exchange to %s (len=%d, cost=%d)", sessionID, len(sess.Exchanges), ex.TokenCost)
	return sess
}

// Truncate removes count exchanges starting at index. count is clamped to
// "delete to end" when it overshoots; an out-of-range index is a no-op with
// a descriptive result. Invalid arguments are rejected.
func (s *Store) Truncate(sessionID string, count, index int) (TruncateResult, error) {
	if count <= 0 {
		return TruncateResult{}, fmt.Errorf("count must be positive, got %d", count)
	}
	if index < 0 {
		return TruncateResult{}, fmt.Errorf("index must not be negative, got %d", index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.Exchanges) == 0 {
		return TruncateResult{Message: fmt.Sprintf("session %s not found or empty, nothing to truncate", sessionID)}, nil
	}
	if index >= len(sess.Exchanges) {
		return TruncateResult{
			Remaining: len(sess.Exchanges),
			Message:   fmt.Sprintf("index %d is out of range for session %s (%d exchanges)", index, sessionID, len(sess.Exchanges)),
		}, nil
	}

	end := index + count
	if end > len(sess.Exchanges) {
		end = len(sess.Exchanges)
	}
	removed := end - index
	sess.Exchanges = append(sess.Exchanges[:index], sess.Exchanges[end:]...)

	logging.SessionDebug("Truncated %d exchanges from %s at index %d (%d remain)", removed, sessionID, index, len(sess.Exchanges))
	return TruncateResult{
		Removed:   removed,
		Remaining: len(sess.Exchanges),
		Message:   fmt.Sprintf("removed %d exchanges from session %s, %d remain", removed, sessionID, len(sess.Exchanges)),
	}, nil
}

// EnforceTokenBudget evicts the oldest exchanges until the session's total
// token cost fits the limit. A session with a single over-budget exchange
// keeps it; the current turn still needs its immediate predecessor.
// Returns the number of evicted exchanges.
func (s *Store) EnforceTokenBudget(sessionID string, tokenLimit int) int {
	if tokenLimit <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}

	evicted := 0
	for len(sess.Exchanges) > 1 && sess.TokenCost() > tokenLimit {
		sess.Exchanges = sess.Exchanges[1:]
		evicted++
	}
	if evicted > 0 {
		logging.Get(logging.CategorySession).Info(
			"Evicted %d exchanges from %s to fit token budget %d (now %d tokens)",
			evicted, sessionID, tokenLimit, sess.TokenCost())
	}
	return evicted
}

// List returns a summary of every session, creation order not guaranteed.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, Summary{
			ID:        sess.ID,
			Mode:      sess.Mode,
			Exchanges: len(sess.Exchanges),
			TokenCost: sess.TokenCost(),
		})
	}
	return out
}

// GetMode returns the backend mode for a session ("" = default).
func (s *Store) GetMode(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Mode
	}
	return ""
}

// SetMode switches the backend mode for a session, creating it if needed.
func (s *Store) SetMode(sessionID, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	sess.Mode = mode
}

// Clear drops every session from memory. Restart state is untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}
