package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"synapse/internal/logging"
)

// =============================================================================
// CACHE RECORDS (context-cache metadata, one row per persona/model pair)
// =============================================================================

// CacheRecord describes one active remote inference-context cache.
type CacheRecord struct {
	Persona         string
	Model           string
	CacheHandle     string
	InstructionHash string
	CreatedAt       time.Time
	LastUpdated     time.Time
}

// GetCacheRecord loads the cache record for a (persona, model) pair.
// Returns (nil, nil) when no record exists.
func (s *RecordStore) GetCacheRecord(persona, model string) (*CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec CacheRecord
	err := s.db.QueryRow(
		`SELECT persona, model, cache_handle, instruction_hash, created_at, last_updated
		 FROM context_caches WHERE persona = ? AND model = ?`,
		persona, model,
	).Scan(&rec.Persona, &rec.Model, &rec.CacheHandle, &rec.InstructionHash, &rec.CreatedAt, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cache record: %w", err)
	}
	return &rec, nil
}

// PutCacheRecord overwrites the cache record for its (persona, model) pair.
// Replacement is the only mutation: a stale handle is never updated in place.
func (s *RecordStore) PutCacheRecord(rec *CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.CacheDebug("Storing cache record: persona=%s model=%s handle=%s", rec.Persona, rec.Model, rec.CacheHandle)

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO context_caches
		 (persona, model, cache_handle, instruction_hash, created_at, last_updated)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		rec.Persona, rec.Model, rec.CacheHandle, rec.InstructionHash,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache record: %w", err)
	}
	return nil
}

// TouchCacheRecord bumps last_updated after a successful TTL refresh.
func (s *RecordStore) TouchCacheRecord(persona, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE context_caches SET last_updated = CURRENT_TIMESTAMP WHERE persona = ? AND model = ?",
		persona, model,
	)
	if err != nil {
		return fmt.Errorf("failed to touch cache record: %w", err)
	}
	return nil
}
