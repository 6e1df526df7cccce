// Package cache manages the remote context cache that holds the persona's
// system instructions. The remote handle is mirrored into the local record
// store keyed by (persona, model) together with a hash of the instructions,
// so a restart can revalidate the handle instead of paying for a fresh
// cache, and an instruction edit forces recreation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"synapse/internal/backend"
	"synapse/internal/logging"
	"synapse/internal/store"
)

// InstructionSource yields the current system-instruction text. Kept as a
// function so edits to the underlying file are picked up on revalidation.
type InstructionSource func() (string, error)

// Manager owns the cache lifecycle for one (persona, model) pair.
type Manager struct {
	records      *store.RecordStore
	backend      backend.CacheClient
	persona      string
	model        string
	instructions InstructionSource
	ttlSeconds   int
}

// NewManager wires a cache manager. The backend may be nil for providers
// without a remote cache; every call then returns ErrCacheUnsupported or an
// empty handle as documented per method.
func NewManager(records *store.RecordStore, bc backend.CacheClient, persona, model string, src InstructionSource, ttlSeconds int) *Manager {
	return &Manager{
		records:      records,
		backend:      bc,
		persona:      persona,
		model:        model,
		instructions: src,
		ttlSeconds:   ttlSeconds,
	}
}

// Supported reports whether the backend can cache at all.
func (m *Manager) Supported() bool { return m.backend != nil }

// GetOrCreate returns a cache handle that is verified valid right now.
//
// The stored record is trusted only after two checks: the instruction hash
// must match the current instructions, and the remote side must still know
// the handle. A hash mismatch or a remote 404 silently recreates; any other
// remote error propagates so a transient outage is not mistaken for an
// expired cache.
func (m *Manager) GetOrCreate(ctx context.Context) (string, error) {
	if m.backend == nil {
		return "", backend.ErrCacheUnsupported
	}
	timer := logging.StartTimer(logging.CategoryCache, "GetOrCreate")
	defer timer.Stop()

	text, err := m.instructions()
	if err != nil {
		return "", fmt.Errorf("failed to load instructions: %w", err)
	}
	hash := hashInstructions(text)

	rec, err := m.records.GetCacheRecord(m.persona, m.model)
	if err != nil {
		return "", fmt.Errorf("failed to load cache record: %w", err)
	}

	if rec != nil {
		if rec.InstructionHash != hash {
			logging.Get(logging.CategoryCache).Info(
				"Instructions changed for persona %s, recreating cache", m.persona)
			return m.create(ctx, text, hash)
		}
		probeErr := m.backend.CacheGet(ctx, rec.CacheHandle)
		if probeErr == nil {
			logging.CacheDebug("Cache handle %s still valid", rec.CacheHandle)
			return rec.CacheHandle, nil
		}
		if errors.Is(probeErr, backend.ErrCacheNotFound) {
			logging.Get(logging.CategoryCache).Info(
				"Cache handle %s expired remotely, recreating", rec.CacheHandle)
			return m.create(ctx, text, hash)
		}
		return "", fmt.Errorf("cache probe failed: %w", probeErr)
	}

	return m.create(ctx, text, hash)
}

// UpdateTTL pushes the cache expiry out by the configured TTL and bumps the
// local last_updated stamp. Failures are logged, not returned; a missed
// refresh only means the next turn revalidates.
func (m *Manager) UpdateTTL(ctx context.Context, handle string) {
	if m.backend == nil || handle == "" {
		return
	}
	if err := m.backend.CacheUpdateTTL(ctx, handle, m.ttlSeconds); err != nil {
		logging.Get(logging.CategoryCache).Warn("TTL refresh failed for %s: %v", handle, err)
		return
	}
	if err := m.records.TouchCacheRecord(m.persona, m.model); err != nil {
		logging.Get(logging.CategoryCache).Warn("Failed to stamp cache record: %v", err)
	}
	logging.CacheDebug("Refreshed TTL for %s (+%ds)", handle, m.ttlSeconds)
}

// InvalidateAndRecreate discards the stored handle and builds a fresh cache
// from the current instructions. Used when the instruction file changes on
// disk mid-process.
func (m *Manager) InvalidateAndRecreate(ctx context.Context) (string, error) {
	if m.backend == nil {
		return "", backend.ErrCacheUnsupported
	}
	text, err := m.instructions()
	if err != nil {
		return "", fmt.Errorf("failed to load instructions: %w", err)
	}
	return m.create(ctx, text, hashInstructions(text))
}

// create builds the remote cache and replaces the local record. The record
// write uses INSERT OR REPLACE, so a superseded handle simply stops being
// referenced and ages out remotely on its own TTL.
func (m *Manager) create(ctx context.Context, text, hash string) (string, error) {
	handle, err := m.backend.CacheCreate(ctx, text, m.ttlSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to create context cache: %w", err)
	}
	rec := &store.CacheRecord{
		Persona:         m.persona,
		Model:           m.model,
		CacheHandle:     handle,
		InstructionHash: hash,
	}
	if err := m.records.PutCacheRecord(rec); err != nil {
		// The remote cache exists but the next start will recreate it.
		logging.Get(logging.CategoryCache).Error("Failed to persist cache record for %s: %v", handle, err)
	}
	logging.Get(logging.CategoryCache).Info("Created context cache %s for persona %s", handle, m.persona)
	return handle, nil
}

func hashInstructions(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
