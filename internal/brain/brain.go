// Package brain is the turn orchestrator. It owns the brain lock (one turn
// at a time across the whole process), drives the streaming tool loop
// against the configured backend, and finalizes every turn into the session
// store and the archive.
package brain

import (
	"context"
	"fmt"
	"sync"

	"synapse/internal/archive"
	"synapse/internal/backend"
	"synapse/internal/cache"
	"synapse/internal/config"
	"synapse/internal/logging"
	"synapse/internal/session"
	"synapse/internal/tools"
)

// Brain coordinates sessions, memory, caching and inference.
type Brain struct {
	// mu is the brain lock. Every turn holds it end to end, so concurrent
	// callers queue rather than interleave store writes.
	mu sync.Mutex

	cfg      *config.Config
	sessions *session.Store
	archive  *archive.Orchestrator
	caches   *cache.Manager
	registry *tools.Registry

	// backends maps mode names to clients. The "" key is the default mode
	// resolved from config.
	backends map[string]backend.Client

	// instructions yields the system prompt for backends without a remote
	// cache and for cache-miss fallback.
	instructions cache.InstructionSource

	// restartPending is set once a restart snapshot has been saved, so turn
	// events can tell front-ends a restart is coming. Guarded by mu.
	restartPending bool
}

// New assembles a brain. caches may be nil when the active backend has no
// remote cache; instructions must never be nil.
func New(cfg *config.Config, sessions *session.Store, arch *archive.Orchestrator, caches *cache.Manager, registry *tools.Registry, backends map[string]backend.Client, instructions cache.InstructionSource) (*Brain, error) {
	if _, ok := backends[cfg.LLM.Provider]; !ok {
		return nil, fmt.Errorf("no backend registered for default provider %q", cfg.LLM.Provider)
	}
	if instructions == nil {
		return nil, fmt.Errorf("instruction source must not be nil")
	}
	return &Brain{
		cfg:          cfg,
		sessions:     sessions,
		archive:      arch,
		caches:       caches,
		registry:     registry,
		backends:     backends,
		instructions: instructions,
	}, nil
}

// clientFor resolves the backend for a session's mode, falling back to the
// configured default for unknown modes.
func (b *Brain) clientFor(sessionID string) backend.Client {
	mode := b.sessions.GetMode(sessionID)
	if mode == "" {
		mode = b.cfg.LLM.Provider
	}
	if c, ok := b.backends[mode]; ok {
		return c
	}
	logging.Get(logging.CategoryBrain).Warn("Unknown mode %q for session %s, using default", mode, sessionID)
	return b.backends[b.cfg.LLM.Provider]
}

// ListSessions returns a summary of every live session.
func (b *Brain) ListSessions() []session.Summary {
	return b.sessions.List()
}

// Truncate removes exchanges from a session. Runs under the brain lock so
// it never races an in-flight turn.
func (b *Brain) Truncate(sessionID string, count, index int) (session.TruncateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions.Truncate(sessionID, count, index)
}

// GetMode returns the backend mode of a session.
func (b *Brain) GetMode(sessionID string) string {
	return b.sessions.GetMode(sessionID)
}

// SetMode switches a session's backend mode. The next turn uses it.
func (b *Brain) SetMode(sessionID, mode string) error {
	if mode != "" {
		if _, ok := b.backends[mode]; !ok {
			return fmt.Errorf("unknown mode %q", mode)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions.SetMode(sessionID, mode)
	return nil
}

// SaveStateForRestart persists every session for a planned restart. Holds
// the brain lock so no turn finalizes into a half-saved snapshot.
func (b *Brain) SaveStateForRestart() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sessions.SaveAll() {
		return false
	}
	b.restartPending = true
	return true
}

// LoadStateOnRestart restores sessions saved by a previous process. The
// underlying load is destructive; calling it twice restores nothing the
// second time.
func (b *Brain) LoadStateOnRestart() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restartPending = false
	return b.sessions.LoadAll()
}

// WarmCache creates or revalidates the context cache ahead of the first
// turn. A failure is not fatal; turns fall back to inline instructions.
func (b *Brain) WarmCache(ctx context.Context) {
	if b.caches == nil || !b.caches.Supported() {
		return
	}
	if _, err := b.caches.GetOrCreate(ctx); err != nil {
		logging.Get(logging.CategoryBrain).Warn("Cache warmup failed: %v", err)
	}
}
