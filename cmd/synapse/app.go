package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"synapse/internal/archive"
	"synapse/internal/backend"
	"synapse/internal/brain"
	"synapse/internal/cache"
	"synapse/internal/config"
	"synapse/internal/embedding"
	"synapse/internal/logging"
	"synapse/internal/session"
	"synapse/internal/store"
	"synapse/internal/tools"
	"synapse/internal/vector"
)

// app is the fully wired runtime: stores, backends, brain.
type app struct {
	cfg     *config.Config
	brain   *brain.Brain
	records *store.RecordStore
	vectors *vector.VectorStore
	arch    *archive.Orchestrator
	watcher *cache.Watcher
}

// buildApp loads config and assembles every layer. The caller owns the
// returned app and must Close it.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFromWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(workspace); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	if actor == "" {
		actor = cfg.PrimaryOperator
	}

	records, err := store.NewRecordStore(workspacePath(cfg.Memory.DatabasePath), cfg.PrimaryOperator)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	engine, err := embedding.NewFromConfig(cfg.Memory.Embedding)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("failed to build embedding engine: %w", err)
	}
	vectors, err := vector.NewVectorStore(workspacePath(cfg.Memory.VectorPath), engine, cfg.PrimaryOperator)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	arch := archive.NewOrchestrator(records, vectors)
	sessions := session.NewStore(records)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)

	instructionsPath := workspacePath(cfg.LLM.InstructionsPath)
	instructions := func() (string, error) {
		data, err := os.ReadFile(instructionsPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", err
		}
		return string(data), nil
	}

	backends := make(map[string]backend.Client)
	if cfg.LLM.GeminiAPIKey != "" {
		gc, err := backend.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel)
		if err != nil {
			logger.Warn("gemini backend unavailable", zap.Error(err))
		} else {
			backends["gemini"] = gc
		}
	}
	backends["ollama"] = backend.NewOllamaClient(backend.OllamaConfig{
		Endpoint: cfg.LLM.OllamaEndpoint,
		Model:    cfg.LLM.OllamaModel,
	})
	if _, ok := backends[cfg.LLM.Provider]; !ok {
		records.Close()
		vectors.Close()
		return nil, fmt.Errorf("default provider %q is not available (missing API key?)", cfg.LLM.Provider)
	}

	var caches *cache.Manager
	var watcher *cache.Watcher
	if gc, ok := backends["gemini"].(backend.CacheClient); ok {
		caches = cache.NewManager(records, gc, cfg.Persona, cfg.LLM.GeminiModel, instructions, cfg.Limits.CacheTTLSeconds)
		watcher, err = cache.NewWatcher(caches, instructionsPath)
		if err != nil {
			logger.Warn("instruction watcher unavailable", zap.Error(err))
		}
	}

	br, err := brain.New(cfg, sessions, arch, caches, registry, backends, instructions)
	if err != nil {
		records.Close()
		vectors.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		brain:   br,
		records: records,
		vectors: vectors,
		arch:    arch,
		watcher: watcher,
	}, nil
}

// Close releases every resource the app holds.
func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	_ = a.vectors.Close()
	_ = a.records.Close()
	logging.Close()
}

// workspacePath resolves a config path against the workspace flag unless it
// is already absolute.
func workspacePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
