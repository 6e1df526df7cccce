package cache

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"synapse/internal/logging"
)

// Watcher recreates the context cache when the instruction file changes on
// disk, so an edited persona takes effect without a restart.
type Watcher struct {
	manager *Manager
	path    string
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the instruction file's directory. Watching the
// directory instead of the file survives editors that replace the file by
// rename.
func NewWatcher(manager *Manager, instructionsPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(instructionsPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		manager: manager,
		path:    filepath.Clean(instructionsPath),
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Get(logging.CategoryCache).Info("Instruction file changed, recreating cache")
			if _, err := w.manager.InvalidateAndRecreate(context.Background()); err != nil {
				logging.Get(logging.CategoryCache).Error("Cache recreation after file change failed: %v", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCache).Warn("Watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
