// Package models maintains the registry of locally installed models. Each
// immediate subdirectory of the models directory holding a manifest.yaml is
// one installed model; the registry indexes them for case-insensitive lookup
// and reloads when the directory changes.
package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay batches bursts of filesystem events (a model download touches
// many files) into a single reload.
const settleDelay = 300 * time.Millisecond

type Registry struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	models map[string]Model
}

func NewRegistry(dir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		dir:    dir,
		logger: logger,
		models: make(map[string]Model),
	}
}

// Load scans the models directory and replaces the index. A missing
// directory yields an empty registry, not an error; unreadable manifests are
// skipped and logged.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.replace(make(map[string]Model))
			return nil
		}
		return fmt.Errorf("read models dir: %w", err)
	}

	found := make(map[string]Model)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.dir, entry.Name())
		m, err := loadManifest(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("skipping model dir",
					zap.String("dir", dir),
					zap.Error(err))
			}
			continue
		}
		found[Canonical(m.Name)] = m
	}
	r.replace(found)
	return nil
}

// List returns the installed models sorted by name.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve finds an installed model by requested name, case-insensitively and
// accepting a :tag suffix.
func (r *Registry) Resolve(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[Canonical(name)]
	return m, ok
}

// Len reports how many models are installed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

func (r *Registry) replace(models map[string]Model) {
	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
}

// Watch reloads the registry whenever the models directory changes, until
// ctx is done. Events are debounced so a multi-file install triggers one
// reload.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create models watcher: %w", err)
	}
	defer watcher.Close()
	r.addWatchDirs(watcher)

	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			settle.Reset(settleDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("models watcher error", zap.Error(err))
		case <-settle.C:
			if err := r.Load(); err != nil {
				r.logger.Warn("models reload failed", zap.Error(err))
				continue
			}
			r.addWatchDirs(watcher)
			r.logger.Info("models registry reloaded", zap.Int("count", r.Len()))
		}
	}
}

// addWatchDirs registers the root and every model directory. fsnotify does
// not recurse, so manifest edits inside a model directory need their own
// watch.
func (r *Registry) addWatchDirs(watcher *fsnotify.Watcher) {
	if err := watcher.Add(r.dir); err != nil {
		r.logger.Debug("watch models dir", zap.String("dir", r.dir), zap.Error(err))
	}
	for _, m := range r.List() {
		if err := watcher.Add(m.Dir); err != nil {
			r.logger.Debug("watch model dir", zap.String("dir", m.Dir), zap.Error(err))
		}
	}
}
