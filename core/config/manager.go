package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the live configuration and reloads it when the file on disk
// changes. Readers get a consistent snapshot through Get; they never observe
// a half-applied reload.
type Manager struct {
	path      string
	current   atomic.Pointer[Config]
	watchers  []func(Config)
	watcherMu sync.RWMutex
	logger    *slog.Logger
}

// NewManager loads the initial configuration from path.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, logger: logger}
	m.current.Store(&cfg)
	return m, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() Config {
	return *m.current.Load()
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(fn func(Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

// Watch reloads the configuration whenever the file changes, until ctx is
// cancelled. A reload that fails validation keeps the previous configuration.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Warn("config reload failed, keeping previous", "path", m.path, "error", err)
		return
	}

	m.current.Store(&cfg)
	m.logger.Info("config reloaded", "path", m.path)

	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()
	for _, fn := range watchers {
		fn(cfg)
	}
}
