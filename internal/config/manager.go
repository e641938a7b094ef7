package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config      atomic.Pointer[Config]
	status      atomic.Pointer[Status]
	reloadCount atomic.Uint64
	path        string
	watcher     *fsnotify.Watcher
	onChange    []func(*Config)
	logger      *slog.Logger
}

// Status describes the currently loaded configuration.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount uint64    `json:"reload_count"`
}

// NewManager creates a new configuration manager. An empty path loads
// defaults plus environment overrides and cannot be watched.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)
	m.storeStatus()

	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status reports the currently loaded file, its checksum, and how many
// times the configuration has been (re)loaded.
func (m *Manager) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Debounce timer to avoid rapid reloads
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Reset debounce timer
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload config, keeping current",
							"error", err,
						)
					}
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Reload re-reads the configuration file and swaps it in atomically.
// The running configuration is kept when the new one fails to load.
func (m *Manager) Reload() error {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		return err
	}

	old := m.config.Load()

	// Atomic swap
	m.config.Store(newCfg)
	m.storeStatus()
	m.logger.Info("configuration reloaded successfully")

	// A version bump moves every key prefix, so flag it loudly.
	if old != nil && old.Cache.Version != newCfg.Cache.Version {
		m.logger.Info("cache version changed, previous entries orphaned",
			"old_version", old.Cache.Version,
			"new_version", newCfg.Cache.Version,
		)
	}
	if old != nil && old.Server.Port != newCfg.Server.Port {
		m.logger.Warn("server port change requires restart",
			"running_port", old.Server.Port,
			"configured_port", newCfg.Server.Port,
		)
	}

	// Notify listeners
	for _, fn := range m.onChange {
		fn(newCfg)
	}
	return nil
}

func (m *Manager) storeStatus() {
	sum := ""
	if m.path != "" {
		if data, err := os.ReadFile(m.path); err == nil {
			h := sha256.Sum256(data)
			sum = hex.EncodeToString(h[:])
		}
	}
	m.status.Store(&Status{
		Path:        m.path,
		Checksum:    sum,
		LoadedAt:    time.Now().UTC(),
		ReloadCount: m.reloadCount.Add(1),
	})
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
