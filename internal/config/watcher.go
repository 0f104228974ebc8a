package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gatewaycore/internal/types"
)

const debounceDuration = 500 * time.Millisecond

// Watcher watches for configuration changes
type Watcher struct {
	loader    *Loader
	logger    types.Logger
	callbacks []func(*types.GatewayConfig)
	mu        sync.RWMutex
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	config    *types.GatewayConfig
	file      string
}

// NewWatcher creates a new configuration watcher
func NewWatcher(loader *Loader, logger types.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		loader:  loader,
		logger:  logger.With("component", "config"),
		watcher: fsWatcher,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start loads the initial configuration and starts watching the file it
// came from. Without a config file nothing is watched.
func (w *Watcher) Start(ctx context.Context) error {
	cfg, err := w.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()

	w.file = w.loader.ConfigFileUsed()
	if w.file == "" {
		return nil
	}

	// Editors often replace the file, so the directory is watched
	if err := w.watcher.Add(filepath.Dir(w.file)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	w.logger.Info("watching configuration file", "file", w.file)

	w.wg.Add(1)
	go w.watch(ctx)
	return nil
}

// Stop stops the configuration watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// OnChange registers a callback for configuration changes
func (w *Watcher) OnChange(callback func(*types.GatewayConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Config returns the current configuration
func (w *Watcher) Config() *types.GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.file) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("configuration file changed", "file", event.Name, "op", event.Op.String())

				// Reset debounce timer
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error", "error", err)
		}
	}
}

// reload reloads the configuration and notifies callbacks when it changed.
// An invalid file keeps the previous configuration in force.
func (w *Watcher) reload() {
	w.logger.Info("reloading configuration")

	newCfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("failed to reload configuration", "error", err)
		return
	}

	w.mu.Lock()
	oldCfg := w.config
	w.config = newCfg
	callbacks := make([]func(*types.GatewayConfig), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	if reflect.DeepEqual(oldCfg, newCfg) {
		w.logger.Debug("configuration unchanged after reload")
		return
	}

	for _, callback := range callbacks {
		func(cb func(*types.GatewayConfig)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("configuration change callback panicked", "error", r)
				}
			}()
			cb(newCfg)
		}(callback)
	}

	w.logger.Info("configuration reloaded")
}
