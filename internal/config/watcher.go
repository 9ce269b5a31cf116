package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce collapses editor write bursts into a single reload.
const reloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration file on change and notifies a callback.
type Watcher struct {
	configPath     string
	reloadCallback func(*Config)
	watcher        *fsnotify.Watcher
	reloadMu       sync.Mutex
	reloadTimer    *time.Timer
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(configPath string, reloadCallback func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}, nil
}

// Start begins watching the configuration file directory until ctx is done.
// Watching the parent directory keeps atomic replace (rename) visible.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, func() {
		cfg, err := LoadConfig(w.configPath)
		if err != nil {
			log.Warnf("config reload failed: %v", err)
			return
		}
		log.Info("configuration reloaded")
		if w.reloadCallback != nil {
			w.reloadCallback(cfg)
		}
	})
}
