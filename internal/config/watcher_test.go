package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("callback-port: 8085\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reloaded := make(chan *Config, 1)
	watcher, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = watcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err = os.WriteFile(path, []byte("callback-port: 9090\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.CallbackPort != 9090 {
			t.Fatalf("reloaded CallbackPort = %d, want 9090", cfg.CallbackPort)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("callback-port: 8085\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reloaded := make(chan *Config, 1)
	watcher, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = watcher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err = os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("unrelated file change must not trigger a reload")
	case <-time.After(500 * time.Millisecond):
	}
}
