package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
)

// DoWatch keeps the ticket listing on screen, re-rendering on a fixed interval
// and immediately whenever the configuration file is edited. It runs until
// interrupted.
func DoWatch(cfg *config.Config, configFilePath, filter string, interval time.Duration) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reloads := make(chan *config.Config, 1)
	watcher, err := config.NewWatcher(configFilePath, func(next *config.Config) {
		// Keep only the newest config when renders lag behind edits.
		select {
		case reloads <- next:
		default:
		}
	})
	if err != nil {
		log.Errorf("config watcher setup failed: %v", err)
		return
	}
	if err = watcher.Start(ctx); err != nil {
		log.Errorf("config watcher setup failed: %v", err)
		return
	}

	log.Infof("watching tickets every %s, edit %s to reconfigure on the fly", interval, configFilePath)
	watchLoop(ctx, cfg, interval, reloads, func(current *config.Config) {
		fmt.Printf("--- %s ---\n", time.Now().Format("15:04:05"))
		DoTickets(current, filter)
	})
}

// watchLoop renders once immediately, then on every tick and on every reload.
// A reloaded config replaces the active one for all subsequent renders.
func watchLoop(ctx context.Context, cfg *config.Config, interval time.Duration, reloads <-chan *config.Config, render func(*config.Config)) {
	render(cfg)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-reloads:
			cfg = next
			render(cfg)
		case <-ticker.C:
			render(cfg)
		}
	}
}
