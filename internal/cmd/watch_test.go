package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
)

func awaitRender(t *testing.T, rendered <-chan *config.Config) *config.Config {
	t.Helper()
	select {
	case cfg := <-rendered:
		return cfg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a render")
		return nil
	}
}

func TestWatchLoopRendersImmediatelyAndOnReload(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := &config.Config{BaseURL: "https://initial.example.com"}
	updated := &config.Config{BaseURL: "https://updated.example.com"}
	reloads := make(chan *config.Config, 1)
	rendered := make(chan *config.Config, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchLoop(ctx, initial, time.Hour, reloads, func(cfg *config.Config) {
			rendered <- cfg
		})
	}()

	if got := awaitRender(t, rendered); got != initial {
		t.Fatalf("first render used %+v, want the initial config", got)
	}

	reloads <- updated
	if got := awaitRender(t, rendered); got != updated {
		t.Fatalf("render after reload used %+v, want the reloaded config", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watchLoop did not stop on context cancel")
	}
}

func TestWatchLoopRendersOnInterval(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{BaseURL: "https://youtrack.example.com"}
	rendered := make(chan *config.Config, 8)
	go watchLoop(ctx, cfg, 20*time.Millisecond, make(chan *config.Config), func(current *config.Config) {
		rendered <- current
	})

	// Immediate render plus at least one tick.
	awaitRender(t, rendered)
	if got := awaitRender(t, rendered); got != cfg {
		t.Fatalf("tick render used %+v, want the active config", got)
	}
}
