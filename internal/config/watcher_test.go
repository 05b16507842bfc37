package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

const watcherValidYAML = `
log_level: info
rules:
  path: kana.yaml
`

const watcherUpdatedYAML = `
log_level: debug
rules:
  path: kana.yaml
  default: katakana
`

const watcherInvalidYAML = `
log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

type change struct{ old, new *config.Config }

// runWatcher starts w and stops it when the test ends.
func runWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	changes := make(chan change, 4)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		changes <- change{old, new}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runWatcher(t, w)

	writeFile(t, cfgPath, watcherUpdatedYAML)

	var c change
	select {
	case c = <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	if c.old.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", c.old.LogLevel, config.LogInfo)
	}
	if c.new.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", c.new.LogLevel, config.LogDebug)
	}
	if d := config.Diff(c.old, c.new); !d.DefaultRulesetChanged || d.NewDefaultRuleset != "katakana" {
		t.Errorf("diff should report the new default ruleset, got %+v", d)
	}
	if cur := w.Current(); cur.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	changes := make(chan change, 4)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		changes <- change{old, new}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runWatcher(t, w)

	writeFile(t, cfgPath, watcherInvalidYAML)

	select {
	case c := <-changes:
		t.Errorf("callback should not be called for invalid config, got %+v", c.new)
	case <-time.After(time.Second):
	}
	if cur := w.Current(); cur.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.LogLevel)
	}
}

func TestWatcher_OverridesApplied(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	pin := func(cfg *config.Config) error {
		cfg.Rules.Default = "pinned"
		return nil
	}
	w, err := config.NewWatcher(cfgPath, nil, config.WithOverrides(pin))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if got := w.Current().Rules.Default; got != "pinned" {
		t.Errorf("Rules.Default: got %q, want %q", got, "pinned")
	}

	reject := func(*config.Config) error { return errors.New("nope") }
	if _, err := config.NewWatcher(cfgPath, nil, config.WithOverrides(reject)); err == nil {
		t.Error("expected the initial load to fail when overrides fail")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}
