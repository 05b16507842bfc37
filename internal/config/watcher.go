package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livescribe/internal/filewatch"
)

// Watcher keeps the most recent valid config of a file and reports changes.
// Invalid edits are logged and ignored; the previous config stays current.
type Watcher struct {
	fw       *filewatch.Watcher
	onChange func(old, new *Config)
	override func(*Config) error
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithOverrides applies fn to every freshly parsed config before it becomes
// current, typically [ApplyEnv] so environment variables keep precedence
// over the file. A config for which fn fails is rejected.
func WithOverrides(fn func(*Config) error) WatcherOption {
	return func(w *Watcher) {
		w.override = fn
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the config at path and prepares to watch it. Call
// [Watcher.Run] to start receiving changes.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{onChange: onChange, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	if err := w.applyOverride(cfg); err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg

	fw, err := filewatch.New(path, w.reload, filewatch.WithLogger(w.log))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	w.fw = fw
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	return w.fw.Run(ctx)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) applyOverride(cfg *Config) error {
	if w.override == nil {
		return nil
	}
	return w.override(cfg)
}

// reload parses changed file content and publishes it when valid.
func (w *Watcher) reload(data []byte) {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err == nil {
		err = w.applyOverride(cfg)
	}
	if err != nil {
		w.log.Warn("config watcher: ignoring invalid config", "path", w.fw.Path(), "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.fw.Path())

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
