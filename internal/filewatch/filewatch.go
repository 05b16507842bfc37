// Package filewatch notifies about content changes of a single file.
//
// The parent directory is watched rather than the file itself so that
// editors which save by writing a temporary file and renaming it over the
// original keep being tracked. Bursts of events are debounced, and a
// callback fires only when the file's SHA-256 digest actually changed.
package filewatch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before the file
// is read again.
const DefaultDebounce = 200 * time.Millisecond

// Option configures a [Watcher].
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watcher watches one file and calls onChange with the new content whenever
// it changes.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(data []byte)
	log      *slog.Logger

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
	closeErr  error

	// lastSum is only touched by the Run goroutine after construction.
	lastSum [sha256.Size]byte
}

// New creates a watcher for path. The current content (if the file exists)
// becomes the baseline, so only later modifications trigger onChange.
func New(path string, onChange func(data []byte), opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filewatch: resolve %q: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}

	if data, err := os.ReadFile(abs); err == nil {
		w.lastSum = sha256.Sum256(data)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("filewatch: read %q: %w", abs, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("filewatch: watch %q: %w", filepath.Dir(abs), err)
	}
	w.fsw = fsw
	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Run dispatches change notifications until ctx is cancelled or the watcher
// is closed. Callbacks run on the calling goroutine. Run returns nil in both
// cases.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug("filewatch: event", "path", w.path, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filewatch: watcher error", "path", w.path, "err", err)

		case <-timer.C:
			w.check()
		}
	}
}

// check reads the file and reports it when the digest differs from the last
// one seen. A missing file is not an error: a rename-based save briefly
// removes it, and the following create event triggers another check.
func (w *Watcher) check() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.log.Warn("filewatch: cannot read file", "path", w.path, "err", err)
		}
		return
	}
	sum := sha256.Sum256(data)
	if sum == w.lastSum {
		return
	}
	w.lastSum = sum
	w.log.Info("filewatch: file changed", "path", w.path)
	if w.onChange != nil {
		w.onChange(data)
	}
}

// Close releases the underlying OS watch. Run returns once it is closed.
// Close is idempotent.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}
