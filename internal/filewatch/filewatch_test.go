package filewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/MrWong99/livescribe/internal/filewatch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	debounce    = 20 * time.Millisecond
	waitTimeout = 3 * time.Second
	// quiet is long enough for a spurious callback to show up.
	quiet = 10 * debounce
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// startWatcher runs a watcher for path and returns the channel its callback
// feeds. The watcher is stopped when the test ends.
func startWatcher(t *testing.T, path string) <-chan string {
	t.Helper()
	changes := make(chan string, 16)
	w, err := filewatch.New(path, func(data []byte) { changes <- string(data) },
		filewatch.WithDebounce(debounce))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return changes
}

func expectChange(t *testing.T, changes <-chan string, want string) {
	t.Helper()
	select {
	case got := <-changes:
		if got != want {
			t.Errorf("change: got %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no change notification for %q", want)
	}
}

func expectNoChange(t *testing.T, changes <-chan string) {
	t.Helper()
	select {
	case got := <-changes:
		t.Errorf("unexpected change notification %q", got)
	case <-time.After(quiet):
	}
}

func TestWatcher_ReportsWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, "v1")
	changes := startWatcher(t, path)

	writeFile(t, path, "v2")
	expectChange(t, changes, "v2")
}

func TestWatcher_IgnoresIdenticalContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, "same")
	changes := startWatcher(t, path)

	writeFile(t, path, "same")
	expectNoChange(t, changes)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeFile(t, path, "v1")
	changes := startWatcher(t, path)

	writeFile(t, filepath.Join(dir, "other.yaml"), "noise")
	expectNoChange(t, changes)
}

func TestWatcher_FollowsRenameSave(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeFile(t, path, "v1")
	changes := startWatcher(t, path)

	tmp := filepath.Join(dir, ".rules.yaml.swp")
	writeFile(t, tmp, "v2")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	expectChange(t, changes, "v2")
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, "v0")
	changes := startWatcher(t, path)

	for _, v := range []string{"v1", "v2", "v3"} {
		writeFile(t, path, v)
	}
	expectChange(t, changes, "v3")
	expectNoChange(t, changes)
}

func TestWatcher_MissingFileIsCreatedLater(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "later.yaml")
	changes := startWatcher(t, path)

	writeFile(t, path, "created")
	expectChange(t, changes, "created")
}

func TestNew_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := filewatch.New(filepath.Join(t.TempDir(), "nope", "rules.yaml"), nil)
	if err == nil {
		t.Fatal("expected an error for a missing parent directory")
	}
}

func TestWatcher_CloseStopsRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	w, err := filewatch.New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.Path() != path {
		t.Errorf("Path: got %q, want %q", w.Path(), path)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after Close")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
