package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"filedrop/internal/model"
)

func startWatcher(t *testing.T, root string, ignore []string) *Watcher {
	t.Helper()

	w, err := New(root, Options{BufferSize: 16, Ignore: ignore})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

// untilReady drains the initial scan and returns its events keyed by path.
func untilReady(t *testing.T, w *Watcher) map[string]model.FileEvent {
	t.Helper()

	seen := make(map[string]model.FileEvent)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				t.Fatal("events closed before ready")
			}
			if event.Type == model.EventReady {
				return seen
			}
			seen[event.Path] = event
		case <-deadline:
			t.Fatal("timed out waiting for ready")
		}
	}
}

func waitFor(t *testing.T, w *Watcher, eventType model.EventType, path string) model.FileEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s %q", eventType, path)
			}
			if event.Type == eventType && event.Path == path {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s %q", eventType, path)
		}
	}
}

func TestWatcherInitialScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "f1.txt"), "0123456789")
	writeFile(t, filepath.Join(root, "top.txt"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "secret"), "x")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := startWatcher(t, root, []string{".*"})
	seen := untilReady(t, w)

	expect := map[string]model.EventType{
		"":         model.EventFolderAdded,
		"a":        model.EventFolderAdded,
		"a/f1.txt": model.EventFileAdded,
		"top.txt":  model.EventFileAdded,
		"empty":    model.EventFolderAdded,
	}
	if len(seen) != len(expect) {
		t.Fatalf("expected %d scan events, got %d: %v", len(expect), len(seen), seen)
	}
	for path, eventType := range expect {
		event, ok := seen[path]
		if !ok {
			t.Errorf("missing scan event for %q", path)
			continue
		}
		if event.Type != eventType {
			t.Errorf("expected %s for %q, got %s", eventType, path, event.Type)
		}
	}

	f1 := seen["a/f1.txt"]
	if f1.Meta.Size != 10 {
		t.Errorf("expected size 10, got %d", f1.Meta.Size)
	}
	if f1.Meta.Timestamp() == nil {
		t.Error("expected a timestamp for a scanned file")
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)
	untilReady(t, w)

	path := filepath.Join(root, "new.txt")
	writeFile(t, path, "hello")
	waitFor(t, w, model.EventFileAdded, "new.txt")

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	waitFor(t, w, model.EventFileRemoved, "new.txt")
}

func TestWatcherTracksNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)
	untilReady(t, w)

	dir := filepath.Join(root, "sub")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	waitFor(t, w, model.EventFolderAdded, "sub")

	writeFile(t, filepath.Join(dir, "inner.txt"), "x")
	waitFor(t, w, model.EventFileAdded, "sub/inner.txt")

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	waitFor(t, w, model.EventFolderRemoved, "sub")
}

func TestWatcherStartRejectsMissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)
	untilReady(t, w)

	w.Stop()
	w.Stop()

	select {
	case _, ok := <-w.Events():
		for ok {
			_, ok = <-w.Events()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed after stop")
	}
}
