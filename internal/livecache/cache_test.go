package livecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filedrop/internal/model"
	"filedrop/internal/snapshot"
	"filedrop/internal/watcher"
)

type fakeSource struct {
	ch   chan model.FileEvent
	once sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan model.FileEvent, 64)}
}

func (f *fakeSource) Events() <-chan model.FileEvent { return f.ch }
func (f *fakeSource) Start() error                   { return nil }
func (f *fakeSource) Stop()                          { f.once.Do(func() { close(f.ch) }) }

type failingSource struct{ *fakeSource }

func (f *failingSource) Start() error { return errors.New("boom") }

func ms(v int64) *time.Time {
	t := time.UnixMilli(v)
	return &t
}

func fileEvent(eventType model.EventType, path string, ts int64) model.FileEvent {
	return model.FileEvent{Type: eventType, Path: path, Meta: model.Meta{Mtime: ms(ts), Size: 1}}
}

func folderEvent(path string, ts int64) model.FileEvent {
	return model.FileEvent{Type: model.EventFolderAdded, Path: path, Meta: model.Meta{Mtime: ms(ts)}}
}

// readyCache returns a cache that has applied the given events followed by
// READY, without a running source.
func readyCache(t *testing.T, events ...model.FileEvent) *Cache {
	t.Helper()

	c := New(newFakeSource(), Options{OrderByTime: true})
	for _, e := range events {
		c.Apply(e)
	}
	c.Apply(model.FileEvent{Type: model.EventReady})
	return c
}

func mustGet(t *testing.T, c *Cache) (*snapshot.Entry, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, fp, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return snap, fp
}

func TestGetWaitsForReady(t *testing.T) {
	source := newFakeSource()
	c := New(source, Options{OrderByTime: true})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	type got struct {
		snap *snapshot.Entry
		err  error
	}
	resultCh := make(chan got, 1)
	go func() {
		snap, _, err := c.Get(context.Background())
		resultCh <- got{snap, err}
	}()

	source.ch <- folderEvent("", 1)
	source.ch <- fileEvent(model.EventFileAdded, "one", 1)

	select {
	case <-resultCh:
		t.Fatal("get returned before ready")
	case <-time.After(50 * time.Millisecond):
	}

	source.ch <- fileEvent(model.EventFileAdded, "two", 2)
	source.ch <- model.FileEvent{Type: model.EventReady}

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("get: %v", r.err)
		}
		if len(r.snap.Contents) != 2 {
			t.Errorf("expected the full initial tree, got %d entries", len(r.snap.Contents))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("get did not return after ready")
	}

	select {
	case <-c.Ready():
	default:
		t.Error("ready channel should be closed")
	}
}

func TestGetHonoursContext(t *testing.T) {
	c := New(newFakeSource(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := c.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGetIsMemoized(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "a/f", 1))

	first, fp1 := mustGet(t, c)
	second, fp2 := mustGet(t, c)

	if first != second {
		t.Error("expected the same snapshot for an unchanged tree")
	}
	if fp1 != fp2 {
		t.Errorf("fingerprints differ: %s vs %s", fp1, fp2)
	}
	if n := c.generations.Load(); n != 1 {
		t.Errorf("expected 1 generation, got %d", n)
	}
}

func TestMutationInvalidates(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "a/f", 1))
	_, before := mustGet(t, c)

	c.Apply(fileEvent(model.EventFileChanged, "a/f", 2))
	_, after := mustGet(t, c)

	if before == after {
		t.Error("expected a new fingerprint after a visible change")
	}

	c.Apply(fileEvent(model.EventFileRemoved, "a/f", 0))
	snap, _ := mustGet(t, c)
	if len(snap.Contents) != 0 {
		t.Errorf("expected an empty root after removal, got %d entries", len(snap.Contents))
	}
}

func TestElidedMutationKeepsFingerprint(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))
	first, before := mustGet(t, c)

	c.Apply(folderEvent("empty", 5))
	second, after := mustGet(t, c)

	if before != after {
		t.Error("an empty folder must not change the fingerprint")
	}
	if first == second {
		t.Error("expected a regenerated snapshot after a mutation")
	}
}

func TestNoopRemoveKeepsMemo(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))
	mustGet(t, c)

	c.Apply(fileEvent(model.EventFileRemoved, "missing", 0))
	c.Apply(fileEvent(model.EventFileRemoved, "no/such/path", 0))
	mustGet(t, c)

	if n := c.generations.Load(); n != 1 {
		t.Errorf("expected removal of absent paths to keep the memo, got %d generations", n)
	}
}

func TestConcurrentReadersShareGeneration(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))
	mustGet(t, c)
	c.Apply(fileEvent(model.EventFileAdded, "g", 2))

	const readers = 32
	var wg sync.WaitGroup
	fps := make([]string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, fp, err := c.Get(context.Background())
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			fps[i] = fp
		}(i)
	}
	wg.Wait()

	for i := 1; i < readers; i++ {
		if fps[i] != fps[0] {
			t.Fatalf("reader %d saw %s, reader 0 saw %s", i, fps[i], fps[0])
		}
	}
	if n := c.generations.Load(); n != 2 {
		t.Errorf("expected exactly one regeneration for all readers, got %d total", n-1)
	}
}

func TestChangedIsClosedByMutation(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))

	changed := c.Changed()
	c.Apply(fileEvent(model.EventFileRemoved, "missing", 0))
	select {
	case <-changed:
		t.Fatal("a no-op removal must not signal a change")
	default:
	}

	c.Apply(fileEvent(model.EventFileChanged, "f", 2))
	select {
	case <-changed:
	default:
		t.Fatal("expected change signal after a mutation")
	}

	select {
	case <-c.Changed():
		t.Error("a fresh change channel should be open")
	default:
	}
}

func TestWatchErrorIsNotFatal(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))
	_, before := mustGet(t, c)

	c.Apply(model.FileEvent{Type: model.EventError, Err: errors.New("watch limit reached")})
	_, after := mustGet(t, c)

	if before != after {
		t.Error("a watch error must not change the snapshot")
	}
}

func TestGetIfChanged(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "f", 1))
	_, fp := mustGet(t, c)
	ctx := context.Background()

	snap, got, err := c.GetIfChanged(ctx, fp)
	if err != nil {
		t.Fatalf("get if changed: %v", err)
	}
	if snap != nil || got != fp {
		t.Errorf("expected no snapshot for a known fingerprint, got %v %s", snap, got)
	}

	snap, got, err = c.GetIfChanged(ctx, "stale")
	if err != nil {
		t.Fatalf("get if changed: %v", err)
	}
	if snap == nil || got != fp {
		t.Error("expected the full snapshot for an unknown fingerprint")
	}

	c.Apply(fileEvent(model.EventFileAdded, "g", 2))
	snap, got, err = c.GetIfChanged(ctx, fp)
	if err != nil {
		t.Fatalf("get if changed: %v", err)
	}
	if snap == nil || got == fp {
		t.Error("expected a new snapshot after a change")
	}
}

func TestScenarioThroughApply(t *testing.T) {
	c := readyCache(t,
		folderEvent("", 1),
		folderEvent("a", 600),
		model.FileEvent{Type: model.EventFileAdded, Path: "a/f1.txt", Meta: model.Meta{Mtime: ms(100), Ctime: ms(500), Size: 10}},
		model.FileEvent{Type: model.EventFileAdded, Path: "a/f2.txt", Meta: model.Meta{Mtime: ms(200), Size: 20}},
	)

	snap, _ := mustGet(t, c)
	if len(snap.Contents) != 1 || snap.Contents[0].Name != "a" {
		t.Fatalf("expected [a] at the root, got %v", snap.Contents)
	}

	a := snap.Contents[0]
	if len(a.Contents) != 2 || a.Contents[0].Name != "f1.txt" || a.Contents[1].Name != "f2.txt" {
		t.Fatalf("expected [f1.txt f2.txt], got %v", a.Contents)
	}
	if ts := a.Contents[0].Timestamp; ts == nil || *ts != 500 {
		t.Errorf("expected f1.txt timestamp 500, got %v", ts)
	}
}

func TestMissingAncestorsAreRepaired(t *testing.T) {
	c := readyCache(t, fileEvent(model.EventFileAdded, "x/y/z.txt", 3))

	snap, _ := mustGet(t, c)
	if len(snap.Contents) != 1 || snap.Contents[0].Path != "x" {
		t.Fatalf("expected repaired folder x, got %v", snap.Contents)
	}
	if snap.Contents[0].Timestamp != nil {
		t.Error("repaired folders should have no timestamp")
	}

	status := c.Stats()
	if status.Folders != 2 || status.Files != 1 {
		t.Errorf("expected 2 folders and 1 file, got %d and %d", status.Folders, status.Files)
	}
}

func TestCloseFreezesSnapshot(t *testing.T) {
	source := newFakeSource()
	c := New(source, Options{OrderByTime: true})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.ch <- fileEvent(model.EventFileAdded, "f", 1)
	source.ch <- model.FileEvent{Type: model.EventReady}
	_, before := mustGet(t, c)

	c.Close()
	c.Close()

	c.Apply(fileEvent(model.EventFileAdded, "late", 9))
	_, after := mustGet(t, c)
	if before != after {
		t.Error("snapshot changed after close")
	}
}

func TestCloseAppliesDrainedEvents(t *testing.T) {
	source := newFakeSource()
	c := New(source, Options{OrderByTime: true})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.ch <- fileEvent(model.EventFileAdded, "f", 1)
	source.ch <- model.FileEvent{Type: model.EventReady}
	_, before := mustGet(t, c)

	source.ch <- fileEvent(model.EventFileAdded, "g", 2)
	c.Close()

	snap, after := mustGet(t, c)
	if before == after {
		t.Error("fingerprint should reflect events applied while closing")
	}
	if len(snap.Contents) != 2 {
		t.Errorf("expected 2 entries, got %d", len(snap.Contents))
	}
	if status := c.Stats(); status.Files != 2 || status.Fingerprint != after {
		t.Errorf("status disagrees with snapshot: %+v", status)
	}
}

func TestCloseBeforeReady(t *testing.T) {
	c := New(newFakeSource(), Options{})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Close()

	if _, _, err := c.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestStartFailure(t *testing.T) {
	c := New(&failingSource{fakeSource: newFakeSource()}, Options{})
	if err := c.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if err := c.Start(); err == nil {
		t.Error("expected second start to fail")
	}

	if _, _, err := c.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestStatsReportsState(t *testing.T) {
	c := New(newFakeSource(), Options{Root: "/data"})
	if status := c.Stats(); status.Ready || status.Version != 0 {
		t.Errorf("unexpected initial status: %+v", status)
	}

	c.Apply(fileEvent(model.EventFileAdded, "f", 1))
	c.Apply(model.FileEvent{Type: model.EventReady})
	_, fp := mustGet(t, c)

	status := c.Stats()
	if !status.Ready || status.Root != "/data" {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.Version != 1 || status.Fingerprint != fp {
		t.Errorf("expected version 1 and fingerprint %s, got %d and %s", fp, status.Version, status.Fingerprint)
	}
	if status.LastChange == nil {
		t.Error("expected last change to be set")
	}
}

func TestWithWatcher(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "f1.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "hollow"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := watcher.New(root, watcher.Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	c := New(w, Options{Root: root, OrderByTime: true, Debounce: 10 * time.Millisecond})
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	snap, fp := mustGet(t, c)
	if len(snap.Contents) != 1 || snap.Contents[0].Name != "a" {
		t.Fatalf("expected [a], got %v", snap.Contents)
	}

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, got := mustGet(t, c)
		if got != fp {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fingerprint did not change after adding a file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
