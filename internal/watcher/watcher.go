package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filedrop/internal/logger"
	"filedrop/internal/model"
	"filedrop/internal/pipeline"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var ErrNotDir = errors.New("not a directory")

type Options struct {
	BufferSize int
	// Ignore holds filepath.Match patterns checked against every path
	// component. Matching directories are neither scanned nor watched.
	Ignore []string
}

// Watcher scans a directory tree once, then reports its changes. Events
// carry slash separated paths relative to the root. The first events
// describe the initial scan and are followed by exactly one READY.
type Watcher struct {
	root    string
	ignore  []string
	fw      *fsnotify.Watcher
	dirs    map[string]struct{}
	eventCh chan model.FileEvent
	doneCh  chan struct{}
	once    sync.Once
}

func New(root string, opts Options) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Watcher{
		root:    absRoot,
		ignore:  opts.Ignore,
		fw:      fw,
		dirs:    make(map[string]struct{}),
		eventCh: make(chan model.FileEvent, bufferSize),
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *Watcher) Root() string {
	return w.root
}

// Start checks the root and launches the scan and watch loop.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.root)
	if err != nil {
		_ = w.fw.Close()
		return fmt.Errorf("source directory not found: %w", err)
	}
	if !info.IsDir() {
		_ = w.fw.Close()
		return fmt.Errorf("%s: %w", w.root, ErrNotDir)
	}

	go w.run()

	logger.Log.Info("watcher started",
		zap.String("dir", w.root))
	return nil
}

func (w *Watcher) Events() <-chan model.FileEvent {
	return w.eventCh
}

// Stop releases the fsnotify handle. Events is closed once the loop exits.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.doneCh)
		_ = w.fw.Close()
	})
}

func (w *Watcher) run() {
	defer close(w.eventCh)

	if !w.scan("") {
		return
	}

	logger.Log.Debug("initial scan complete", zap.Int("dirs", len(w.dirs)))
	if !w.emit(model.FileEvent{Type: model.EventReady}) {
		return
	}

	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !w.handle(fsEvent) {
				return
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error",
				zap.Error(err))
			if !w.emit(model.FileEvent{Type: model.EventError, Err: err}) {
				return
			}
		}
	}
}

// handle turns one fsnotify event into cache events. It returns false once
// the watcher has been stopped.
func (w *Watcher) handle(fsEvent fsnotify.Event) bool {
	rel, ok := w.rel(fsEvent.Name)
	if !ok || pipeline.ShouldIgnore(rel, w.ignore) {
		return true
	}

	switch {
	case fsEvent.Op.Has(fsnotify.Remove), fsEvent.Op.Has(fsnotify.Rename):
		return w.removed(rel)

	case fsEvent.Op.Has(fsnotify.Create):
		info, err := os.Stat(fsEvent.Name)
		if err != nil {
			logger.Log.Debug("created entry vanished",
				zap.String("path", rel),
				zap.Error(err))
			return true
		}
		if info.IsDir() {
			return w.scan(rel)
		}
		return w.emit(w.newEvent(model.EventFileAdded, rel, info))

	case fsEvent.Op.Has(fsnotify.Write), fsEvent.Op.Has(fsnotify.Chmod):
		info, err := os.Stat(fsEvent.Name)
		if err != nil {
			return true
		}
		if info.IsDir() {
			return w.emit(w.newEvent(model.EventFolderAdded, rel, info))
		}
		return w.emit(w.newEvent(model.EventFileChanged, rel, info))
	}

	return true
}

func (w *Watcher) removed(rel string) bool {
	if _, isDir := w.dirs[rel]; !isDir {
		return w.emit(model.FileEvent{Type: model.EventFileRemoved, Path: rel, Timestamp: time.Now()})
	}

	prefix := rel + "/"
	for dir := range w.dirs {
		if dir == rel || rel == "" || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
			// The kernel drops watches of deleted directories on its own.
			_ = w.fw.Remove(filepath.Join(w.root, filepath.FromSlash(dir)))
		}
	}

	logger.Log.Debug("stopped watching directory", zap.String("path", rel))
	return w.emit(model.FileEvent{Type: model.EventFolderRemoved, Path: rel, Timestamp: time.Now()})
}

// scan walks the directory at rel, watching every folder and emitting an add
// event for each entry, the directory itself first.
func (w *Watcher) scan(rel string) bool {
	base := filepath.Join(w.root, filepath.FromSlash(rel))
	stopped := false

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base && rel == "" {
				return err
			}
			logger.Log.Warn("scan error",
				zap.String("path", path),
				zap.Error(err))
			if !w.emit(model.FileEvent{Type: model.EventError, Path: rel, Err: err}) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		}

		entryRel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if pipeline.ShouldIgnore(entryRel, w.ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat.
			return nil
		}

		eventType := model.EventFileAdded
		if d.IsDir() {
			eventType = model.EventFolderAdded
			if err := w.fw.Add(path); err != nil {
				logger.Log.Warn("failed to watch directory",
					zap.String("path", path),
					zap.Error(err))
			} else {
				logger.Log.Debug("watching directory",
					zap.String("path", path))
			}
			w.dirs[entryRel] = struct{}{}
		}

		if !w.emit(w.newEvent(eventType, entryRel, info)) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})

	if err != nil {
		logger.Log.Error("initial scan failed",
			zap.String("dir", w.root),
			zap.Error(err))
		w.emit(model.FileEvent{Type: model.EventError, Err: err})
	}

	return !stopped
}

func (w *Watcher) emit(event model.FileEvent) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case w.eventCh <- event:
		return true
	case <-w.doneCh:
		return false
	}
}

func (w *Watcher) newEvent(eventType model.EventType, rel string, info os.FileInfo) model.FileEvent {
	mtime := info.ModTime()
	meta := model.Meta{
		Ctime: changeTime(info),
		Mtime: &mtime,
	}
	if !info.IsDir() {
		meta.Size = info.Size()
	}

	return model.FileEvent{
		Type: eventType,
		Path: rel,
		Meta: meta,
	}
}

// rel maps an absolute path below the root to its NFC, slash separated
// relative form. The root maps to "".
func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return norm.NFC.String(filepath.ToSlash(rel)), true
}
