// Package livecache keeps a mirror of a watched directory and serves
// memoized snapshots of it.
//
// Events are applied by a single goroutine. Snapshots are generated lazily
// on read, at most once per mirror version, and concurrent readers of a
// stale cache share one generation.
package livecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"filedrop/internal/logger"
	"filedrop/internal/mirror"
	"filedrop/internal/model"
	"filedrop/internal/pipeline"
	"filedrop/internal/snapshot"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("live cache closed before initial scan completed")

type EventSource interface {
	Events() <-chan model.FileEvent
	Start() error
	Stop()
}

type Options struct {
	Root        string
	OrderByTime bool
	Ignore      []string
	Debounce    time.Duration
}

type result struct {
	snapshot    *snapshot.Entry
	fingerprint string
	version     uint64
}

type Cache struct {
	source      EventSource
	root        string
	orderByTime bool
	ignore      []string
	debounce    time.Duration

	// mu guards the mirror and its version. Mutations hold it exclusively,
	// snapshot generation holds it shared.
	mu         sync.RWMutex
	mirror     *mirror.Mirror
	version    uint64
	lastChange *time.Time
	changedCh  chan struct{}

	memo        atomic.Pointer[result]
	group       singleflight.Group
	generations atomic.Int64

	readyCh   chan struct{}
	readyOnce sync.Once
	doneCh    chan struct{}
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	startedAt time.Time
}

func New(source EventSource, opts Options) *Cache {
	return &Cache{
		source:      source,
		root:        opts.Root,
		orderByTime: opts.OrderByTime,
		ignore:      opts.Ignore,
		debounce:    opts.Debounce,
		mirror:      mirror.New(),
		changedCh:   make(chan struct{}),
		readyCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
		startedAt:   time.Now(),
	}
}

// Start starts the source and the goroutine applying its events.
func (c *Cache) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("live cache already started")
	}

	if err := c.source.Start(); err != nil {
		close(c.doneCh)
		return fmt.Errorf("failed to start source: %w", err)
	}

	events := pipeline.Filter(c.source.Events(), c.ignore)
	events = pipeline.Debounce(events, c.debounce)

	go c.run(events)
	return nil
}

func (c *Cache) run(events <-chan model.FileEvent) {
	defer close(c.doneCh)

	for event := range events {
		c.Apply(event)
	}

	logger.Log.Debug("live cache event loop finished", zap.String("root", c.root))
}

// Close stops the source and waits for pending events to be applied. Events
// applied after that are ignored, so the next Get reflects the drained state
// and later snapshots do not change anymore.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.source.Stop()
		if c.started.Load() {
			<-c.doneCh
		}

		c.mu.Lock()
		c.closed.Store(true)
		c.mu.Unlock()
		logger.Log.Info("live cache closed", zap.String("root", c.root))
	})
}

// Ready is closed once the initial scan has been applied.
func (c *Cache) Ready() <-chan struct{} {
	return c.readyCh
}

// Apply applies one event to the mirror. It must not be called concurrently
// with itself; Start does so from a single goroutine.
func (c *Cache) Apply(event model.FileEvent) {
	logger.Log.Debug("applying event",
		zap.String("type", string(event.Type)),
		zap.String("path", event.Path))

	switch event.Type {
	case model.EventReady:
		c.readyOnce.Do(func() {
			close(c.readyCh)
			folders, files := c.Len()
			logger.Log.Info("initial scan complete, ready for changes",
				zap.String("root", c.root),
				zap.Int("folders", folders),
				zap.Int("files", files))
		})

	case model.EventError:
		logger.Log.Warn("watch error",
			zap.String("root", c.root),
			zap.String("path", event.Path),
			zap.Error(event.Err))

	case model.EventFileAdded, model.EventFileChanged:
		c.mutate(func(m *mirror.Mirror) bool {
			return m.UpsertFile(event.Path, event.Meta.Timestamp(), event.Meta.Size)
		})

	case model.EventFolderAdded:
		c.mutate(func(m *mirror.Mirror) bool {
			return m.UpsertFolder(event.Path, event.Meta.Timestamp())
		})

	case model.EventFileRemoved, model.EventFolderRemoved:
		c.mutate(func(m *mirror.Mirror) bool {
			return m.Remove(event.Path)
		})

	default:
		logger.Log.Warn("unknown event type", zap.String("type", string(event.Type)))
	}
}

func (c *Cache) mutate(fn func(m *mirror.Mirror) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return
	}

	if fn(c.mirror) {
		c.version++
		now := time.Now()
		c.lastChange = &now

		close(c.changedCh)
		c.changedCh = make(chan struct{})
	}
}

// Changed returns a channel that is closed by the next mutation of the
// mirror. Take it before reading a snapshot so no change is missed.
func (c *Cache) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changedCh
}

// Get returns the current snapshot and its fingerprint, waiting for the
// initial scan first. The returned entry is shared and must not be modified.
func (c *Cache) Get(ctx context.Context) (*snapshot.Entry, string, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, "", err
	}

	r, err := c.current()
	if err != nil {
		return nil, "", err
	}
	return r.snapshot, r.fingerprint, nil
}

// GetIfChanged is Get for callers that already hold a snapshot with
// fingerprint known. When the current fingerprint is the same, the snapshot
// is nil.
func (c *Cache) GetIfChanged(ctx context.Context, known string) (*snapshot.Entry, string, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, "", err
	}

	if known != "" {
		if r := c.memo.Load(); r != nil && r.fingerprint == known && !c.dirty(r) {
			return nil, known, nil
		}
	}

	r, err := c.current()
	if err != nil {
		return nil, "", err
	}
	if known != "" && r.fingerprint == known {
		return nil, known, nil
	}
	return r.snapshot, r.fingerprint, nil
}

func (c *Cache) waitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	default:
	}

	select {
	case <-c.readyCh:
		return nil
	case <-c.doneCh:
		select {
		case <-c.readyCh:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) dirty(r *result) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return r.version != c.version
}

func (c *Cache) current() (*result, error) {
	if r := c.memo.Load(); r != nil && !c.dirty(r) {
		return r, nil
	}

	v, err, _ := c.group.Do("snapshot", func() (any, error) {
		return c.regenerate()
	})
	if err != nil {
		return nil, err
	}
	return v.(*result), nil
}

func (c *Cache) regenerate() (*result, error) {
	c.mu.RLock()
	if r := c.memo.Load(); r != nil && r.version == c.version {
		c.mu.RUnlock()
		return r, nil
	}

	version := c.version
	snap := snapshot.Generate(c.mirror.Root(), c.orderByTime)
	c.mu.RUnlock()

	c.generations.Add(1)

	fp, err := snapshot.Fingerprint(snap)
	if err != nil {
		return nil, err
	}

	r := &result{
		snapshot:    snap,
		fingerprint: fp,
		version:     version,
	}
	c.memo.Store(r)

	logger.Log.Debug("snapshot regenerated",
		zap.String("root", c.root),
		zap.Uint64("version", version),
		zap.String("fingerprint", fp))

	return r, nil
}

func (c *Cache) Len() (folders, files int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mirror.Len()
}

func (c *Cache) Stats() model.CacheStatus {
	c.mu.RLock()
	folders, files := c.mirror.Len()
	version := c.version
	var lastChange *time.Time
	if c.lastChange != nil {
		t := *c.lastChange
		lastChange = &t
	}
	c.mu.RUnlock()

	ready := false
	select {
	case <-c.readyCh:
		ready = true
	default:
	}

	status := model.CacheStatus{
		Root:       c.root,
		Ready:      ready,
		Folders:    folders,
		Files:      files,
		Version:    version,
		StartedAt:  c.startedAt,
		LastChange: lastChange,
	}
	if r := c.memo.Load(); r != nil {
		status.Fingerprint = r.fingerprint
	}
	return status
}
