package model

import "time"

type EventType string

const (
	EventReady         EventType = "READY"
	EventFileAdded     EventType = "FILE_ADDED"
	EventFileChanged   EventType = "FILE_CHANGED"
	EventFileRemoved   EventType = "FILE_REMOVED"
	EventFolderAdded   EventType = "FOLDER_ADDED"
	EventFolderRemoved EventType = "FOLDER_REMOVED"
	EventError         EventType = "ERROR"
)

// Meta is the stat information carried by add and change events.
type Meta struct {
	Ctime *time.Time
	Mtime *time.Time
	Size  int64
}

// Timestamp returns the later of Ctime and Mtime, ignoring nil values.
// It is nil when both are nil.
func (m Meta) Timestamp() *time.Time {
	switch {
	case m.Ctime == nil && m.Mtime == nil:
		return nil
	case m.Ctime == nil:
		return m.Mtime
	case m.Mtime == nil:
		return m.Ctime
	case m.Ctime.After(*m.Mtime):
		return m.Ctime
	default:
		return m.Mtime
	}
}

// FileEvent is one notification of the watcher stream. Path is relative to
// the watched root, slash separated, and empty for the root itself.
type FileEvent struct {
	Type      EventType
	Path      string
	Meta      Meta
	Err       error
	Timestamp time.Time
}

func (e FileEvent) IsRemove() bool {
	return e.Type == EventFileRemoved || e.Type == EventFolderRemoved
}

func (e FileEvent) IsAdd() bool {
	return e.Type == EventFileAdded || e.Type == EventFolderAdded
}
