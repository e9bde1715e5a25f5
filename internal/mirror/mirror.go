// Package mirror keeps an in-memory copy of a watched directory tree.
//
// A Mirror is not safe for concurrent use. It is fed by a single serial
// stream of watcher notifications; readers must be excluded by the owner
// while a mutation is applied.
package mirror

import (
	"path"
	"time"

	"filedrop/internal/logger"

	"go.uber.org/zap"
)

type Mirror struct {
	root    *node
	folders int
	files   int
}

func New() *Mirror {
	return &Mirror{
		root: newFolder("", "", nil),
	}
}

func (m *Mirror) Root() View {
	return View{n: m.root}
}

// Len reports the number of folders and files below the root.
func (m *Mirror) Len() (folders, files int) {
	return m.folders, m.files
}

func (m *Mirror) Lookup(p string) (View, bool) {
	parts, ok := SplitPath(p)
	if !ok {
		return View{}, false
	}

	n := m.root
	for _, name := range parts {
		if n.kind != KindFolder {
			return View{}, false
		}
		child, ok := n.children[name]
		if !ok {
			return View{}, false
		}
		n = child
	}
	return View{n: n}, true
}

// UpsertFolder creates the folder at p or refreshes its timestamp, keeping
// its children. An empty path updates the root.
func (m *Mirror) UpsertFolder(p string, ts *time.Time) bool {
	parts, ok := SplitPath(p)
	if !ok {
		logger.Log.Error("rejecting folder outside root", zap.String("path", p))
		return false
	}

	if len(parts) == 0 {
		m.root.timestamp = cloneTime(ts)
		return true
	}

	parent := m.parentFor(parts, true)
	name := parts[len(parts)-1]

	if existing, ok := parent.children[name]; ok {
		if existing.kind == KindFolder {
			existing.timestamp = cloneTime(ts)
			return true
		}
		logger.Log.Debug("file replaced by folder", zap.String("path", existing.path))
		m.release(existing)
	}

	parent.children[name] = newFolder(name, path.Join(parts...), ts)
	m.folders++
	return true
}

// UpsertFile creates the file at p or overwrites its metadata in place.
func (m *Mirror) UpsertFile(p string, ts *time.Time, size int64) bool {
	parts, ok := SplitPath(p)
	if !ok {
		logger.Log.Error("rejecting file outside root", zap.String("path", p))
		return false
	}

	if len(parts) == 0 {
		logger.Log.Error("root cannot be a file")
		return false
	}

	parent := m.parentFor(parts, true)
	name := parts[len(parts)-1]

	if existing, ok := parent.children[name]; ok {
		if existing.kind == KindFile {
			existing.timestamp = cloneTime(ts)
			existing.size = size
			return true
		}
		logger.Log.Debug("folder replaced by file",
			zap.String("path", existing.path),
			zap.Int("children", len(existing.children)))
		m.release(existing)
	}

	parent.children[name] = newFile(name, path.Join(parts...), ts, size)
	m.files++
	return true
}

// Remove detaches p and everything below it. It reports whether anything was
// removed; a path that is already gone is not an error.
func (m *Mirror) Remove(p string) bool {
	parts, ok := SplitPath(p)
	if !ok {
		logger.Log.Error("rejecting removal outside root", zap.String("path", p))
		return false
	}

	if len(parts) == 0 {
		logger.Log.Error("root cannot be removed")
		return false
	}

	parent := m.parentFor(parts, false)
	if parent == nil {
		logger.Log.Debug("removal below missing ancestor ignored", zap.String("path", p))
		return false
	}

	name := parts[len(parts)-1]
	existing, ok := parent.children[name]
	if !ok {
		return false
	}

	delete(parent.children, name)
	m.release(existing)
	return true
}

// parentFor walks to the folder that holds the last component of parts.
// With repair set, missing ancestors are created with a nil timestamp and
// files standing in the way are replaced by folders; without it, nil is
// returned instead.
func (m *Mirror) parentFor(parts []string, repair bool) *node {
	dir := m.root
	for i, name := range parts[:len(parts)-1] {
		child, ok := dir.children[name]
		if ok && child.kind == KindFolder {
			dir = child
			continue
		}

		if !repair {
			return nil
		}

		ancestor := path.Join(parts[:i+1]...)
		if ok {
			logger.Log.Warn("ancestor is a file, replacing with folder",
				zap.String("ancestor", ancestor),
				zap.String("path", path.Join(parts...)))
			m.release(child)
		} else {
			logger.Log.Warn("missing ancestor, creating folder",
				zap.String("ancestor", ancestor),
				zap.String("path", path.Join(parts...)))
		}

		child = newFolder(name, ancestor, nil)
		dir.children[name] = child
		m.folders++
		dir = child
	}
	return dir
}

// release drops n and its subtree from the counters and clears the child
// maps so no references outlive the removal.
func (m *Mirror) release(n *node) {
	if n.kind == KindFile {
		m.files--
		return
	}

	for name, child := range n.children {
		m.release(child)
		delete(n.children, name)
	}
	m.folders--
}
