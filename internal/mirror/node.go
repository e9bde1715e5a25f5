package mirror

import (
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

type Kind int

const (
	KindFolder Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "folder"
}

type node struct {
	kind      Kind
	name      string
	path      string
	timestamp *time.Time
	size      int64
	children  map[string]*node
}

func newFolder(name, p string, ts *time.Time) *node {
	return &node{
		kind:      KindFolder,
		name:      name,
		path:      p,
		timestamp: cloneTime(ts),
		children:  make(map[string]*node),
	}
}

func newFile(name, p string, ts *time.Time, size int64) *node {
	return &node{
		kind:      KindFile,
		name:      name,
		path:      p,
		timestamp: cloneTime(ts),
		size:      size,
	}
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	t := *ts
	return &t
}

// View is a read-only handle on a node. It is only valid while the caller
// excludes mutation of the owning Mirror.
type View struct {
	n *node
}

// Name is the base name; empty for the root.
func (v View) Name() string {
	return v.n.name
}

func (v View) Path() string {
	return v.n.path
}

func (v View) Kind() Kind {
	return v.n.kind
}

func (v View) IsFolder() bool {
	return v.n.kind == KindFolder
}

func (v View) Timestamp() *time.Time {
	return cloneTime(v.n.timestamp)
}

func (v View) Size() int64 {
	return v.n.size
}

func (v View) NumChildren() int {
	return len(v.n.children)
}

// Children returns the direct children in the map's enumeration order.
func (v View) Children() []View {
	if len(v.n.children) == 0 {
		return nil
	}

	out := make([]View, 0, len(v.n.children))
	for _, child := range v.n.children {
		out = append(out, View{n: child})
	}
	return out
}

// SplitPath normalizes a relative path to its NFC components. OS separators
// are accepted as well as "/". Empty and "." components are dropped. ok is false for paths
// that climb out of the root.
func SplitPath(p string) (parts []string, ok bool) {
	p = norm.NFC.String(filepath.ToSlash(p))
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, false
		}
		parts = append(parts, part)
	}
	return parts, true
}
