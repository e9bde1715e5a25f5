// Package snapshot turns a mirror into the immutable, ordered tree that is
// sent to clients, and fingerprints it.
package snapshot

import (
	"cmp"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"filedrop/internal/mirror"
)

// Generate builds the snapshot rooted at root. Folders with no file anywhere
// below them are left out; the root itself is always present.
//
// With orderByTime, siblings are sorted newest first and entries without a
// timestamp go last. Ties, and everything when orderByTime is off, are
// ordered by name so that equal trees always produce equal snapshots.
func Generate(root mirror.View, orderByTime bool) *Entry {
	if e := build(root, orderByTime); e != nil {
		return e
	}

	return &Entry{
		Folder:    true,
		Name:      root.Name(),
		Path:      root.Path(),
		Timestamp: millis(root.Timestamp()),
		Contents:  []*Entry{},
	}
}

func build(v mirror.View, orderByTime bool) *Entry {
	if !v.IsFolder() {
		return &Entry{
			Name:      v.Name(),
			Path:      v.Path(),
			Timestamp: millis(v.Timestamp()),
		}
	}

	children := v.Children()
	contents := make([]*Entry, 0, len(children))
	for _, child := range children {
		if e := build(child, orderByTime); e != nil {
			contents = append(contents, e)
		}
	}

	if len(contents) == 0 {
		return nil
	}

	slices.SortFunc(contents, compareEntries(orderByTime))

	return &Entry{
		Folder:    true,
		Name:      v.Name(),
		Path:      v.Path(),
		Timestamp: millis(v.Timestamp()),
		Contents:  contents,
	}
}

func compareEntries(orderByTime bool) func(a, b *Entry) int {
	return func(a, b *Entry) int {
		if orderByTime {
			switch {
			case a.Timestamp == nil && b.Timestamp != nil:
				return 1
			case a.Timestamp != nil && b.Timestamp == nil:
				return -1
			case a.Timestamp != nil && b.Timestamp != nil:
				if c := cmp.Compare(*b.Timestamp, *a.Timestamp); c != 0 {
					return c
				}
			}
		}
		return cmp.Compare(a.Name, b.Name)
	}
}

// Fingerprint is the hex MD5 of the canonical JSON encoding of e.
func Fingerprint(e *Entry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}
