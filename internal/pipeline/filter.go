package pipeline

import (
	"path/filepath"
	"strings"

	"filedrop/internal/model"
)

// Filter drops events whose path has a component matching one of the
// ignore patterns. Ready and error events always pass.
func Filter(inCh <-chan model.FileEvent, ignoreList []string) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if event.Path != "" && ShouldIgnore(event.Path, ignoreList) {
				continue
			}
			outCh <- event
		}
	}()

	return outCh
}

// ShouldIgnore matches every slash separated component of path against the
// patterns with filepath.Match.
func ShouldIgnore(path string, ignoreList []string) bool {
	if path == "" || len(ignoreList) == 0 {
		return false
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" || part == "." {
			continue
		}
		for _, pattern := range ignoreList {
			matched, err := filepath.Match(pattern, part)
			if err == nil && matched {
				return true
			}
		}
	}

	return false
}
