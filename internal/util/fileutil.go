package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const TempSuffix = ".filedrop.tmp"

// TempPath is the hidden sibling AtomicWrite writes to before renaming.
func TempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+TempSuffix)
}

// AtomicWrite copies r into a temp file next to dst and renames it into
// place. It returns the number of bytes written.
func AtomicWrite(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	tmp := TempPath(dst)
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to write: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to rename: %w", err)
	}

	return n, nil
}

func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
