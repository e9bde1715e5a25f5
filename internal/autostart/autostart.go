// Package autostart registers the serve command to run at login.
package autostart

import (
	"fmt"
	"path/filepath"
	"runtime"
)

const serviceName = "filedrop"

type AutoStarter interface {
	Install(execPath, dir string) error
	Uninstall() error
	IsInstalled() (bool, error)
}

func New() AutoStarter {
	switch runtime.GOOS {
	case "windows":
		return &WindowsAutoStarter{}
	case "linux":
		return &LinuxAutoStarter{}
	default:
		return &UnsupportedAutoStarter{}
	}
}

// Command is the argument list the service runs.
func Command(execPath, dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dir: %w", err)
	}
	return []string{execPath, "serve", absDir}, nil
}

type UnsupportedAutoStarter struct{}

func (u *UnsupportedAutoStarter) Install(_, _ string) error {
	return fmt.Errorf("autostart is not supported on %s", runtime.GOOS)
}

func (u *UnsupportedAutoStarter) Uninstall() error {
	return nil
}

func (u *UnsupportedAutoStarter) IsInstalled() (bool, error) {
	return false, nil
}
