package autostart

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

const unitTemplate = `[Unit]
Description=filedrop LAN file server ({{.Dir}})
After=network-online.target

[Service]
ExecStart={{.ExecStart}}
WorkingDirectory={{.Dir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

var unit = template.Must(template.New("unit").Parse(unitTemplate))

type LinuxAutoStarter struct{}

func (l *LinuxAutoStarter) unitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(dir, serviceName+".service"), nil
}

// WriteUnit renders the systemd user unit for serving dir.
func WriteUnit(w io.Writer, execPath, dir string) error {
	args, err := Command(execPath, dir)
	if err != nil {
		return err
	}

	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = arg
		if strings.ContainsAny(arg, " \t\"'\\") {
			quoted[i] = strconv.Quote(arg)
		}
	}

	return unit.Execute(w, map[string]string{
		"ExecStart": strings.Join(quoted, " "),
		"Dir":       args[2],
	})
}

func (l *LinuxAutoStarter) Install(execPath, dir string) error {
	path, err := l.unitPath()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create unit file: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := WriteUnit(f, execPath, dir); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	cmds := [][]string{
		{"systemctl", "--user", "daemon-reload"},
		{"systemctl", "--user", "enable", serviceName + ".service"},
		{"systemctl", "--user", "restart", serviceName + ".service"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to run %v: %w\n%s", args, err, out)
		}
	}

	return nil
}

func (l *LinuxAutoStarter) Uninstall() error {
	cmds := [][]string{
		{"systemctl", "--user", "stop", serviceName + ".service"},
		{"systemctl", "--user", "disable", serviceName + ".service"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		_ = cmd.Run()
	}

	path, err := l.unitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *LinuxAutoStarter) IsInstalled() (bool, error) {
	path, err := l.unitPath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	return err == nil, nil
}
