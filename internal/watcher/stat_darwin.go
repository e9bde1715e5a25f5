//go:build darwin

package watcher

import (
	"os"
	"syscall"
	"time"
)

func changeTime(info os.FileInfo) *time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	t := time.Unix(st.Ctimespec.Unix())
	return &t
}
