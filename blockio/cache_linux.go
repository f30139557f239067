//go:build linux

package blockio

import (
	"os"

	"golang.org/x/sys/unix"
)

func dropCache(f *os.File) error {
	if err := f.Sync(); err != nil {
		return err
	}
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
