//go:build linux

package blockio

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// probeGeometry sizes regular files by seeking and block devices with
// BLKGETSIZE64 / BLKSSZGET / BLKPBSZGET.
func probeGeometry(f *os.File) (geometry, error) {
	var g geometry
	fi, err := f.Stat()
	if err != nil {
		return g, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		g.size = fi.Size()
		g.defaults()
		return g, nil
	}

	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		end, serr := f.Seek(0, io.SeekEnd)
		if serr != nil {
			return g, fmt.Errorf("cannot determine device size: %v", errno)
		}
		_, _ = f.Seek(0, io.SeekStart)
		size = uint64(end)
	}
	g.size = int64(size)
	if v, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil {
		g.logical = v
	}
	if v, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKPBSZGET); err == nil {
		g.physical = v
	}
	g.defaults()
	return g, nil
}
