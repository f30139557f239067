//go:build darwin

package blockio

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dkiocGetBlockSize         = 0x40046418 // _IOR('d', 24, uint32)
	dkiocGetBlockCount        = 0x40086419 // _IOR('d', 25, uint64)
	dkiocGetPhysicalBlockSize = 0x4004644d // _IOR('d', 77, uint32)
)

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

	var blockSize, physSize uint32
	var blockCount uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockSize, uintptr(unsafe.Pointer(&blockSize))); errno != 0 {
		end, serr := f.Seek(0, io.SeekEnd)
		if serr != nil {
			return g, fmt.Errorf("cannot determine device size: %v", errno)
		}
		_, _ = f.Seek(0, io.SeekStart)
		g.size = end
		g.defaults()
		return g, nil
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockCount, uintptr(unsafe.Pointer(&blockCount))); errno != 0 {
		return g, fmt.Errorf("cannot get block count: %v", errno)
	}
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetPhysicalBlockSize, uintptr(unsafe.Pointer(&physSize)))

	g.size = int64(blockSize) * int64(blockCount)
	g.logical = int(blockSize)
	g.physical = int(physSize)
	g.defaults()
	return g, nil
}
