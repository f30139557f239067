//go:build darwin

package device

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

func platformMounts() ([]Mount, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil || n <= 0 {
		return nil, err
	}
	buf := make([]unix.Statfs_t, n)
	if _, err := unix.Getfsstat(buf, unix.MNT_NOWAIT); err != nil {
		return nil, err
	}
	out := make([]Mount, 0, len(buf))
	for _, st := range buf {
		out = append(out, Mount{
			Source: cString(st.Mntfromname[:]),
			Target: filepath.Clean(cString(st.Mntonname[:])),
			FSType: cString(st.Fstypename[:]),
			Size:   int64(st.Blocks) * int64(st.Bsize),
		})
	}
	return out, nil
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
