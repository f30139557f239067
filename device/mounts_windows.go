//go:build windows

package device

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func driveKind(t uint32) string {
	switch t {
	case windows.DRIVE_REMOVABLE:
		return "removable"
	case windows.DRIVE_FIXED:
		return "fixed"
	case windows.DRIVE_REMOTE:
		return "network"
	case windows.DRIVE_CDROM:
		return "cdrom"
	case windows.DRIVE_RAMDISK:
		return "ramdisk"
	}
	return "unknown"
}

// platformMounts lists drive letters with a root directory.
func platformMounts() ([]Mount, error) {
	var out []Mount
	for l := 'A'; l <= 'Z'; l++ {
		root := fmt.Sprintf(`%c:\`, l)
		p, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		t := windows.GetDriveType(p)
		if t == windows.DRIVE_UNKNOWN || t == windows.DRIVE_NO_ROOT_DIR {
			continue
		}
		var free, total, totalFree uint64
		_ = windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree)
		out = append(out, Mount{
			Source: fmt.Sprintf(`\\.\%c:`, l),
			Target: root,
			FSType: driveKind(t),
			Size:   int64(total),
		})
	}
	return out, nil
}
