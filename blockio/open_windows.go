//go:build windows

package blockio

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	fsctlLockVolume         = 0x90018
	fsctlDismountVolume     = 0x90020
	fsctlUnlockVolume       = 0x9001c
	fileFlagWriteThrough    = 0x80000000
	ioctlDiskGetLengthInfo  = 0x7405c
	ioctlDiskGetDriveGeom   = 0x70000
	ioctlStorageGetDeviceNr = 0x2d1080
)

type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

type storageDeviceNumber struct {
	DeviceType      uint32
	DeviceNumber    uint32
	PartitionNumber uint32
}

func driveLetter(p string) (string, bool) {
	if len(p) < 6 || !strings.HasPrefix(p, `\\.\`) {
		return "", false
	}
	l := strings.ToUpper(p[4:5])
	if l < "A" || l > "Z" || p[5] != ':' {
		return "", false
	}
	return l, true
}

// PhysicalDrivePath maps \\.\E: to the \\.\PhysicalDriveN that holds it.
// Paths it cannot map are returned unchanged.
func PhysicalDrivePath(p string) string {
	l, ok := driveLetter(p)
	if !ok {
		return p
	}
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(`\\.\`+l+`:`),
		windows.GENERIC_READ, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return p
	}
	defer windows.CloseHandle(h)
	var out storageDeviceNumber
	var n uint32
	if err := windows.DeviceIoControl(h, ioctlStorageGetDeviceNr, nil, 0,
		(*byte)(unsafe.Pointer(&out)), uint32(unsafe.Sizeof(out)), &n, nil); err != nil {
		return p
	}
	return fmt.Sprintf(`\\.\PhysicalDrive%d`, out.DeviceNumber)
}

// lockVolume locks and dismounts a drive-letter volume so raw writes are not
// raced by the filesystem. The returned func unlocks it.
func lockVolume(path string) (func(), error) {
	l, ok := driveLetter(path)
	if !ok {
		return func() {}, nil
	}
	vol := `\\.\` + l + `:`
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(vol),
		windows.GENERIC_READ|windows.GENERIC_WRITE, 0, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open volume %s (administrator required): %w", vol, err)
	}
	var n uint32
	if err := windows.DeviceIoControl(h, fsctlLockVolume, nil, 0, nil, 0, &n, nil); err != nil {
		windows.CloseHandle(h)
		if err == windows.ERROR_NOT_SUPPORTED {
			return func() {}, nil
		}
		return nil, fmt.Errorf("lock volume %s (volume in use): %w", vol, err)
	}
	if err := windows.DeviceIoControl(h, fsctlDismountVolume, nil, 0, nil, 0, &n, nil); err != nil &&
		err != windows.ERROR_NOT_SUPPORTED && err != windows.ERROR_NOT_LOCKED {
		_ = windows.DeviceIoControl(h, fsctlUnlockVolume, nil, 0, nil, 0, &n, nil)
		windows.CloseHandle(h)
		return nil, fmt.Errorf("dismount volume %s: %w", vol, err)
	}
	return func() {
		_ = windows.DeviceIoControl(h, fsctlUnlockVolume, nil, 0, nil, 0, &n, nil)
		windows.CloseHandle(h)
	}, nil
}

func openRaw(path string, write bool) (*os.File, func(), error) {
	access := uint32(windows.GENERIC_READ)
	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE)
	flags := uint32(0)
	release := func() {}
	if write {
		unlock, err := lockVolume(path)
		if err != nil {
			return nil, nil, err
		}
		release = unlock
		access |= windows.GENERIC_WRITE
		share = 0
		flags = fileFlagWriteThrough
	}
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(path), access, share, nil, windows.OPEN_EXISTING, flags, 0)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("open %s (administrator required, close programs using the drive): %w", path, err)
	}
	f := os.NewFile(uintptr(h), path)
	if f == nil {
		windows.CloseHandle(h)
		release()
		return nil, nil, fmt.Errorf("cannot create file from handle")
	}
	return f, release, nil
}

func probeGeometry(f *os.File) (geometry, error) {
	var g geometry
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		g.size = fi.Size()
		g.defaults()
		return g, nil
	}
	h := windows.Handle(f.Fd())
	var n uint32
	var length int64
	if err := windows.DeviceIoControl(h, ioctlDiskGetLengthInfo, nil, 0,
		(*byte)(unsafe.Pointer(&length)), uint32(unsafe.Sizeof(length)), &n, nil); err != nil {
		return g, fmt.Errorf("IOCTL_DISK_GET_LENGTH_INFO: %w", err)
	}
	g.size = length
	var dg diskGeometry
	if err := windows.DeviceIoControl(h, ioctlDiskGetDriveGeom, nil, 0,
		(*byte)(unsafe.Pointer(&dg)), uint32(unsafe.Sizeof(dg)), &n, nil); err == nil {
		g.logical = int(dg.BytesPerSector)
	}
	g.defaults()
	return g, nil
}
