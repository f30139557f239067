package device

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// Candidate is one entry of a device listing.
type Candidate struct {
	Path       string
	Compatible bool
	Reason     string
	Device     Device
}

// List returns whole-disk candidates. Partitions and virtual devices are
// included but marked incompatible.
func List() ([]Candidate, error) {
	return listPlatform()
}

// Mount is one mounted filesystem.
type Mount struct {
	Source string
	Target string
	FSType string
	Size   int64
}

// Mounts lists mounted filesystems on this host.
func Mounts() ([]Mount, error) {
	return platformMounts()
}

// MountedFrom returns the mounts whose source is the device at path or one of
// its partitions.
func MountedFrom(path string) []Mount {
	mounts, err := Mounts()
	if err != nil {
		return nil
	}
	whole := WholeDisk(Key(path))
	var out []Mount
	for _, m := range mounts {
		src := m.Source
		if strings.HasPrefix(src, "/dev/") {
			src = Key(src)
		}
		if src == whole || WholeDisk(src) == whole {
			out = append(out, m)
		}
	}
	return out
}

// Resolve maps a mount point or device path to the device and its mount.
func Resolve(p string) (dev, mountpoint string, err error) {
	p = filepath.Clean(p)
	if strings.HasPrefix(p, "/dev/") || strings.HasPrefix(p, `\\.\`) {
		for _, m := range MountedFrom(p) {
			if m.Source == p {
				return p, m.Target, nil
			}
		}
		return p, "", nil
	}
	if runtime.GOOS == "windows" {
		return "", "", fmt.Errorf(`on Windows, pass a device like \\.\PhysicalDriveN`)
	}
	mounts, err := Mounts()
	if err != nil {
		return "", "", err
	}
	for _, m := range mounts {
		if filepath.Clean(m.Target) == p {
			return m.Source, m.Target, nil
		}
	}
	return "", "", fmt.Errorf("cannot resolve device for %s", p)
}

// WholeDisk maps a partition path to its parent disk:
// sdb1 -> sdb, nvme0n1p2 -> nvme0n1, mmcblk0p1 -> mmcblk0, disk4s1 -> disk4.
func WholeDisk(path string) string {
	dir, b := filepath.Split(path)
	switch {
	case strings.HasPrefix(b, "disk") || strings.HasPrefix(b, "rdisk"):
		for i := 1; i+1 < len(b); i++ {
			if b[i] == 's' && isDigit(b[i+1]) && isDigit(b[i-1]) {
				return dir + b[:i]
			}
		}
	case strings.HasPrefix(b, "nvme") || strings.HasPrefix(b, "mmcblk") || strings.HasPrefix(b, "loop"):
		if i := strings.LastIndexByte(b, 'p'); i > 0 && i+1 < len(b) && isDigit(b[i-1]) && allDigits(b[i+1:]) {
			return dir + b[:i]
		}
	case linuxPartition(b):
		return dir + strings.TrimRight(b, "0123456789")
	}
	return path
}

// wholeLinuxDisk matches sdX, vdX, nvmeXnY and mmcblkX.
func wholeLinuxDisk(name string) bool {
	switch {
	case (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 3:
		return allLower(name[2:])
	case strings.HasPrefix(name, "nvme"):
		parts := strings.Split(strings.TrimPrefix(name, "nvme"), "n")
		return len(parts) == 2 && allDigits(parts[0]) && allDigits(parts[1])
	case strings.HasPrefix(name, "mmcblk"):
		return allDigits(strings.TrimPrefix(name, "mmcblk"))
	}
	return false
}

func linuxPartition(name string) bool {
	if (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 4 {
		return isDigit(name[len(name)-1]) && allLower(strings.TrimRight(name[2:], "0123456789"))
	}
	if strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") {
		i := strings.LastIndexByte(name, 'p')
		return i > 0 && i+1 < len(name) && allDigits(name[i+1:])
	}
	return false
}

// scanDev lists /dev/ disk nodes by name.
func scanDev(names []string) []Candidate {
	var out []Candidate
	for _, name := range names {
		path := filepath.Join("/dev", name)
		switch {
		case wholeLinuxDisk(name):
			out = append(out, Candidate{Path: path, Compatible: true})
		case linuxPartition(name):
			out = append(out, Candidate{Path: path, Reason: "partition"})
		case strings.HasPrefix(name, "loop"):
			out = append(out, Candidate{Path: path, Reason: "loop device"})
		}
	}
	return out
}

// parseMounts reads /proc/self/mounts format: <src> <target> <fstype> <opts> ...
func parseMounts(r io.Reader) []Mount {
	var out []Mount
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 3 {
			continue
		}
		out = append(out, Mount{Source: f[0], Target: unescapeMount(f[1]), FSType: f[2]})
	}
	return out
}

// unescapeMount decodes the octal escapes the kernel uses for spaces.
func unescapeMount(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func allLower(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
