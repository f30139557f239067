// Package device takes immutable snapshots of block devices and image files
// and lists candidate removable devices.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rawdiag/blockio"
)

// Device is a snapshot taken at operation start. The engine never mutates it.
type Device struct {
	ID                string `json:"id"`
	Path              string `json:"path"`
	Capacity          int64  `json:"capacity"`
	Removable         bool   `json:"removable"`
	LogicalBlockSize  int    `json:"logical_block_size"`
	PhysicalBlockSize int    `json:"physical_block_size"`
	Vendor            string `json:"vendor,omitempty"`
	Model             string `json:"model,omitempty"`
	Serial            string `json:"serial,omitempty"`
	WWN               string `json:"wwn,omitempty"`
	Bus               string `json:"bus,omitempty"`
	Image             bool   `json:"image,omitempty"`
}

// Sectors is the capacity in logical blocks.
func (d Device) Sectors() int64 {
	if d.LogicalBlockSize <= 0 {
		return 0
	}
	return d.Capacity / int64(d.LogicalBlockSize)
}

// Describe is a one-line label for listings and titles.
func (d Device) Describe() string {
	name := strings.TrimSpace(strings.Join([]string{d.Vendor, d.Model}, " "))
	if name == "" {
		name = "Disk"
	}
	if d.Image {
		name = "Image"
	}
	return name
}

// Prober snapshots the device at a path.
type Prober interface {
	Probe(path string) (Device, error)
}

// ProberFunc adapts a function to a Prober.
type ProberFunc func(path string) (Device, error)

func (f ProberFunc) Probe(path string) (Device, error) { return f(path) }

// SystemProber reads platform inventory and falls back to ioctl geometry.
type SystemProber struct{}

// Probe snapshots path. Regular files are treated as disk images.
func (SystemProber) Probe(path string) (Device, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Device{}, fmt.Errorf("%w: %s: %v", blockio.ErrDeviceUnavailable, path, err)
	}
	if fi.Mode().IsRegular() {
		return imageDevice(path, fi.Size()), nil
	}
	d, err := probePlatform(path)
	if err != nil {
		return Device{}, err
	}
	if d.ID == "" {
		d.ID = firstNonEmpty(d.WWN, d.Serial, d.Path)
	}
	return d, nil
}

func imageDevice(path string, size int64) Device {
	return Device{
		ID:                path,
		Path:              path,
		Capacity:          size,
		LogicalBlockSize:  512,
		PhysicalBlockSize: 512,
		Image:             true,
	}
}

// fromGeometry builds a snapshot from ioctl geometry alone.
func fromGeometry(path string) (Device, error) {
	size, logical, physical, err := blockio.Geometry(path)
	if err != nil {
		return Device{}, err
	}
	return Device{
		Path:              path,
		Capacity:          size,
		LogicalBlockSize:  logical,
		PhysicalBlockSize: physical,
	}, nil
}

// Key is the registry key for path: cleaned and with symlinks resolved, so
// /dev/disk/by-id/... and /dev/sdb collide.
func Key(path string) string {
	p := filepath.Clean(path)
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
