//go:build linux

package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

var sysClassBlock = "/sys/class/block"

func probePlatform(path string) (Device, error) {
	d, err := fromGeometry(path)
	if err != nil {
		return Device{}, err
	}
	name := filepath.Base(Key(path))
	if info, err := ghw.Block(); err == nil {
		if disk := findDisk(info, name); disk != nil {
			applyDisk(&d, disk)
		}
	}
	d.Removable = d.Removable || sysBool(name, "removable")
	if v := sysInt(name, "queue/logical_block_size"); v > 0 {
		d.LogicalBlockSize = v
	}
	if v := sysInt(name, "queue/physical_block_size"); v > 0 {
		d.PhysicalBlockSize = v
	}
	if d.Serial == "" {
		d.Serial = sysString(name, "device/serial")
	}
	return d, nil
}

func findDisk(info *block.Info, name string) *block.Disk {
	for _, disk := range info.Disks {
		if disk.Name == name {
			return disk
		}
	}
	return nil
}

func applyDisk(d *Device, disk *block.Disk) {
	d.Removable = disk.IsRemovable
	d.Vendor = clean(disk.Vendor)
	d.Model = clean(disk.Model)
	d.Serial = clean(disk.SerialNumber)
	d.WWN = clean(disk.WWN)
	d.Bus = clean(disk.BusPath)
	if disk.SizeBytes > 0 && d.Capacity == 0 {
		d.Capacity = int64(disk.SizeBytes)
	}
	if disk.PhysicalBlockSizeBytes > 0 {
		d.PhysicalBlockSize = int(disk.PhysicalBlockSizeBytes)
	}
}

// ghw reports missing values as "unknown".
func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unknown") {
		return ""
	}
	return s
}

func sysString(name, rel string) string {
	b, err := os.ReadFile(filepath.Join(sysClassBlock, name, rel))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func sysInt(name, rel string) int {
	v, err := strconv.Atoi(sysString(name, rel))
	if err != nil {
		return 0
	}
	return v
}

func sysBool(name, rel string) bool { return sysString(name, rel) == "1" }

func listPlatform() ([]Candidate, error) {
	info, err := ghw.Block()
	if err != nil {
		entries, derr := os.ReadDir("/dev")
		if derr != nil {
			return nil, derr
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return scanDev(names), nil
	}
	var out []Candidate
	for _, disk := range info.Disks {
		c := Candidate{Path: filepath.Join("/dev", disk.Name), Compatible: true}
		switch {
		case strings.HasPrefix(disk.Name, "loop"), strings.HasPrefix(disk.Name, "ram"):
			c.Compatible, c.Reason = false, "virtual device"
		case !disk.IsRemovable && !usbBus(disk.BusPath):
			c.Compatible, c.Reason = false, "fixed disk"
		}
		d := Device{Path: c.Path, Capacity: int64(disk.SizeBytes), LogicalBlockSize: 512}
		applyDisk(&d, disk)
		if disk.SizeBytes > 0 {
			d.Capacity = int64(disk.SizeBytes)
		}
		if v := sysInt(disk.Name, "queue/logical_block_size"); v > 0 {
			d.LogicalBlockSize = v
		}
		c.Device = d
		out = append(out, c)
	}
	return out, nil
}

func usbBus(busPath string) bool {
	return strings.Contains(strings.ToLower(busPath), "usb")
}
