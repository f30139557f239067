package main

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"rawdiag/blockio"
	"rawdiag/device"
)

const maxEmulated = 1 << 30

// emulatedDisk stands in for hardware with --emulate. Every path resolves to
// the same in-memory device, so a burn followed by a scan sees the data.
type emulatedDisk struct {
	mem  *blockio.MemDevice
	size int64
}

func newEmulatedDisk(size string, bad []int64) (*emulatedDisk, error) {
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return nil, fmt.Errorf("--emulate %q: %w", size, err)
	}
	if n < 4096 || n%512 != 0 {
		return nil, fmt.Errorf("--emulate size must be a multiple of 512 and at least 4KiB")
	}
	if n > maxEmulated {
		return nil, fmt.Errorf("--emulate size is limited to %s", humanize.IBytes(maxEmulated))
	}
	mem := blockio.NewMemDevice(int64(n), 512)
	mem.Rate = emulatedRate(int64(n))
	for _, s := range bad {
		if s < 0 || s*512 >= int64(n) {
			return nil, fmt.Errorf("--emulate-bad sector %d is outside the device", s)
		}
		mem.FailReadAt(s * 512)
	}
	return &emulatedDisk{mem: mem, size: int64(n)}, nil
}

// emulatedRate picks a realistic transfer speed in bytes/second.
func emulatedRate(size int64) float64 {
	switch size {
	case 360 * 1024, 720 * 1024:
		return 31.25 * 1024 // DD: 250 kbit/s
	case 1200 * 1024, 1440 * 1024:
		return 62.5 * 1024 // HD: 500 kbit/s
	case 2880 * 1024:
		return 125 * 1024 // ED: 1 Mbit/s
	default:
		return 32 << 20 // USB 2.0 stick
	}
}

func (d *emulatedDisk) Probe(path string) (device.Device, error) {
	return device.Device{
		ID:                "emulated:" + path,
		Path:              path,
		Capacity:          d.size,
		Removable:         true,
		LogicalBlockSize:  512,
		PhysicalBlockSize: 512,
		Vendor:            "rawdiag",
		Model:             "Emulated Disk",
		Bus:               "memory",
	}, nil
}

func (d *emulatedDisk) Open(string, bool) (blockio.Device, error) {
	return d.mem, nil
}
