//go:build !linux

package device

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func probePlatform(path string) (Device, error) {
	d, err := fromGeometry(path)
	if err != nil {
		return Device{}, err
	}
	for _, m := range MountedFrom(path) {
		if m.FSType == "removable" {
			d.Removable = true
		}
	}
	return d, nil
}

func listPlatform() ([]Candidate, error) {
	switch runtime.GOOS {
	case "darwin":
		entries, err := os.ReadDir("/dev")
		if err != nil {
			return nil, err
		}
		var out []Candidate
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, "disk") && !strings.HasPrefix(name, "rdisk") {
				continue
			}
			path := "/dev/" + name
			c := Candidate{Path: path, Compatible: WholeDisk(path) == path}
			if !c.Compatible {
				c.Reason = "partition"
			} else if d, err := fromGeometry(path); err == nil {
				c.Device = d
			}
			out = append(out, c)
		}
		return out, nil
	case "windows":
		var out []Candidate
		for i := 0; i < 32; i++ {
			path := fmt.Sprintf(`\\.\PhysicalDrive%d`, i)
			d, err := fromGeometry(path)
			if err != nil {
				if i < 8 {
					out = append(out, Candidate{Path: path, Reason: "not accessible"})
				}
				continue
			}
			out = append(out, Candidate{Path: path, Compatible: true, Device: d})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}
