//go:build linux

package device

import (
	"os"
)

func platformMounts() ([]Mount, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMounts(f), nil
}
