//go:build !linux && !darwin && !windows

package blockio

import (
	"io"
	"os"
)

func probeGeometry(f *os.File) (geometry, error) {
	var g geometry
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return g, err
	}
	_, _ = f.Seek(0, io.SeekStart)
	g.size = end
	g.defaults()
	return g, nil
}
