// Package blockio performs chunked reads and writes against raw block devices
// and image files. Every chunk boundary is a cancellation checkpoint.
package blockio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize balances syscall overhead against buffer size and
// cancellation latency.
const DefaultChunkSize = 64 << 20

// Device is an open raw device or image.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	// BlockSize is the logical block size in bytes.
	BlockSize() int
	Sync() error
	Close() error
}

// CacheDropper is implemented by devices that can evict their pages from the
// OS cache, so a verify pass reads from media instead of memory.
type CacheDropper interface {
	DropCache() error
}

// File is a Device backed by an OS file handle.
type File struct {
	f        *os.File
	path     string
	size     int64
	logical  int
	physical int
	release  func()
}

// Open opens path for reading, or reading and writing, and probes its size
// and block sizes. Any failure is ErrDeviceUnavailable.
func Open(path string, write bool) (*File, error) {
	f, release, err := openRaw(path, write)
	if err != nil {
		return nil, unavailable(path, err)
	}
	g, err := probeGeometry(f)
	if err != nil {
		release()
		_ = f.Close()
		return nil, unavailable(path, fmt.Errorf("get device size: %w", err))
	}
	if g.size <= 0 {
		release()
		_ = f.Close()
		return nil, unavailable(path, errors.New("zero capacity"))
	}
	return &File{f: f, path: path, size: g.size, logical: g.logical, physical: g.physical, release: release}, nil
}

func (d *File) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *File) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *File) Size() int64                              { return d.size }
func (d *File) BlockSize() int                           { return d.logical }
func (d *File) PhysicalBlockSize() int                   { return d.physical }
func (d *File) Path() string                             { return d.path }
func (d *File) Sync() error                              { return d.f.Sync() }
func (d *File) DropCache() error                         { return dropCache(d.f) }

func (d *File) Close() error {
	err := d.f.Close()
	if d.release != nil {
		d.release()
	}
	return err
}

// Geometry reports capacity and block sizes without keeping the device open.
func Geometry(path string) (size int64, logical, physical int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, unavailable(path, err)
	}
	defer f.Close()
	g, err := probeGeometry(f)
	if err != nil {
		return 0, 0, 0, unavailable(path, err)
	}
	return g.size, g.logical, g.physical, nil
}

type geometry struct {
	size     int64
	logical  int
	physical int
}

func (g *geometry) defaults() {
	if g.logical <= 0 {
		g.logical = 512
	}
	if g.physical < g.logical {
		g.physical = g.logical
	}
}

// ReadBlock reads length bytes at off.
func ReadBlock(d Device, off int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := ReadInto(d, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto fills buf from off. A short read is a failure.
func ReadInto(d io.ReaderAt, off int64, buf []byte) error {
	n, err := d.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return &IOError{Op: OpRead, Offset: off, Length: len(buf), Err: err}
}

// WriteBlock writes buf at off. A short write is a failure.
func WriteBlock(d io.WriterAt, off int64, buf []byte) error {
	n, err := d.WriteAt(buf, off)
	if n == len(buf) && err == nil {
		return nil
	}
	if err == nil {
		err = io.ErrShortWrite
	}
	return &IOError{Op: OpWrite, Offset: off, Length: len(buf), Err: err}
}
