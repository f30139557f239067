// Package imaging copies whole devices to image files and images back onto
// devices.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/progress"
)

// ErrTooSmall is returned by Burn when the target cannot hold the image.
var ErrTooSmall = errors.New("device too small")

// Result describes a finished or interrupted copy.
type Result struct {
	Bytes     int64                 `json:"bytes"`
	Sectors   int64                 `json:"sectors"`
	Total     int64                 `json:"total"`
	ISO       bool                  `json:"iso,omitempty"`
	Verified  bool                  `json:"verified,omitempty"`
	Faults    []blockio.SectorFault `json:"faults,omitempty"`
	ReadMBps  float64               `json:"read_mbps,omitempty"`
	WriteMBps float64               `json:"write_mbps,omitempty"`
	Percent   float64               `json:"percent"`
}

// Copier runs one backup or burn.
type Copier struct {
	Progress  *progress.Reporter
	Stop      func() bool
	Log       logr.Logger
	ChunkSize int

	faults blockio.FaultLog
}

func (c *Copier) setup(bs int) (int, error) {
	if c.Progress == nil {
		c.Progress = progress.NewReporter(nil, 0)
	}
	return blockio.ChunkSize(c.ChunkSize, bs)
}

// Backup copies src into dst. ISO 9660 media are copied only up to the
// filesystem size recorded in the volume descriptor unless full is set.
func (c *Copier) Backup(src blockio.Device, dst io.WriterAt, full bool) (Result, error) {
	chunk, err := c.setup(src.BlockSize())
	if err != nil {
		return Result{}, err
	}
	total := src.Size()
	var res Result
	if !full {
		if iso := bootscan.ISOSize(src); iso > 0 && iso <= total {
			total, res.ISO = iso, true
			c.Log.Info("copying ISO 9660 filesystem only", "size", humanize.IBytes(uint64(iso)))
		}
	}
	res.Total = total
	buf := make([]byte, blockio.BufferSize(total, chunk))
	bs := int64(src.BlockSize())

	c.Progress.Begin(progress.Phase{Index: 0, Count: 1, Label: "reading device", Total: total, Dir: progress.Read})
	start := time.Now()
	err = blockio.Walk(total, chunk, c.Stop, func(ch blockio.Chunk) error {
		b := buf[:ch.Length]
		if err := blockio.ReadInto(src, ch.Offset, b); err != nil {
			return err
		}
		if _, err := dst.WriteAt(b, ch.Offset); err != nil {
			return fmt.Errorf("write image at %d: %w", ch.Offset, err)
		}
		res.Bytes += int64(ch.Length)
		res.Sectors = (res.Bytes + bs - 1) / bs
		c.Progress.Update(res.Bytes, res.Sectors, 0)
		return nil
	})
	if err != nil {
		return c.interrupted(res, err)
	}
	if s, ok := dst.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return res, fmt.Errorf("sync image: %w", err)
		}
	}
	c.Progress.Finish(res.Bytes, res.Sectors, 0)
	res.ReadMBps = progress.MBps(res.Bytes, time.Since(start))
	res.Percent = 100
	c.Log.Info("backup finished", "bytes", res.Bytes)
	return res, nil
}

// Burn writes img onto dst and, when verify is set, reads it back and
// records mismatching blocks. A write failure ends the burn.
func (c *Copier) Burn(img blockio.Device, dst blockio.Device, verify bool) (Result, error) {
	chunk, err := c.setup(dst.BlockSize())
	if err != nil {
		return Result{}, err
	}
	total := img.Size()
	res := Result{Total: total}
	if dst.Size() < total {
		return res, fmt.Errorf("%w: has %s, need %s", ErrTooSmall, humanize.IBytes(uint64(dst.Size())), humanize.IBytes(uint64(total)))
	}
	if dst.Size() > total {
		c.Log.Info("device larger than image, writing image size only", "device", humanize.IBytes(uint64(dst.Size())), "image", humanize.IBytes(uint64(total)))
	}
	count := 1
	if verify {
		count = 2
	}
	buf := make([]byte, blockio.BufferSize(total, chunk))
	bs := int64(dst.BlockSize())

	c.Progress.Begin(progress.Phase{Index: 0, Count: count, Label: "writing image", Total: total, Dir: progress.Write})
	start := time.Now()
	err = blockio.Walk(total, chunk, c.Stop, func(ch blockio.Chunk) error {
		b := buf[:ch.Length]
		if err := readImage(img, ch.Offset, b); err != nil {
			return err
		}
		// pad a ragged image tail to a whole block
		if rem := int64(ch.Length) % bs; rem != 0 && ch.End()+bs-rem <= dst.Size() {
			b = append(b, make([]byte, bs-rem)...)
		}
		if err := blockio.WriteBlock(dst, ch.Offset, b); err != nil {
			return err
		}
		res.Bytes += int64(ch.Length)
		res.Sectors = (res.Bytes + bs - 1) / bs
		c.Progress.Update(res.Bytes, res.Sectors, 0)
		return nil
	})
	if err != nil {
		return c.interrupted(res, err)
	}
	if err := dst.Sync(); err != nil {
		return res, fmt.Errorf("sync device: %w", err)
	}
	c.Progress.Finish(res.Bytes, res.Sectors, 0)
	res.WriteMBps = progress.MBps(res.Bytes, time.Since(start))
	if !verify {
		res.Percent = 100
		return res, nil
	}

	if cd, ok := dst.(blockio.CacheDropper); ok {
		if err := cd.DropCache(); err != nil {
			c.Log.V(1).Info("cache drop failed before verify", "err", err.Error())
		}
	}
	got := make([]byte, len(buf))
	var done int64
	c.Progress.Begin(progress.Phase{Index: 1, Count: count, Label: "verifying", Total: total, Dir: progress.Read})
	start = time.Now()
	err = blockio.Walk(total, chunk, c.Stop, func(ch blockio.Chunk) error {
		want, have := buf[:ch.Length], got[:ch.Length]
		if err := readImage(img, ch.Offset, want); err != nil {
			return err
		}
		if err := blockio.ReadInto(dst, ch.Offset, have); err != nil {
			c.faults.Add(ch.Offset, int64(ch.Length), blockio.FaultRead)
			c.Log.Error(err, "verify read failed", "offset", ch.Offset)
		} else {
			c.compare(ch.Offset, have, want, int(bs))
		}
		done += int64(ch.Length)
		c.Progress.Update(done, (done+bs-1)/bs, c.faults.Len())
		return nil
	})
	if err != nil {
		return c.interrupted(res, err)
	}
	c.Progress.Finish(done, (done+bs-1)/bs, c.faults.Len())
	res.ReadMBps = progress.MBps(done, time.Since(start))
	res.Verified = c.faults.Len() == 0
	res.Faults = c.faults.Faults()
	res.Percent = 100
	c.Log.Info("burn finished", "bytes", res.Bytes, "verified", res.Verified, "faults", len(res.Faults))
	return res, nil
}

func (c *Copier) interrupted(res Result, err error) (Result, error) {
	res.Faults = c.faults.Faults()
	if errors.Is(err, blockio.ErrCancelled) {
		res.Percent = c.Progress.LastPercent()
		c.Log.Info("copy cancelled", "bytes", res.Bytes)
		return res, err
	}
	c.Log.Error(err, "copy failed", "bytes", res.Bytes)
	return res, err
}

func readImage(img io.ReaderAt, off int64, b []byte) error {
	if err := blockio.ReadInto(img, off, b); err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return nil
}

func (c *Copier) compare(base int64, got, want []byte, bs int) {
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 {
			c.faults.Add(base+int64(runStart), int64(end-runStart), blockio.FaultVerifyMismatch)
			runStart = -1
		}
	}
	for off := 0; off < len(got); off += bs {
		end := min(off+bs, len(got))
		if bytes.Equal(got[off:end], want[off:end]) {
			flush(off)
		} else if runStart < 0 {
			runStart = off
		}
	}
	flush(len(got))
}
