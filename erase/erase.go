// Package erase overwrites a whole device with the passes of an erase
// pattern.
package erase

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"rawdiag/blockio"
	"rawdiag/pattern"
	"rawdiag/progress"
)

// Result names what was written. PassesDone counts completed passes only.
type Result struct {
	Pattern    string  `json:"pattern"`
	Version    string  `json:"version"`
	Passes     int     `json:"passes"`
	PassesDone int     `json:"passes_done"`
	Bytes      int64   `json:"bytes"`
	Sectors    int64   `json:"sectors"`
	WriteMBps  float64 `json:"write_mbps"`
	Percent    float64 `json:"percent"`
}

// Eraser runs one erase. Passes are not resumable: a cancel or a write
// failure ends the whole erase.
type Eraser struct {
	Device    blockio.Device
	Progress  *progress.Reporter
	Stop      func() bool
	Log       logr.Logger
	ChunkSize int
}

// Run writes every pass of p across the full capacity and syncs after each
// one. It returns blockio.ErrCancelled when stopped and an *blockio.IOError
// for the first failed write.
func (e *Eraser) Run(p pattern.Pattern) (Result, error) {
	res := Result{Pattern: p.Name, Version: p.Version, Passes: len(p.Passes)}
	if e.Progress == nil {
		e.Progress = progress.NewReporter(nil, 0)
	}
	if len(p.Passes) == 0 {
		return res, fmt.Errorf("pattern %q has no passes", p.Name)
	}
	chunk, err := blockio.ChunkSize(e.ChunkSize, e.Device.BlockSize())
	if err != nil {
		return res, err
	}
	total := e.Device.Size()
	buf := make([]byte, blockio.BufferSize(total, chunk))
	bs := int64(e.Device.BlockSize())
	start := time.Now()

	e.Log.Info("erase starting", "pattern", p.Name, "version", p.Version, "passes", len(p.Passes), "capacity", total)
	for i, pass := range p.Passes {
		fill, err := pattern.NewFiller(pass)
		if err != nil {
			return res, err
		}
		label := fmt.Sprintf("pass %d/%d: %s", i+1, len(p.Passes), pass)
		e.Progress.Begin(progress.Phase{Index: i, Count: len(p.Passes), Label: label, Total: total, Dir: progress.Write})

		var done int64
		err = blockio.Walk(total, chunk, e.Stop, func(c blockio.Chunk) error {
			b := buf[:c.Length]
			fill.Fill(b, c.Offset)
			if err := blockio.WriteBlock(e.Device, c.Offset, b); err != nil {
				return err
			}
			done += int64(c.Length)
			e.Progress.Update(done, (done+bs-1)/bs, 0)
			return nil
		})
		res.Bytes += done
		res.Sectors = max(res.Sectors, (done+bs-1)/bs)
		if errors.Is(err, blockio.ErrCancelled) {
			res.Percent = e.Progress.LastPercent()
			e.Log.Info("erase cancelled", "pass", i+1, "percent", res.Percent)
			return res, err
		}
		if err != nil {
			e.Log.Error(err, "erase pass failed", "pass", i+1)
			return res, err
		}
		if err := e.Device.Sync(); err != nil {
			return res, fmt.Errorf("sync after pass %d: %w", i+1, err)
		}
		e.Progress.Finish(done, res.Sectors, 0)
		res.PassesDone++
		e.Log.V(1).Info("erase pass done", "pass", label)
	}
	res.WriteMBps = progress.MBps(res.Bytes, time.Since(start))
	res.Percent = 100
	e.Log.Info("erase finished", "pattern", p.Name, "bytes", res.Bytes)
	return res, nil
}
