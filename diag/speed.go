package diag

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"rawdiag/blockio"
	"rawdiag/pattern"
	"rawdiag/progress"
)

// speedTest writes and then reads back each sample region from offset 0
// and reports the best sustained rate per direction. The sampled region is
// overwritten with random data so controller compression cannot inflate
// the figures.
func (m *Machine) speedTest() (Result, error) {
	var res Result
	samples := m.Options.Samples
	if len(samples) == 0 {
		samples = DefaultSamples
	}
	capacity := m.Device.Size()
	bs := int64(m.Device.BlockSize())

	var plan []Sample
	for _, s := range samples {
		size := int64(s.BlockSize) - int64(s.BlockSize)%bs
		if size <= 0 || size > capacity {
			continue
		}
		count := s.Count
		if limit := int(capacity / size); count > limit {
			count = limit
		}
		if count > 0 {
			plan = append(plan, Sample{BlockSize: int(size), Count: count})
		}
	}
	if len(plan) == 0 {
		return res, fmt.Errorf("device of %d bytes is too small for any speed sample", capacity)
	}

	phases := 2 * len(plan)
	res.Phases = phases
	for i, s := range plan {
		row := SpeedRow{BlockSize: s.BlockSize, Count: s.Count, Bytes: int64(s.BlockSize) * int64(s.Count)}
		label := humanize.IBytes(uint64(s.BlockSize))

		buf := make([]byte, s.BlockSize)
		rnd, err := pattern.NewFiller(pattern.Pass{Kind: pattern.Random})
		if err != nil {
			return res, err
		}
		rnd.Fill(buf, 0)

		m.begin(progress.Phase{Index: 2 * i, Count: phases, Label: "write " + label + " blocks", Total: row.Bytes, Dir: progress.Write})
		start := time.Now()
		written, werr := m.timedPass(s, func(off int64) error { return blockio.WriteBlock(m.Device, off, buf) }, &res)
		if werr == nil {
			if err := m.Device.Sync(); err != nil {
				werr = fmt.Errorf("sync: %w", err)
			}
		}
		elapsed := time.Since(start)
		if errors.Is(werr, blockio.ErrCancelled) {
			res.Speed = append(res.Speed, row)
			return res, werr
		}
		m.Progress.Finish(written, m.sectors(written), m.faults.Len())
		if werr != nil {
			row.Error = werr.Error()
		} else {
			row.WriteMBps = progress.MBps(written, elapsed)
		}
		m.dropCache()

		m.begin(progress.Phase{Index: 2*i + 1, Count: phases, Label: "read " + label + " blocks", Total: row.Bytes, Dir: progress.Read})
		start = time.Now()
		read, rerr := m.timedPass(s, func(off int64) error { return blockio.ReadInto(m.Device, off, buf) }, &res)
		elapsed = time.Since(start)
		if errors.Is(rerr, blockio.ErrCancelled) {
			res.Speed = append(res.Speed, row)
			return res, rerr
		}
		m.Progress.Finish(read, m.sectors(read), m.faults.Len())
		if rerr != nil {
			if row.Error == "" {
				row.Error = rerr.Error()
			}
		} else {
			row.ReadMBps = progress.MBps(read, elapsed)
		}

		res.Speed = append(res.Speed, row)
		res.WriteMBps = max(res.WriteMBps, row.WriteMBps)
		res.ReadMBps = max(res.ReadMBps, row.ReadMBps)
		m.Log.Info("speed sample measured", "block", label, "count", s.Count, "writeMBps", row.WriteMBps, "readMBps", row.ReadMBps)
	}
	return res, nil
}

// timedPass runs one block operation per sample block. The first I/O error
// ends the pass and is recorded as a fault.
func (m *Machine) timedPass(s Sample, op func(off int64) error, res *Result) (int64, error) {
	var done int64
	for i := 0; i < s.Count; i++ {
		if m.Stop != nil && m.Stop() {
			return done, blockio.ErrCancelled
		}
		off := int64(i) * int64(s.BlockSize)
		if err := op(off); err != nil {
			kind := blockio.FaultRead
			if ioe, ok := blockio.AsIOError(err); ok && ioe.Op == blockio.OpWrite {
				kind = blockio.FaultWrite
			}
			m.faults.Add(off, int64(s.BlockSize), kind)
			m.Log.Error(err, "speed sample I/O failed", "offset", off)
			return done, err
		}
		done += int64(s.BlockSize)
		res.Sectors = max(res.Sectors, m.sectors(done))
		m.Progress.Update(done, m.sectors(done), m.faults.Len())
	}
	return done, nil
}
