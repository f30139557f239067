package diag

import (
	"bytes"
	"math/rand/v2"
	"time"

	"rawdiag/blockio"
	"rawdiag/progress"
)

// surfaceScan reads the whole device. Failed chunks are recorded and the
// walk carries on; percent is held at 99 until the last chunk is done.
func (m *Machine) surfaceScan() (Result, error) {
	var res Result
	total := m.Device.Size()
	buf := m.buffer(total)
	res.Phases = 1
	m.begin(progress.Phase{Index: 0, Count: 1, Label: "reading", Total: total, Dir: progress.Read, Cap: 99})

	var done int64
	err := blockio.Walk(total, m.chunk, m.Stop, func(c blockio.Chunk) error {
		if err := m.readRetry(c, buf[:c.Length]); err != nil {
			m.faults.Add(c.Offset, int64(c.Length), blockio.FaultRead)
			m.Log.Error(err, "chunk unreadable", "offset", c.Offset, "length", c.Length)
		}
		done += int64(c.Length)
		res.Bytes, res.Sectors = done, m.sectors(done)
		m.Progress.Update(done, res.Sectors, m.faults.Len())
		return nil
	})
	if err != nil {
		return res, err
	}
	m.Progress.Finish(done, res.Sectors, m.faults.Len())
	res.ReadMBps = progress.MBps(done, m.Progress.Elapsed())
	return res, nil
}

// readRetry reads a chunk, retrying with jittered exponential backoff before
// classifying the failure as persistent.
func (m *Machine) readRetry(c blockio.Chunk, buf []byte) error {
	delay := m.Options.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = blockio.ReadInto(m.Device, c.Offset, buf); err == nil {
			if attempt > 0 {
				m.Log.V(1).Info("transient read error cleared", "offset", c.Offset, "attempts", attempt+1)
			}
			return nil
		}
		if attempt >= m.Options.ReadRetries || (m.Stop != nil && m.Stop()) {
			return err
		}
		m.sleep(delay + time.Duration(rand.Int64N(int64(delay/2)+1)))
		delay *= 2
	}
}

type fill struct {
	b     byte
	label string
}

var fullTestPatterns = []fill{{0x00, "zeros"}, {0xFF, "ones"}}

// fullTest writes each pattern across the device and reads it back. Write
// and read failures and mismatches are recorded without stopping the test.
func (m *Machine) fullTest() (Result, error) {
	var res Result
	total := m.Device.Size()
	buf := m.buffer(total)
	want := m.buffer(total)
	count := 2 * len(fullTestPatterns)
	res.Phases = count

	for i, p := range fullTestPatterns {
		for j := range want {
			want[j] = p.b
		}

		m.begin(progress.Phase{Index: 2 * i, Count: count, Label: "writing " + p.label, Total: total, Dir: progress.Write})
		var done int64
		err := blockio.Walk(total, m.chunk, m.Stop, func(c blockio.Chunk) error {
			if err := blockio.WriteBlock(m.Device, c.Offset, want[:c.Length]); err != nil {
				m.faults.Add(c.Offset, int64(c.Length), blockio.FaultWrite)
				m.Log.Error(err, "chunk write failed", "offset", c.Offset, "pattern", p.label)
			}
			done += int64(c.Length)
			res.Sectors = m.sectors(done)
			m.Progress.Update(done, res.Sectors, m.faults.Len())
			return nil
		})
		if err != nil {
			return res, err
		}
		if err := m.Device.Sync(); err != nil {
			m.Log.Error(err, "sync after write phase failed")
		}
		m.Progress.Finish(done, res.Sectors, m.faults.Len())
		m.dropCache()

		m.begin(progress.Phase{Index: 2*i + 1, Count: count, Label: "verifying " + p.label, Total: total, Dir: progress.Read})
		done = 0
		err = blockio.Walk(total, m.chunk, m.Stop, func(c blockio.Chunk) error {
			got := buf[:c.Length]
			if err := blockio.ReadInto(m.Device, c.Offset, got); err != nil {
				m.faults.Add(c.Offset, int64(c.Length), blockio.FaultRead)
				m.Log.Error(err, "chunk unreadable during verify", "offset", c.Offset)
			} else {
				m.compare(c.Offset, got, want[:c.Length])
			}
			done += int64(c.Length)
			res.Bytes, res.Sectors = done, m.sectors(done)
			m.Progress.Update(done, res.Sectors, m.faults.Len())
			return nil
		})
		if err != nil {
			return res, err
		}
		m.Progress.Finish(done, res.Sectors, m.faults.Len())
	}
	return res, nil
}

// compare checks got against want one logical block at a time and records
// each run of mismatching blocks as a single fault.
func (m *Machine) compare(base int64, got, want []byte) {
	bs := m.Device.BlockSize()
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 {
			m.faults.Add(base+int64(runStart), int64(end-runStart), blockio.FaultVerifyMismatch)
			runStart = -1
		}
	}
	for off := 0; off < len(got); off += bs {
		end := min(off+bs, len(got))
		if bytes.Equal(got[off:end], want[off:end]) {
			flush(off)
			continue
		}
		if runStart < 0 {
			runStart = off
		}
	}
	flush(len(got))
}

func (m *Machine) dropCache() {
	if cd, ok := m.Device.(blockio.CacheDropper); ok {
		if err := cd.DropCache(); err != nil {
			m.Log.V(1).Info("cache drop failed, verify may read cached pages", "err", err.Error())
		}
	}
}
