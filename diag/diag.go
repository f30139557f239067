// Package diag runs the Surface Scan, Full Test and Speed Test modes over a
// block device.
package diag

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"rawdiag/blockio"
	"rawdiag/progress"
)

// Mode selects a diagnostic.
type Mode int

const (
	SurfaceScan Mode = iota
	FullTest
	SpeedTest
)

func (m Mode) String() string {
	switch m {
	case SurfaceScan:
		return "surface-scan"
	case FullTest:
		return "full-test"
	case SpeedTest:
		return "speed-test"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Destructive reports whether the mode overwrites data.
func (m Mode) Destructive() bool { return m == FullTest || m == SpeedTest }

// Sample is one Speed Test workload.
type Sample struct {
	BlockSize int `json:"block_size" yaml:"block_size"`
	Count     int `json:"count" yaml:"count"`
}

// DefaultSamples are the Speed Test workloads: 32 MiB each of 1, 4 and 16 MiB
// sequential blocks, 128 MiB in total.
var DefaultSamples = []Sample{
	{BlockSize: 1 << 20, Count: 32},
	{BlockSize: 4 << 20, Count: 16},
	{BlockSize: 16 << 20, Count: 8},
}

// Options tunes a Machine. Zero values select defaults.
type Options struct {
	ChunkSize   int
	ReadRetries int
	RetryDelay  time.Duration
	Samples     []Sample
}

// SpeedRow is the measured throughput of one Speed Test sample.
type SpeedRow struct {
	BlockSize int     `json:"block_size"`
	Count     int     `json:"count"`
	Bytes     int64   `json:"bytes"`
	WriteMBps float64 `json:"write_mbps"`
	ReadMBps  float64 `json:"read_mbps"`
	Error     string  `json:"error,omitempty"`
}

// Result is the outcome of a diagnostic. On cancellation it holds whatever
// was gathered before the stop.
type Result struct {
	Mode      Mode                  `json:"-"`
	Sectors   int64                 `json:"sectors"`
	Bytes     int64                 `json:"bytes"`
	Faults    []blockio.SectorFault `json:"faults"`
	ReadMBps  float64               `json:"read_mbps"`
	WriteMBps float64               `json:"write_mbps"`
	Speed     []SpeedRow            `json:"speed,omitempty"`
	Phases    int                   `json:"phases"`
	Percent   float64               `json:"percent"`
}

// Machine runs one diagnostic. It is built fresh per operation.
type Machine struct {
	Device   blockio.Device
	Progress *progress.Reporter
	Stop     func() bool
	Log      logr.Logger
	Options  Options

	phase  string
	faults blockio.FaultLog
	chunk  int
	sleep  func(time.Duration)
}

// Phase is the label of the phase being run, or "idle".
func (m *Machine) Phase() string {
	if m.phase == "" {
		return "idle"
	}
	return m.phase
}

// Run executes mode. A cancelled run returns blockio.ErrCancelled with the
// partial Result.
func (m *Machine) Run(mode Mode) (Result, error) {
	if m.Progress == nil {
		m.Progress = progress.NewReporter(nil, 0)
	}
	if m.sleep == nil {
		m.sleep = time.Sleep
	}
	chunk, err := blockio.ChunkSize(m.Options.ChunkSize, m.Device.BlockSize())
	if err != nil {
		return Result{Mode: mode}, err
	}
	m.chunk = chunk
	m.Log.V(1).Info("diagnostic starting", "mode", mode.String(), "capacity", m.Device.Size(), "chunk", chunk)

	var res Result
	switch mode {
	case SurfaceScan:
		res, err = m.surfaceScan()
	case FullTest:
		res, err = m.fullTest()
	case SpeedTest:
		res, err = m.speedTest()
	default:
		return Result{Mode: mode}, fmt.Errorf("unknown diagnostic mode %d", int(mode))
	}
	res.Mode = mode
	res.Faults = m.faults.Faults()
	if errors.Is(err, blockio.ErrCancelled) {
		res.Percent = m.Progress.LastPercent()
		m.Log.Info("diagnostic cancelled", "mode", mode.String(), "phase", m.phase, "sectors", res.Sectors, "faults", len(res.Faults))
	} else if err == nil {
		res.Percent = 100
		m.Log.Info("diagnostic finished", "mode", mode.String(), "sectors", res.Sectors, "faults", len(res.Faults))
	}
	m.phase = ""
	return res, err
}

func (m *Machine) begin(p progress.Phase) {
	m.phase = p.Label
	m.Progress.Begin(p)
}

func (m *Machine) sectors(bytes int64) int64 {
	bs := int64(m.Device.BlockSize())
	return (bytes + bs - 1) / bs
}

func (m *Machine) buffer(total int64) []byte {
	return make([]byte, blockio.BufferSize(total, m.chunk))
}
