package engine

import (
	"errors"
	"fmt"
	"time"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/device"
	"rawdiag/diag"
	"rawdiag/forensic"
	"rawdiag/imaging"
)

// Result is the terminal record of an Operation. Fields that do not apply to
// the mode are left zero.
type Result struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode"`
	Device    device.Device `json:"device"`
	State     State         `json:"state"`
	Message   string        `json:"message"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`

	Sectors   int64                 `json:"sectors"`
	Faults    []blockio.SectorFault `json:"faults,omitempty"`
	ReadMBps  float64               `json:"read_mbps"`
	WriteMBps float64               `json:"write_mbps"`
	Percent   float64               `json:"percent"`

	Speed          []diag.SpeedRow    `json:"speed,omitempty"`
	Pattern        string             `json:"pattern,omitempty"`
	PatternVersion string             `json:"pattern_version,omitempty"`
	Passes         int                `json:"passes,omitempty"`
	Boot           *bootscan.Analysis `json:"boot,omitempty"`
	Report         *forensic.Report   `json:"report,omitempty"`
	Copy           *imaging.Result    `json:"copy,omitempty"`

	Err error `json:"-"`
}

// Duration is the wall time between start and end.
func (r Result) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// DisplayFaults returns at most limit faults and how many were left out.
// The full list stays in Faults.
func (r Result) DisplayFaults(limit int) ([]blockio.SectorFault, int) {
	if limit <= 0 || len(r.Faults) <= limit {
		return r.Faults, 0
	}
	return r.Faults[:limit], len(r.Faults) - limit
}

// FaultOffsets lists the byte offset of every fault.
func (r Result) FaultOffsets() []int64 {
	out := make([]int64, len(r.Faults))
	for i, f := range r.Faults {
		out[i] = f.Offset
	}
	return out
}

// terminal classifies a worker outcome into a final state and message.
func terminal(err error, faults int) (State, string) {
	switch {
	case err == nil:
		return Succeeded, fmt.Sprintf("completed with %d faults", faults)
	case errors.Is(err, blockio.ErrCancelled):
		return Cancelled, "cancelled by user"
	case errors.Is(err, blockio.ErrDeviceUnavailable):
		return Failed, "failed: device unavailable"
	case errors.Is(err, imaging.ErrTooSmall):
		return Failed, "failed: device too small for image"
	}
	if ioe, ok := blockio.AsIOError(err); ok {
		return Failed, fmt.Sprintf("failed: %s error at offset %d", ioe.Op, ioe.Offset)
	}
	return Failed, "failed: " + err.Error()
}
