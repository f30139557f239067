package retrodfrg

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"rawdiag/progress"
)

// Legend explains the map glyphs.
func Legend() []string {
	return []string{
		fmt.Sprintf("Legend:  %c checked   %c not yet checked   %c current   %c fault | Q to stop",
			GlyphDone, GlyphPending, GlyphCurrent, GlyphFault),
	}
}

// StatusLines formats the status block for the latest sample. emulated
// switches the mode label.
func StatusLines(s progress.Sample, sectorSize int, m *SectorMap, emulated bool) []string {
	rate := s.ReadMBps
	if s.WriteMBps > rate {
		rate = s.WriteMBps
	}
	eta := "—"
	if s.ETA > 0 {
		eta = s.ETA.Truncate(time.Second).String()
	}
	mode := "REAL"
	if emulated {
		mode = "EMULATE"
	}
	var done, total int64
	if m != nil {
		done, total = m.Done(), m.Total()
	}
	phase := s.Phase
	if s.PhaseCount > 1 {
		phase = fmt.Sprintf("%s (%d/%d)", s.Phase, s.PhaseIndex+1, s.PhaseCount)
	}
	return []string{
		fmt.Sprintf("Absolute: %06d   Bytes: %s / %s", s.Bytes/int64(max(sectorSize, 1)), humanize.IBytes(uint64(max(s.Bytes, 0))), humanize.IBytes(uint64(max(s.Total, 0)))),
		fmt.Sprintf("Checked: %d / %d sectors   Faults: %d   Phase: %.1f%%   Overall: %.1f%%", done, total, s.Faults, s.Percent, s.Overall),
		fmt.Sprintf("Elapsed: %s   Rate: %.1f MB/s   ETA: %s   Mode: %s", s.Elapsed.Truncate(time.Second), rate, eta, mode),
		"Current op: " + phase,
	}
}
