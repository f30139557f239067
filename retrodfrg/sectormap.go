package retrodfrg

import (
	"sort"
	"strings"
	"sync"
)

// Map glyphs.
const (
	GlyphDone    = '█'
	GlyphPending = '░'
	GlyphCurrent = '■'
	GlyphFault   = 'X'
)

// SectorMap tracks how far the current pass has reached and which sectors
// faulted. It stores positions, not per-sector state, so it scales to any
// device size; Lines resamples it onto however many cells the screen has.
type SectorMap struct {
	mu     sync.Mutex
	total  int64
	pos    int64
	faults []int64 // sorted, unique
}

// NewSectorMap returns a map of total sectors with nothing done.
func NewSectorMap(total int64) *SectorMap {
	if total < 0 {
		total = 0
	}
	return &SectorMap{total: total}
}

// Total is the number of sectors mapped.
func (m *SectorMap) Total() int64 { return m.total }

// Reset starts a new pass. Faults are kept.
func (m *SectorMap) Reset() {
	m.mu.Lock()
	m.pos = 0
	m.mu.Unlock()
}

// MarkDone records that every sector below upTo has been processed in this
// pass. The position never moves backwards within a pass.
func (m *SectorMap) MarkDone(upTo int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	upTo = min(upTo, m.total)
	if upTo > m.pos {
		m.pos = upTo
	}
}

// MarkFault flags one sector.
func (m *SectorMap) MarkFault(sector int64) {
	if sector < 0 || sector >= m.total {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.faults), func(i int) bool { return m.faults[i] >= sector })
	if i < len(m.faults) && m.faults[i] == sector {
		return
	}
	m.faults = append(m.faults, 0)
	copy(m.faults[i+1:], m.faults[i:])
	m.faults[i] = sector
}

// Done is the pass position in sectors.
func (m *SectorMap) Done() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Faults is the number of distinct faulted sectors.
func (m *SectorMap) Faults() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.faults)
}

// Lines renders the map into at most rows lines of width w. When the device
// has fewer sectors than cells each cell is one sector and the tail is left
// blank; otherwise each cell covers a contiguous range of sectors.
func (m *SectorMap) Lines(w, rows int) []string {
	if w <= 0 || rows <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 {
		return nil
	}

	cells := int64(w) * int64(rows)
	if cells > m.total {
		cells = m.total
	}
	lines := make([]string, 0, rows)
	var b strings.Builder
	for c := int64(0); c < cells; c++ {
		start := c * m.total / cells
		end := (c + 1) * m.total / cells
		b.WriteRune(m.glyph(start, end))
		if (c+1)%int64(w) == 0 {
			lines = append(lines, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		lines = append(lines, b.String())
	}
	return lines
}

// glyph classifies the sector range [start, end).
func (m *SectorMap) glyph(start, end int64) rune {
	i := sort.Search(len(m.faults), func(i int) bool { return m.faults[i] >= start })
	switch {
	case i < len(m.faults) && m.faults[i] < end:
		return GlyphFault
	case m.pos >= end:
		return GlyphDone
	case m.pos > start || (m.pos == start && m.pos > 0):
		return GlyphCurrent
	}
	return GlyphPending
}
