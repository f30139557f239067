package retrodfrg

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/progress"
)

var _ = Describe("SectorMap", func() {
	It("renders an untouched map as pending", func() {
		m := NewSectorMap(20)
		Expect(m.Lines(10, 4)).To(Equal([]string{
			strings.Repeat(string(GlyphPending), 10),
			strings.Repeat(string(GlyphPending), 10),
		}))
	})

	It("shows done, current and pending cells", func() {
		m := NewSectorMap(100)
		m.MarkDone(45)
		line := m.Lines(10, 1)[0]
		Expect([]rune(line)).To(HaveLen(10))
		Expect(line).To(Equal("████■░░░░░"))
	})

	It("never moves backwards within a pass", func() {
		m := NewSectorMap(100)
		m.MarkDone(60)
		m.MarkDone(10)
		Expect(m.Done()).To(Equal(int64(60)))
		m.MarkDone(1000)
		Expect(m.Done()).To(Equal(int64(100)))
		Expect(m.Lines(10, 1)[0]).To(Equal(strings.Repeat(string(GlyphDone), 10)))
	})

	It("keeps faults across passes", func() {
		m := NewSectorMap(100)
		m.MarkDone(100)
		m.MarkFault(55)
		m.MarkFault(55)
		m.MarkFault(3)
		m.MarkFault(-1)
		m.MarkFault(100)
		Expect(m.Faults()).To(Equal(2))

		m.Reset()
		Expect(m.Done()).To(BeZero())
		Expect(m.Lines(10, 1)[0]).To(Equal("X░░░░X░░░░"))
	})

	It("returns nothing for an empty map or screen", func() {
		Expect(NewSectorMap(0).Lines(10, 1)).To(BeEmpty())
		Expect(NewSectorMap(10).Lines(0, 1)).To(BeEmpty())
	})
})

var _ = Describe("StatusLines", func() {
	It("formats the sample", func() {
		m := NewSectorMap(2048)
		m.MarkDone(1024)
		lines := StatusLines(progress.Sample{
			Phase: "write", PhaseIndex: 0, PhaseCount: 2,
			Percent: 50, Overall: 25,
			Bytes: 512 * 1024, Total: 1 << 20,
			Faults: 3, WriteMBps: 12.34,
			Elapsed: 90 * time.Second, ETA: 90 * time.Second,
		}, 512, m, true)
		Expect(lines).To(HaveLen(4))
		Expect(lines[0]).To(Equal("Absolute: 001024   Bytes: 512 KiB / 1.0 MiB"))
		Expect(lines[1]).To(ContainSubstring("Checked: 1024 / 2048 sectors   Faults: 3"))
		Expect(lines[2]).To(Equal("Elapsed: 1m30s   Rate: 12.3 MB/s   ETA: 1m30s   Mode: EMULATE"))
		Expect(lines[3]).To(Equal("Current op: write (1/2)"))
	})

	It("shows a dash when no ETA is known", func() {
		lines := StatusLines(progress.Sample{Phase: "read"}, 512, nil, false)
		Expect(lines[2]).To(ContainSubstring("ETA: —   Mode: REAL"))
		Expect(lines[3]).To(Equal("Current op: read"))
	})
})
