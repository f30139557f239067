package main

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/config"
	"rawdiag/diag"
	"rawdiag/engine"
	"rawdiag/progress"
	"rawdiag/retrodfrg"
)

func testEngine(d *emulatedDisk) *engine.Engine {
	return engine.New(
		engine.WithProber(d),
		engine.WithOpener(d.Open),
		engine.WithLogger(GinkgoLogr),
		engine.WithDiagOptions(diag.Options{ChunkSize: 4096, RetryDelay: time.Nanosecond}),
		engine.WithInterval(time.Hour),
		engine.WithBuffer(4096),
	)
}

var _ = Describe("emulated disk", func() {
	It("validates the size", func() {
		_, err := newEmulatedDisk("lots", nil)
		Expect(err).To(HaveOccurred())
		_, err = newEmulatedDisk("1000", nil)
		Expect(err).To(MatchError(ContainSubstring("multiple of 512")))
		_, err = newEmulatedDisk("2GiB", nil)
		Expect(err).To(MatchError(ContainSubstring("limited to 1.0 GiB")))
		_, err = newEmulatedDisk("64KiB", []int64{128})
		Expect(err).To(MatchError(ContainSubstring("outside the device")))
	})

	It("probes as a removable in-memory device", func() {
		d, err := newEmulatedDisk("64KiB", nil)
		Expect(err).NotTo(HaveOccurred())
		snap, err := d.Probe("/dev/emul0")
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Capacity).To(Equal(int64(64 << 10)))
		Expect(snap.Sectors()).To(Equal(int64(128)))
		Expect(snap.Removable).To(BeTrue())
		dev, err := d.Open("/dev/emul0", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Size()).To(Equal(snap.Capacity))
	})

	It("paces floppies at floppy speed", func() {
		Expect(emulatedRate(1440 * 1024)).To(Equal(62.5 * 1024))
		Expect(emulatedRate(360 * 1024)).To(Equal(31.25 * 1024))
		Expect(emulatedRate(64 << 20)).To(Equal(float64(32 << 20)))
	})

	It("fails reads at the bad sectors", func() {
		d, err := newEmulatedDisk("64KiB", []int64{16})
		Expect(err).NotTo(HaveOccurred())
		d.mem.Rate = 0
		op, err := testEngine(d).Start(context.Background(), engine.Request{Path: "/dev/emul0", Mode: engine.SurfaceScan})
		Expect(err).NotTo(HaveOccurred())

		var out bytes.Buffer
		res := watchPlain(op, &out)
		Expect(res.State).To(Equal(engine.Succeeded))
		Expect(res.FaultOffsets()).To(ConsistOf(int64(16 * 512)))
		Expect(out.String()).To(ContainSubstring("==> "))
		Expect(out.String()).To(ContainSubstring("faults 1"))
	})
})

var _ = Describe("confirm", func() {
	It("requires --force for destructive modes only", func() {
		a := &app{}
		Expect(a.confirm(engine.Request{Path: "/dev/sdz", Mode: engine.SurfaceScan})).To(Succeed())
		Expect(a.confirm(engine.Request{Path: "/dev/sdz", Mode: engine.SecureErase})).To(MatchError(ContainSubstring("pass --force")))
		Expect(a.confirm(engine.Request{Path: "/dev/sdz", Mode: engine.Burn})).To(MatchError(ContainSubstring("burn overwrites /dev/sdz")))
	})

	It("skips the mount check for emulated devices", func() {
		d, err := newEmulatedDisk("64KiB", nil)
		Expect(err).NotTo(HaveOccurred())
		a := &app{force: true, emulated: d}
		Expect(a.confirm(engine.Request{Path: "/", Mode: engine.FullTest})).To(Succeed())
	})
})

var _ = Describe("sampleLine", func() {
	It("uses the faster direction", func() {
		line := sampleLine(progress.Sample{Percent: 42.3, Bytes: 1 << 20, Total: 4 << 20, ReadMBps: 3, WriteMBps: 7.5, ETA: 3 * time.Second, Faults: 2})
		Expect(line).To(Equal("     42.3%  1.0 MiB / 4.0 MiB  7.5 MB/s  ETA 3s  faults 2"))
	})
})

var _ = Describe("deferredWriter", func() {
	It("holds output until released", func() {
		var out bytes.Buffer
		w := &deferredWriter{out: &out}
		_, _ = w.Write([]byte("a"))
		w.Hold()
		_, _ = w.Write([]byte("b"))
		Expect(out.String()).To(Equal("a"))
		w.Release()
		w.Release()
		_, _ = w.Write([]byte("c"))
		Expect(out.String()).To(Equal("abc"))
	})
})

var _ = Describe("initLogging", func() {
	It("rejects unknown formats", func() {
		_, err := initLogging(config.LogConfig{Format: "xml"}, &bytes.Buffer{})
		Expect(err).To(MatchError(ContainSubstring("invalid log format")))
	})
})

var _ = Describe("view", func() {
	It("follows phases, samples and faults on the sector map", func() {
		sim := tcell.NewSimulationScreen("UTF-8")
		ui, err := retrodfrg.NewUIWithScreen(sim)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ui.Close)
		sim.SetSize(64, 24)

		d, err := newEmulatedDisk("64KiB", []int64{100})
		Expect(err).NotTo(HaveOccurred())
		d.mem.Rate = 0
		op, err := testEngine(d).Start(context.Background(), engine.Request{Path: "/dev/emul0", Mode: engine.SurfaceScan})
		Expect(err).NotTo(HaveOccurred())

		v := newView(ui, true)
		for ev := range op.Events() {
			v.apply(op, ev)
		}
		res := op.Wait()
		v.finish(res)
		ui.LayoutAndDraw()

		Expect(v.sectors.Total()).To(Equal(int64(128)))
		Expect(v.sectors.Done()).To(Equal(int64(128)))
		Expect(v.sectors.Faults()).To(Equal(1))

		cells, w, _ := sim.GetContents()
		var top strings.Builder
		for x := 0; x < w; x++ {
			if r := cells[x].Runes; len(r) > 0 {
				top.WriteRune(r[0])
			}
		}
		Expect(top.String()).To(ContainSubstring("SURFACE-SCAN – /dev/emul0"))
	})
})
