package forensic_test

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/device"
	"rawdiag/forensic"
	"rawdiag/progress"
	"rawdiag/smart"
)

type fakeSMART struct {
	rec   smart.Record
	paths []string
}

func (f *fakeSMART) Query(_ context.Context, path, _ string) smart.Record {
	f.paths = append(f.paths, path)
	return f.rec
}

type recorder struct{ events []progress.Event }

func (r *recorder) Emit(e progress.Event) { r.events = append(r.events, e) }

func usbStick() *blockio.MemDevice {
	dev := blockio.NewMemDevice(256*1024, 512)
	img := dev.Bytes()
	e := img[446:]
	e[0], e[4] = 0x80, 0x0C
	binary.LittleEndian.PutUint32(e[8:], 8)
	binary.LittleEndian.PutUint32(e[12:], 500)
	img[510], img[511] = 0x55, 0xAA
	copy(img[8*512+82:], "FAT32   ")
	return dev
}

var _ = Describe("Assembler", func() {
	var (
		dev   *blockio.MemDevice
		info  device.Device
		sm    *fakeSMART
		rec   *recorder
		asm   *forensic.Assembler
		stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		dev = usbStick()
		info = device.Device{ID: "usb-1", Path: "/dev/sdz", Capacity: dev.Size(), LogicalBlockSize: 512}
		sm = &fakeSMART{rec: smart.Record{Available: true, Source: smart.SourceSmartctlJSON, Health: smart.HealthPassed}}
		rec = &recorder{}
		asm = &forensic.Assembler{
			SMART:    sm,
			Host:     func() *forensic.Host { return &forensic.Host{Hostname: "lab-1", OS: "linux", Arch: "amd64"} },
			Progress: progress.NewReporter(rec, time.Hour),
			Log:      GinkgoLogr,
			Now:      func() time.Time { return stamp },
		}
	})

	It("merges every section into one report", func() {
		r, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ID).NotTo(BeEmpty())
		Expect(r.CapturedAt).To(Equal(stamp))
		Expect(r.Device).To(Equal(info))
		Expect(r.Boot.Verdict).To(Equal("Legacy BIOS (MBR)"))
		Expect(r.SMART.Health).To(Equal(smart.HealthPassed))
		Expect(sm.paths).To(Equal([]string{"/dev/sdz"}))
		Expect(r.Host.Hostname).To(Equal("lab-1"))
		Expect(r.Notes).To(BeEmpty())

		Expect(r.Partitions).To(Equal([]forensic.Partition{{
			Scheme: "MBR", Number: 1, Type: "FAT32", Offset: 4096, Size: 500 * 512, Bootable: true, Filesystem: "FAT32",
		}}))
	})

	It("hashes and dumps the leading kilobyte", func() {
		r, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).NotTo(HaveOccurred())
		lead := dev.Bytes()[:forensic.ChecksumRange]
		m := md5.Sum(lead)
		s := sha256.Sum256(lead)
		Expect(r.Checksums).To(Equal(&forensic.Checksums{
			Length: 1024,
			MD5:    hex.EncodeToString(m[:]),
			SHA256: hex.EncodeToString(s[:]),
		}))
		Expect(r.HexDump).To(Equal(hex.Dump(lead)))
	})

	It("hashes a prefix of the range read for boot analysis", func() {
		Expect(forensic.ChecksumRange).To(BeNumerically("<=", bootscan.LeadingRange))
		Expect(forensic.ChecksumRange).To(Equal(2 * 512))
	})

	It("emits the coarse phases in order", func() {
		_, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).NotTo(HaveOccurred())
		var labels []string
		for _, e := range rec.events {
			if p, ok := e.(progress.PhaseEvent); ok {
				labels = append(labels, p.Label)
			}
		}
		Expect(labels).To(Equal([]string{"boot", "smart", "checksum", "host"}))
	})

	It("notes unavailable sections without failing", func() {
		sm.rec = smart.Record{Source: smart.SourceNone, Message: "Unknown USB bridge"}
		dev.FailReadAt(0)
		r, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Boot).To(BeNil())
		Expect(r.Checksums).To(BeNil())
		Expect(r.SMART.Available).To(BeFalse())
		Expect(r.Notes).To(HaveLen(3))
		Expect(r.Host).NotTo(BeNil())
	})

	It("skips SMART for image files", func() {
		info.Image = true
		r, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.SMART).To(BeNil())
		Expect(sm.paths).To(BeEmpty())
	})

	It("stops between sections when cancelled", func() {
		calls := 0
		asm.Stop = func() bool { calls++; return calls > 2 }
		r, err := asm.Assemble(context.Background(), dev, info, "")
		Expect(err).To(MatchError(blockio.ErrCancelled))
		Expect(r.Boot).NotTo(BeNil())
		Expect(r.Checksums).To(BeNil())
	})

	It("describes the local host", func() {
		h := forensic.LocalHost()
		Expect(h.OS).NotTo(BeEmpty())
		Expect(h.Arch).NotTo(BeEmpty())
	})
})
