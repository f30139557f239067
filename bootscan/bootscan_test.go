package bootscan_test

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/bootscan"
)

var espType = [16]byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11, 0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}

func signMBR(img []byte) { img[510], img[511] = 0x55, 0xAA }

func putMBREntry(img []byte, slot int, status, typ byte, start, sectors uint32) {
	e := img[446+16*slot:]
	e[0], e[4] = status, typ
	binary.LittleEndian.PutUint32(e[8:], start)
	binary.LittleEndian.PutUint32(e[12:], sectors)
	signMBR(img)
}

func putGPT(img []byte, disk [16]byte, typ [16]byte, first, last uint64, name string) {
	lastLBA := uint64(len(img)/512 - 1)
	h := img[512:]
	copy(h, "EFI PART")
	copy(h[8:], []byte{0, 0, 1, 0})
	binary.LittleEndian.PutUint32(h[12:], 92)
	binary.LittleEndian.PutUint64(h[24:], 1)
	binary.LittleEndian.PutUint64(h[32:], lastLBA)
	binary.LittleEndian.PutUint64(h[40:], 34)
	binary.LittleEndian.PutUint64(h[48:], lastLBA-33)
	copy(h[56:], disk[:])
	binary.LittleEndian.PutUint64(h[72:], 2)
	binary.LittleEndian.PutUint32(h[80:], 128)
	binary.LittleEndian.PutUint32(h[84:], 128)

	e := img[1024:]
	copy(e, typ[:])
	copy(e[16:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	binary.LittleEndian.PutUint64(e[32:], first)
	binary.LittleEndian.PutUint64(e[40:], last)
	for i, c := range utf16.Encode([]rune(name)) {
		binary.LittleEndian.PutUint16(e[56+2*i:], c)
	}
}

func putISO(img []byte, label string, elTorito bool) {
	pvd := img[0x8000:]
	pvd[0] = 1
	copy(pvd[1:], "CD001")
	copy(pvd[0x28:], []byte(label+"                                ")[:32])
	binary.LittleEndian.PutUint32(pvd[80:], uint32(len(img)/2048))
	binary.LittleEndian.PutUint16(pvd[128:], 2048)
	next := 0x8800
	if elTorito {
		br := img[next:]
		br[0] = 0
		copy(br[1:], "CD001")
		br[6] = 1
		copy(br[7:], "EL TORITO SPECIFICATION")
		binary.LittleEndian.PutUint32(br[0x47:], 19)
		next += 2048
	}
	img[next] = 255
	copy(img[next+1:], "CD001")
}

func analyze(img []byte) *bootscan.Analysis {
	a, err := bootscan.Analyze(bytes.NewReader(img), int64(len(img)), 512)
	Expect(err).NotTo(HaveOccurred())
	return a
}

var _ = Describe("Analyze", func() {
	It("reports nothing on a blank device", func() {
		a := analyze(make([]byte, 64*1024))
		Expect(a.HasMBRSignature).To(BeFalse())
		Expect(a.HasGPT).To(BeFalse())
		Expect(a.IsISO9660).To(BeFalse())
		Expect(a.Bootable).To(BeFalse())
		Expect(a.Verdict).To(Equal(bootscan.VerdictNotBootable))
		Expect(a.GPTDiskGUID).To(BeNil())
	})

	It("prefers UEFI over legacy for a protective MBR with GPT", func() {
		img := make([]byte, 64*1024)
		putMBREntry(img, 0, 0x00, 0xEE, 1, uint32(len(img)/512-1))
		disk := [16]byte{0x44, 0x33, 0x22, 0x11, 0x66, 0x55, 0x88, 0x77, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00}
		putGPT(img, disk, espType, 34, 99, "EFI")
		copy(img[34*512+82:], "FAT32   ")
		copy(img[len(img)-512:], "EFI PART")

		a := analyze(img)
		Expect(a.HasMBRSignature).To(BeTrue())
		Expect(a.HasGPT).To(BeTrue())
		Expect(a.Verdict).To(Equal(bootscan.VerdictUEFI))
		Expect(a.Bootable).To(BeTrue())
		Expect(*a.GPTDiskGUID).To(Equal("11223344-5566-7788-99aa-bbccddeeff00"))
		Expect(a.MBREntries).To(ConsistOf(HaveField("TypeName", "GPT Protective MBR")))

		Expect(a.GPT.Revision).To(Equal("1.0"))
		Expect(a.GPT.HeaderSize).To(Equal(uint32(92)))
		Expect(*a.GPT.BackupConfirmed).To(BeTrue())
		Expect(a.GPT.Entries).To(HaveLen(1))
		Expect(a.GPT.Entries[0].TypeName).To(Equal("EFI System"))
		Expect(a.GPT.Entries[0].Name).To(Equal("EFI"))
		Expect(a.GPT.Entries[0].UniqueGUID).To(Equal("04030201-0605-0807-090a-0b0c0d0e0f10"))
		Expect(a.Filesystems).To(ContainElement(bootscan.Filesystem{Partition: 1, Offset: 34 * 512, Name: "FAT32"}))
	})

	It("notes a missing backup header", func() {
		img := make([]byte, 64*1024)
		putMBREntry(img, 0, 0x00, 0xEE, 1, uint32(len(img)/512-1))
		putGPT(img, [16]byte{1}, espType, 34, 99, "EFI")
		a := analyze(img)
		Expect(*a.GPT.BackupConfirmed).To(BeFalse())
	})

	It("reports a legacy MBR with the active flag", func() {
		img := make([]byte, 64*1024)
		putMBREntry(img, 0, 0x80, 0x0C, 8, 100)
		copy(img[8*512+71:], "USBSTICK   FAT32   ")

		a := analyze(img)
		Expect(a.Verdict).To(Equal(bootscan.VerdictLegacy))
		Expect(a.MBREntries).To(Equal([]bootscan.MBREntry{
			{Number: 1, Type: 0x0C, TypeName: "FAT32", Bootable: true, StartLBA: 8, Sectors: 100},
		}))
		Expect(a.Filesystems).To(Equal([]bootscan.Filesystem{
			{Partition: 1, Offset: 4096, Name: "FAT32", Label: "USBSTICK"},
		}))
	})

	It("calls an EFI partition in an MBR hybrid", func() {
		img := make([]byte, 64*1024)
		putMBREntry(img, 1, 0x00, 0xEF, 64, 32)
		a := analyze(img)
		Expect(a.HasEFI).To(BeTrue())
		Expect(a.Verdict).To(Equal(bootscan.VerdictHybrid))
	})

	It("treats a bare MBR as present but not bootable", func() {
		img := make([]byte, 64*1024)
		putMBREntry(img, 0, 0x00, 0x83, 2048, 100)
		a := analyze(img)
		Expect(a.Verdict).To(Equal(bootscan.VerdictMBROnly))
		Expect(a.Bootable).To(BeFalse())
	})

	It("finds El Torito on a bootable ISO", func() {
		img := make([]byte, 0xC000)
		putISO(img, "RESCUE_CD", true)
		a := analyze(img)
		Expect(a.IsISO9660).To(BeTrue())
		Expect(*a.ISOVolumeLabel).To(Equal("RESCUE_CD"))
		Expect(a.ISOSize).To(Equal(int64(0xC000)))
		Expect(a.HasElTorito).To(BeTrue())
		Expect(*a.BootCatalogLBA).To(Equal(uint32(19)))
		Expect(a.Verdict).To(Equal(bootscan.VerdictElTorito))
		Expect(a.Filesystems).To(ContainElement(HaveField("Name", "ISO 9660")))
		Expect(bootscan.ISOSize(bytes.NewReader(img))).To(Equal(int64(0xC000)))
	})

	It("reports a data ISO as not bootable", func() {
		img := make([]byte, 0xC000)
		putISO(img, "DATA", false)
		a := analyze(img)
		Expect(a.HasElTorito).To(BeFalse())
		Expect(a.Verdict).To(Equal(bootscan.VerdictISO))
		Expect(a.Bootable).To(BeFalse())
	})

	It("treats structures past the device end as absent", func() {
		img := make([]byte, 1024)
		signMBR(img)
		a := analyze(img)
		Expect(a.IsISO9660).To(BeFalse())
		Expect(a.HasGPT).To(BeFalse())
		Expect(a.Verdict).To(Equal(bootscan.VerdictMBROnly))
		Expect(bootscan.ISOSize(bytes.NewReader(img))).To(BeZero())
	})

	Context("with a corrupt GPT", func() {
		var img []byte

		BeforeEach(func() {
			img = make([]byte, 64*1024)
			putMBREntry(img, 0, 0x00, 0xEE, 1, uint32(len(img)/512-1))
			putGPT(img, [16]byte{1}, espType, 34, 99, "EFI")
		})

		It("ignores an entry array LBA past the device end", func() {
			binary.LittleEndian.PutUint64(img[512+72:], ^uint64(0))
			var a *bootscan.Analysis
			Expect(func() { a = analyze(img) }).NotTo(Panic())
			Expect(a.HasGPT).To(BeTrue())
			Expect(a.GPT.Entries).To(BeEmpty())
			Expect(a.Verdict).To(Equal(bootscan.VerdictUEFI))
		})

		It("skips a volume whose first LBA is out of range", func() {
			binary.LittleEndian.PutUint64(img[1024+32:], ^uint64(0))
			var a *bootscan.Analysis
			Expect(func() { a = analyze(img) }).NotTo(Panic())
			Expect(a.GPT.Entries).To(HaveLen(1))
			Expect(a.Filesystems).To(BeEmpty())
		})

		It("rejects an oversized entry size", func() {
			binary.LittleEndian.PutUint32(img[512+84:], 0xFFFFFFFF)
			var a *bootscan.Analysis
			Expect(func() { a = analyze(img) }).NotTo(Panic())
			Expect(a.GPT.Entries).To(BeEmpty())
		})

		It("rejects an entry size that is not a multiple of 128", func() {
			binary.LittleEndian.PutUint32(img[512+84:], 200)
			Expect(analyze(img).GPT.Entries).To(BeEmpty())
		})
	})

	It("fails when not even one sector can be read", func() {
		_, err := bootscan.Analyze(bytes.NewReader(make([]byte, 100)), 100, 512)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("ext generation from feature flags",
		func(compat, incompat, roCompat uint32, want string) {
			img := make([]byte, 64*1024)
			sb := img[1024:]
			sb[0x38], sb[0x39] = 0x53, 0xEF
			binary.LittleEndian.PutUint32(sb[0x04:], 16)
			binary.LittleEndian.PutUint32(sb[0x5C:], compat)
			binary.LittleEndian.PutUint32(sb[0x60:], incompat)
			binary.LittleEndian.PutUint32(sb[0x64:], roCompat)
			copy(sb[0x78:], "rootfs")
			a := analyze(img)
			Expect(a.Filesystems).To(Equal([]bootscan.Filesystem{{Name: want, Label: "rootfs", Size: 16 * 1024}}))
		},
		Entry("extents", uint32(0), uint32(0x40), uint32(0), "ext4"),
		Entry("flex_bg", uint32(0), uint32(0x200), uint32(0), "ext4"),
		Entry("journal", uint32(0x4), uint32(0), uint32(0), "ext3"),
		Entry("plain", uint32(0), uint32(0), uint32(0), "ext2"),
	)

	DescribeTable("other signatures",
		func(off int, sig, want string) {
			img := make([]byte, 0x11000)
			copy(img[off:], sig)
			a := analyze(img)
			Expect(a.Filesystems).To(ConsistOf(HaveField("Name", want)))
		},
		Entry("NTFS", 3, "NTFS    ", "NTFS"),
		Entry("exFAT", 3, "EXFAT   ", "exFAT"),
		Entry("FAT16", 54, "FAT16   ", "FAT16"),
		Entry("FAT12", 54, "FAT12   ", "FAT12"),
		Entry("HFS+", 1024, "H+", "HFS+"),
		Entry("APFS", 32, "NXSB", "APFS"),
		Entry("XFS", 0, "XFSB", "XFS"),
		Entry("Btrfs", 0x10040, "_BHRfS_M", "Btrfs"),
	)

	It("names partition types", func() {
		Expect(bootscan.MBRTypeName(0x07)).To(Equal("NTFS/exFAT/HPFS"))
		Expect(bootscan.MBRTypeName(0x42)).To(Equal("Unknown (0x42)"))
		Expect(bootscan.GUID(espType)).To(Equal("c12a7328-f81f-11d2-ba4b-00a0c93ec93b"))
	})
})
