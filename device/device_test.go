package device

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/blockio"
)

var _ = Describe("WholeDisk", func() {
	DescribeTable("maps partitions to their disk",
		func(in, want string) {
			Expect(WholeDisk(in)).To(Equal(want))
		},
		Entry("sata partition", "/dev/sdb1", "/dev/sdb"),
		Entry("sata whole", "/dev/sdb", "/dev/sdb"),
		Entry("many letters", "/dev/sdaa12", "/dev/sdaa"),
		Entry("nvme partition", "/dev/nvme0n1p2", "/dev/nvme0n1"),
		Entry("nvme whole", "/dev/nvme0n1", "/dev/nvme0n1"),
		Entry("sd card partition", "/dev/mmcblk0p1", "/dev/mmcblk0"),
		Entry("darwin slice", "/dev/disk4s1", "/dev/disk4"),
		Entry("darwin raw slice", "/dev/rdisk4s2", "/dev/rdisk4"),
		Entry("darwin whole", "/dev/disk4", "/dev/disk4"),
	)
})

var _ = Describe("scanDev", func() {
	It("separates whole disks from partitions and loop devices", func() {
		got := scanDev([]string{"sda", "sda1", "nvme0n1", "nvme0n1p1", "mmcblk0", "loop0", "tty0"})
		byPath := map[string]Candidate{}
		for _, c := range got {
			byPath[c.Path] = c
		}
		Expect(byPath).To(HaveLen(6))
		Expect(byPath["/dev/sda"].Compatible).To(BeTrue())
		Expect(byPath["/dev/nvme0n1"].Compatible).To(BeTrue())
		Expect(byPath["/dev/mmcblk0"].Compatible).To(BeTrue())
		Expect(byPath["/dev/sda1"].Reason).To(Equal("partition"))
		Expect(byPath["/dev/nvme0n1p1"].Reason).To(Equal("partition"))
		Expect(byPath["/dev/loop0"].Reason).To(Equal("loop device"))
	})
})

var _ = Describe("parseMounts", func() {
	It("reads /proc/self/mounts lines", func() {
		in := "/dev/sdb1 /media/usb\\040stick vfat rw,relatime 0 0\nproc /proc proc rw 0 0\n"
		got := parseMounts(strings.NewReader(in))
		Expect(got).To(HaveLen(2))
		Expect(got[0]).To(Equal(Mount{Source: "/dev/sdb1", Target: "/media/usb stick", FSType: "vfat"}))
	})
})

var _ = Describe("SystemProber", func() {
	It("snapshots regular files as images", func() {
		path := filepath.Join(GinkgoT().TempDir(), "stick.img")
		Expect(os.WriteFile(path, make([]byte, 8192), 0o644)).To(Succeed())

		d, err := SystemProber{}.Probe(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Image).To(BeTrue())
		Expect(d.Capacity).To(Equal(int64(8192)))
		Expect(d.LogicalBlockSize).To(Equal(512))
		Expect(d.Sectors()).To(Equal(int64(16)))
		Expect(d.Describe()).To(Equal("Image"))
	})

	It("reports missing paths as unavailable", func() {
		_, err := SystemProber{}.Probe(filepath.Join(GinkgoT().TempDir(), "gone"))
		Expect(err).To(MatchError(blockio.ErrDeviceUnavailable))
	})
})

var _ = Describe("Key", func() {
	It("resolves symlinks so aliases share a key", func() {
		dir := GinkgoT().TempDir()
		target := filepath.Join(dir, "sdz")
		link := filepath.Join(dir, "usb-stick")
		Expect(os.WriteFile(target, nil, 0o644)).To(Succeed())
		Expect(os.Symlink(target, link)).To(Succeed())
		Expect(Key(link)).To(Equal(Key(target)))
	})
})
