package export_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/config"
	"rawdiag/device"
	"rawdiag/diag"
	"rawdiag/engine"
	"rawdiag/export"
	"rawdiag/forensic"
	"rawdiag/smart"
)

func ptr[T any](v T) *T { return &v }

func sampleReport() *forensic.Report {
	return &forensic.Report{
		ID:         "0f8fad5b-d9cb-469f-a165-70867728950e",
		CapturedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Device: device.Device{
			ID: "usb-SanDisk-0001", Path: "/dev/sdx", Capacity: 16 << 30,
			LogicalBlockSize: 512, PhysicalBlockSize: 4096, Removable: true,
			Vendor: "SanDisk", Model: "Cruzer", Serial: "4C530001",
		},
		Boot: &bootscan.Analysis{
			HasMBRSignature: true,
			HasBootFlag:     true,
			Bootable:        true,
			Verdict:         bootscan.VerdictLegacy,
			Filesystems:     []bootscan.Filesystem{{Partition: 1, Offset: 1048576, Name: "FAT32", Label: "USBSTICK"}},
		},
		Partitions: []forensic.Partition{{Scheme: "MBR", Number: 1, Type: "FAT32 (LBA)", Offset: 1048576, Size: 1 << 30, Bootable: true, Filesystem: "FAT32"}},
		SMART: &smart.Record{
			Available:          true,
			Source:             smart.SourceSmartctlJSON,
			Health:             smart.HealthPassed,
			Model:              ptr("Cruzer"),
			ReallocatedSectors: ptr(uint64(3)),
			Warnings:           []string{"3 reallocated sectors"},
			Attributes:         []smart.Attribute{{ID: 5, Name: "Reallocated_Sector_Ct", Value: ptr(100), Raw: 3}},
		},
		Checksums: &forensic.Checksums{Length: 1024, MD5: "0f343b0931126a20f133d67c2b018a3b", SHA256: "5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef"},
		HexDump:   "00000000  00 00 00 00 00 00 00 00  00 00 00 00 00 00 00 00  |................|\n",
		Host:      &forensic.Host{Hostname: "bench", User: "tech", OS: "linux", Arch: "amd64", Manufacturer: "Lenovo", Product: "ThinkPad"},
		Notes:     []string{"SMART: partial attribute table"},
	}
}

var _ = Describe("Render", func() {
	It("lays out every section of a report", func() {
		out := export.Render(sampleReport())
		for _, want := range []string{
			"rawdiag forensic report",
			"0f8fad5b-d9cb-469f-a165-70867728950e",
			"2026-05-06T07:08:09Z",
			"/dev/sdx",
			"SanDisk Cruzer",
			"16 GiB (17,179,869,184 bytes)",
			"Legacy BIOS (MBR)",
			`FAT32 at offset 1048576 label "USBSTICK"`,
			"FAT32 (LBA)",
			"passed",
			"WARNING: 3 reallocated sectors",
			"Reallocated_Sector_Ct",
			"5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef",
			"|................|",
			"Lenovo ThinkPad",
			"- SMART: partial attribute table",
		} {
			Expect(out).To(ContainSubstring(want))
		}
	})

	It("marks missing sections", func() {
		r := &forensic.Report{ID: "x", Device: device.Device{Path: "disk.img", Image: true}}
		out := export.Render(r)
		Expect(out).To(ContainSubstring("Boot structures"))
		Expect(out).To(ContainSubstring("not available"))
		Expect(out).To(ContainSubstring("not queried"))
		Expect(out).To(ContainSubstring("none"))
	})
})

var _ = Describe("RenderResult", func() {
	It("caps the fault list", func() {
		var faults []blockio.SectorFault
		for i := range 5 {
			faults = append(faults, blockio.SectorFault{Offset: int64(i) * 4096, Length: 512, Kind: blockio.FaultRead})
		}
		start := time.Now()
		out := export.RenderResult(engine.Result{
			Mode:      engine.SurfaceScan,
			Device:    device.Device{Path: "/dev/sdx", LogicalBlockSize: 512},
			State:     engine.Succeeded,
			Message:   "completed with 5 faults",
			Sectors:   2048,
			ReadMBps:  25.25,
			Faults:    faults,
			StartedAt: start,
			EndedAt:   start.Add(3 * time.Second),
		}, 2)
		Expect(out).To(ContainSubstring("surface-scan on /dev/sdx"))
		Expect(out).To(ContainSubstring("completed with 5 faults"))
		Expect(out).To(ContainSubstring("25.2 MB/s"))
		Expect(out).To(ContainSubstring("Faults (5)"))
		Expect(out).To(ContainSubstring("sector 8"))
		Expect(out).NotTo(ContainSubstring("sector 16"))
		Expect(out).To(ContainSubstring("... and 3 more"))
	})

	It("lists speed samples and the erase pattern", func() {
		out := export.RenderResult(engine.Result{
			Mode:           engine.SpeedTest,
			State:          engine.Cancelled,
			Message:        "cancelled by user",
			Pattern:        "gutmann",
			PatternVersion: "1",
			Passes:         4,
			Speed:          []diag.SpeedRow{{BlockSize: 1 << 20, Count: 32, WriteMBps: 12, ReadMBps: 30}},
		}, 10)
		Expect(out).To(ContainSubstring("cancelled by user"))
		Expect(out).To(ContainSubstring("gutmann (table 1, 4 passes complete)"))
		Expect(out).To(ContainSubstring("1.0 MiB"))
		Expect(out).To(ContainSubstring("30.0"))
	})
})

var _ = Describe("Save", func() {
	It("writes the JSON and text renditions", func() {
		dir := GinkgoT().TempDir()
		r := sampleReport()
		files, err := export.Save(dir, r)
		Expect(err).NotTo(HaveOccurred())
		Expect(files.JSON).To(HaveSuffix("rawdiag-report-20260506T070809Z-0f8fad5b.json"))

		data, err := os.ReadFile(files.JSON)
		Expect(err).NotTo(HaveOccurred())
		var back forensic.Report
		Expect(json.Unmarshal(data, &back)).To(Succeed())
		Expect(back.ID).To(Equal(r.ID))
		Expect(back.SMART.ReallocatedSectors).To(HaveValue(Equal(uint64(3))))
		Expect(back.SMART.PendingSectors).To(BeNil())

		text, err := os.ReadFile(files.Text)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(ContainSubstring("rawdiag forensic report"))
	})
})

type fakeS3 struct {
	mu   sync.Mutex
	puts map[string][]byte
	meta map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusOK)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.puts[r.URL.Path] = body
	f.meta[r.URL.Path] = r.Header.Get("X-Amz-Meta-Report-Id")
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

var _ = Describe("Uploader", func() {
	It("requires an endpoint and a bucket", func() {
		_, err := export.NewUploader(config.S3Config{Endpoint: "s3.local"})
		Expect(err).To(HaveOccurred())
	})

	It("puts the JSON report under reports/", func() {
		fake := &fakeS3{puts: map[string][]byte{}, meta: map[string]string{}}
		srv := httptest.NewServer(fake)
		DeferCleanup(srv.Close)

		u, err := export.NewUploader(config.S3Config{
			Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
			Bucket:    "evidence",
			Region:    "us-east-1",
			AccessKey: "bench",
			SecretKey: "benchsecret",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Bucket()).To(Equal("evidence"))

		r := sampleReport()
		key, err := u.UploadReport(context.Background(), r)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("reports/rawdiag-report-20260506T070809Z-0f8fad5b.json"))

		fake.mu.Lock()
		defer fake.mu.Unlock()
		body, ok := fake.puts["/evidence/"+key]
		Expect(ok).To(BeTrue())
		Expect(bytes.Contains(body, []byte(r.ID))).To(BeTrue())
		Expect(fake.meta["/evidence/"+key]).To(Equal(r.ID))
	})
})

var _ = Describe("RenderSMART", func() {
	It("renders a standalone query", func() {
		out := export.RenderSMART("/dev/sdx", sampleReport().SMART)
		Expect(out).To(ContainSubstring("SMART for /dev/sdx"))
		Expect(out).To(ContainSubstring("Reallocated_Sector_Ct"))
		Expect(out).To(ContainSubstring("WARNING: 3 reallocated sectors"))
	})

	It("shows why no data is available", func() {
		out := export.RenderSMART("/dev/sdx", &smart.Record{Message: "smartctl not found"})
		Expect(out).To(ContainSubstring("smartctl not found"))
	})
})
