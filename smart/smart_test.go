package smart_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/smart"
)

const ataJSON = `{
  "smartctl": {"exit_status": 4},
  "device": {"name": "/dev/sdb", "type": "sat", "protocol": "ATA"},
  "model_name": "Portable SSD",
  "serial_number": "S123",
  "user_capacity": {"bytes": 500107862016},
  "smart_support": {"available": true, "enabled": true},
  "smart_status": {"passed": true},
  "temperature": {"current": 31},
  "power_on_time": {"hours": 1200},
  "power_cycle_count": 88,
  "ata_smart_attributes": {"table": [
    {"id": 5, "name": "Reallocated_Sector_Ct", "value": 100, "worst": 100, "thresh": 10,
     "flags": {"string": "PO--CK ", "prefailure": true}, "raw": {"value": 0, "string": "0"}},
    {"id": 197, "name": "Current_Pending_Sector", "value": 100, "worst": 100, "thresh": 0,
     "flags": {"string": "-O--CK ", "prefailure": false}, "raw": {"value": 3, "string": "3"}}
  ]}
}`

const textOut = `smartctl 7.4 2023-08-01 r5530 [x86_64-linux-6.1.0] (local build)

=== START OF READ SMART DATA SECTION ===
SMART overall-health self-assessment test result: FAILED!

SMART Attributes Data Structure revision number: 16
ID# ATTRIBUTE_NAME          FLAG     VALUE WORST THRESH TYPE      UPDATED  WHEN_FAILED RAW_VALUE
  5 Reallocated_Sector_Ct   0x0033   005   005   010    Pre-fail  Always   FAILING_NOW 1456
  9 Power_On_Hours          0x0032   091   091   000    Old_age   Always       -       8123
194 Temperature_Celsius     0x0022   036   045   000    Old_age   Always       -       36 (Min/Max 18/45)
198 Offline_Uncorrectable   0x0030   100   100   000    Old_age   Offline      -       0
`

const infoOK = "=== START OF INFORMATION SECTION ===\nSMART support is: Available - device has SMART capability.\nSMART support is: Enabled\n"

type call struct {
	stdin string
	name  string
	args  []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
}

func (f *fakeRunner) Run(_ context.Context, stdin, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{stdin, name, args})
	key := name + " " + strings.Join(args, " ")
	for prefix, out := range f.outputs {
		if strings.Contains(key, prefix) {
			return []byte(out), nil, errors.New("exit status 4")
		}
	}
	return nil, []byte("not found"), errors.New("exit status 1")
}

var _ = Describe("ParseJSON", func() {
	It("maps the canonical fields", func() {
		r, err := smart.ParseJSON([]byte(ataJSON))
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Available).To(BeTrue())
		Expect(r.Source).To(Equal(smart.SourceSmartctlJSON))
		Expect(r.Health).To(Equal(smart.HealthPassed))
		Expect(*r.Model).To(Equal("Portable SSD"))
		Expect(*r.TemperatureC).To(Equal(31))
		Expect(*r.PowerOnHours).To(Equal(uint64(1200)))
		Expect(*r.PowerCycles).To(Equal(uint64(88)))
		Expect(*r.PendingSectors).To(Equal(uint64(3)))
		Expect(r.Attributes).To(HaveLen(2))
		Expect(r.Attributes[0].Prefailure).To(BeTrue())
		Expect(r.Attributes[1].Status).To(Equal("warning"))
		Expect(r.Warnings).To(ConsistOf("3 pending sectors"))
	})

	It("keeps an explicit zero distinct from an absent counter", func() {
		r, err := smart.ParseJSON([]byte(ataJSON))
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ReallocatedSectors).NotTo(BeNil())
		Expect(*r.ReallocatedSectors).To(BeZero())
		Expect(r.UncorrectableSectors).To(BeNil())
		Expect(r.ReportedUncorrect).To(BeNil())
	})

	It("leaves everything absent for a bare record", func() {
		r, err := smart.ParseJSON([]byte(`{"device": {"type": "scsi"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ReallocatedSectors).To(BeNil())
		Expect(r.TemperatureC).To(BeNil())
		Expect(r.Health).To(Equal(smart.HealthInformational))
		Expect(r.Warnings).To(BeEmpty())
	})

	It("rejects unknown device types", func() {
		_, err := smart.ParseJSON([]byte(`{"device": {"type": "unknown"}}`))
		Expect(err).To(MatchError(smart.ErrNoData))
		_, err = smart.ParseJSON([]byte(`not json`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseText", func() {
	It("reads health and the attribute table", func() {
		r, err := smart.ParseText(textOut)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Source).To(Equal(smart.SourceSmartctlText))
		Expect(r.Health).To(Equal(smart.HealthFailed))
		Expect(r.Attributes).To(HaveLen(4))
		Expect(r.Attributes[0].WhenFailed).To(Equal("FAILING_NOW"))
		Expect(*r.Attributes[0].Threshold).To(Equal(10))
		Expect(*r.ReallocatedSectors).To(Equal(uint64(1456)))
		Expect(*r.UncorrectableSectors).To(BeZero())
		Expect(r.PendingSectors).To(BeNil())
		Expect(*r.PowerOnHours).To(Equal(uint64(8123)))
		Expect(*r.TemperatureC).To(Equal(36))
		Expect(r.Attributes[2].RawString).To(Equal("36 (Min/Max 18/45)"))
		Expect(r.Warnings).To(ConsistOf("1456 reallocated sectors", "overall health self-assessment failed"))
	})

	It("fails on output without SMART data", func() {
		_, err := smart.ParseText("smartctl 7.4\n")
		Expect(err).To(MatchError(smart.ErrNoData))
	})
})

var _ = Describe("ParseDiskutil", func() {
	It("classifies the status line", func() {
		r, err := smart.ParseDiskutil("   Device Node:   /dev/disk4\n   SMART Status:              Verified\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Source).To(Equal(smart.SourceDiskutil))
		Expect(r.Health).To(Equal(smart.HealthPassed))
		Expect(r.ReallocatedSectors).To(BeNil())
	})

	It("treats Not Supported as no data", func() {
		_, err := smart.ParseDiskutil("   SMART Status:              Not Supported\n")
		Expect(err).To(MatchError(smart.ErrNoData))
	})
})

var _ = DescribeTable("ClassifyHealth",
	func(in string, want smart.Health) {
		Expect(smart.ClassifyHealth(in)).To(Equal(want))
	},
	Entry("smartctl pass", "PASSED", smart.HealthPassed),
	Entry("smartctl fail", "FAILED!", smart.HealthFailed),
	Entry("scsi ok", "OK", smart.HealthPassed),
	Entry("diskutil verified", "Verified", smart.HealthPassed),
	Entry("diskutil failing", "Failing", smart.HealthFailed),
	Entry("other", "Unknown", smart.HealthInformational),
	Entry("empty", "", smart.HealthInformational),
)

var _ = Describe("Querier", func() {
	var (
		ctx    context.Context
		runner *fakeRunner
		q      *smart.Querier
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &fakeRunner{outputs: map[string]string{}}
		q = &smart.Querier{Runner: runner, Log: GinkgoLogr, Smartctl: "/usr/sbin/smartctl"}
	})

	It("uses JSON output despite a non-zero exit", func() {
		runner.outputs["-i /dev/sdb"] = infoOK
		runner.outputs["-a -j /dev/sdb"] = ataJSON
		r := q.Query(ctx, "/dev/sdb", "")
		Expect(r.Available).To(BeTrue())
		Expect(r.Source).To(Equal(smart.SourceSmartctlJSON))
		Expect(runner.calls[0].name).To(Equal("/usr/sbin/smartctl"))
	})

	It("falls back to text output", func() {
		runner.outputs["-i /dev/sdb"] = infoOK
		runner.outputs["-a -j /dev/sdb"] = "garbage"
		runner.outputs["-H -A /dev/sdb"] = textOut
		r := q.Query(ctx, "/dev/sdb", "")
		Expect(r.Source).To(Equal(smart.SourceSmartctlText))
		Expect(r.Message).NotTo(BeEmpty())
	})

	It("rejects unsupported USB bridges and falls back to diskutil", func() {
		q.Diskutil = "diskutil"
		runner.outputs["-i /dev/disk4"] = "/dev/disk4: Unknown USB bridge [0x0781:0x5583 (0x100)]\n"
		runner.outputs["diskutil info /dev/disk4"] = "   SMART Status:              Failing\n"
		r := q.Query(ctx, "/dev/disk4", "")
		Expect(r.Source).To(Equal(smart.SourceDiskutil))
		Expect(r.Health).To(Equal(smart.HealthFailed))
		for _, c := range runner.calls {
			Expect(c.args).NotTo(ContainElement("-j"))
		}
	})

	It("reports unavailability instead of failing", func() {
		runner.outputs["-i /dev/sdc"] = "SMART support is: Unavailable - device lacks SMART capability.\n"
		r := q.Query(ctx, "/dev/sdc", "")
		Expect(r.Available).To(BeFalse())
		Expect(r.Source).To(Equal(smart.SourceNone))
		Expect(r.Message).To(ContainSubstring("SMART support is: Unavailable"))
	})

	It("pipes the password to sudo", func() {
		runner.outputs["-i /dev/sdb"] = infoOK
		runner.outputs["-a -j /dev/sdb"] = ataJSON
		q.Query(ctx, "/dev/sdb", "hunter2")
		Expect(runner.calls[0].name).To(Equal("sudo"))
		Expect(runner.calls[0].stdin).To(Equal("hunter2\n"))
		Expect(runner.calls[0].args).To(Equal([]string{"-S", "-p", "", "/usr/sbin/smartctl", "-i", "/dev/sdb"}))
	})
})
