package metrics_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"rawdiag/blockio"
	"rawdiag/engine"
	"rawdiag/metrics"
	"rawdiag/progress"
)

func family(reg *prometheus.Registry, name string) *dto.MetricFamily {
	GinkgoHelper()
	families, err := reg.Gather()
	Expect(err).NotTo(HaveOccurred())
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func label(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

var _ = Describe("Collector", func() {
	var (
		c   *metrics.Collector
		reg *prometheus.Registry
	)

	BeforeEach(func() {
		c = metrics.NewCollector()
		reg = prometheus.NewPedanticRegistry()
		Expect(c.Register(reg)).To(Succeed())
	})

	It("exposes nothing before any operation", func() {
		Expect(testutil.CollectAndCount(c)).To(BeZero())
	})

	It("counts transferred bytes per mode and direction", func() {
		c.Transferred(engine.FullTest, progress.Write, 4096)
		c.Transferred(engine.FullTest, progress.Write, 4096)
		c.Transferred(engine.FullTest, progress.Read, 1024)
		c.Transferred(engine.FullTest, progress.None, 1 << 20)

		f := family(reg, "rawdiag_transferred_bytes_total")
		Expect(f).NotTo(BeNil())
		Expect(f.GetType()).To(Equal(dto.MetricType_COUNTER))
		got := map[string]float64{}
		for _, m := range f.GetMetric() {
			Expect(label(m, "mode")).To(Equal("full-test"))
			got[label(m, "direction")] = m.GetCounter().GetValue()
		}
		Expect(got).To(Equal(map[string]float64{"write": 8192, "read": 1024}))
	})

	It("tracks active operations and terminal outcomes", func() {
		c.OperationStarted(engine.SurfaceScan)
		c.OperationStarted(engine.SurfaceScan)
		Expect(testutil.CollectAndCompare(c, strings.NewReader(`
# HELP rawdiag_operations_active Operations not yet terminal
# TYPE rawdiag_operations_active gauge
rawdiag_operations_active{mode="surface-scan"} 2
`), "rawdiag_operations_active")).To(Succeed())

		start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		c.OperationFinished(engine.Result{
			Mode:      engine.SurfaceScan,
			State:     engine.Succeeded,
			StartedAt: start,
			EndedAt:   start.Add(90 * time.Second),
			ReadMBps:  31.5,
			Faults: []blockio.SectorFault{
				{Offset: 0, Length: 512, Kind: blockio.FaultRead},
				{Offset: 4096, Length: 512, Kind: blockio.FaultRead},
			},
		})

		Expect(testutil.CollectAndCompare(c, strings.NewReader(`
# HELP rawdiag_operations_active Operations not yet terminal
# TYPE rawdiag_operations_active gauge
rawdiag_operations_active{mode="surface-scan"} 1
# HELP rawdiag_operations_total Operations that reached a terminal state
# TYPE rawdiag_operations_total counter
rawdiag_operations_total{mode="surface-scan",state="succeeded"} 1
# HELP rawdiag_sector_faults_total Sector faults recorded by finished operations
# TYPE rawdiag_sector_faults_total counter
rawdiag_sector_faults_total{kind="read-error",mode="surface-scan"} 2
# HELP rawdiag_throughput_mbps Measured MiB/s of the last finished operation
# TYPE rawdiag_throughput_mbps gauge
rawdiag_throughput_mbps{direction="read",mode="surface-scan"} 31.5
# HELP rawdiag_operation_duration_seconds Wall time of the last finished operation
# TYPE rawdiag_operation_duration_seconds gauge
rawdiag_operation_duration_seconds{mode="surface-scan"} 90
`),
			"rawdiag_operations_active",
			"rawdiag_operations_total",
			"rawdiag_sector_faults_total",
			"rawdiag_throughput_mbps",
			"rawdiag_operation_duration_seconds",
		)).To(Succeed())
	})

	It("never drives the active gauge negative", func() {
		c.OperationFinished(engine.Result{Mode: engine.Burn, State: engine.Failed})
		f := family(reg, "rawdiag_operations_active")
		Expect(f).NotTo(BeNil())
		Expect(f.GetMetric()[0].GetGauge().GetValue()).To(BeZero())
	})
})
