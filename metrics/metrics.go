// Package metrics exposes operation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rawdiag/engine"
	"rawdiag/progress"
)

type transferKey struct {
	Mode      string
	Direction string
}

type outcomeKey struct {
	Mode  string
	State string
}

type faultKey struct {
	Mode string
	Kind string
}

// Collector aggregates engine observations. It implements engine.Observer
// and prometheus.Collector.
type Collector struct {
	mux       sync.RWMutex
	bytes     map[transferKey]uint64
	outcomes  map[outcomeKey]uint64
	faults    map[faultKey]uint64
	active    map[string]int
	lastMBps  map[transferKey]float64
	durations map[string]float64

	bytesDesc    *prometheus.Desc
	outcomeDesc  *prometheus.Desc
	faultDesc    *prometheus.Desc
	activeDesc   *prometheus.Desc
	rateDesc     *prometheus.Desc
	durationDesc *prometheus.Desc
}

// NewCollector returns an empty Collector. Register it with Register.
func NewCollector() *Collector {
	return &Collector{
		bytes:     make(map[transferKey]uint64),
		outcomes:  make(map[outcomeKey]uint64),
		faults:    make(map[faultKey]uint64),
		active:    make(map[string]int),
		lastMBps:  make(map[transferKey]float64),
		durations: make(map[string]float64),
		bytesDesc: prometheus.NewDesc(
			"rawdiag_transferred_bytes_total",
			"Bytes read from or written to devices",
			[]string{"mode", "direction"}, nil,
		),
		outcomeDesc: prometheus.NewDesc(
			"rawdiag_operations_total",
			"Operations that reached a terminal state",
			[]string{"mode", "state"}, nil,
		),
		faultDesc: prometheus.NewDesc(
			"rawdiag_sector_faults_total",
			"Sector faults recorded by finished operations",
			[]string{"mode", "kind"}, nil,
		),
		activeDesc: prometheus.NewDesc(
			"rawdiag_operations_active",
			"Operations not yet terminal",
			[]string{"mode"}, nil,
		),
		rateDesc: prometheus.NewDesc(
			"rawdiag_throughput_mbps",
			"Measured MiB/s of the last finished operation",
			[]string{"mode", "direction"}, nil,
		),
		durationDesc: prometheus.NewDesc(
			"rawdiag_operation_duration_seconds",
			"Wall time of the last finished operation",
			[]string{"mode"}, nil,
		),
	}
}

// Register adds c to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

func (c *Collector) OperationStarted(mode engine.Mode) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.active[mode.String()]++
}

func (c *Collector) OperationFinished(r engine.Result) {
	c.mux.Lock()
	defer c.mux.Unlock()
	mode := r.Mode.String()
	c.active[mode] = max(c.active[mode]-1, 0)
	c.outcomes[outcomeKey{Mode: mode, State: r.State.String()}]++
	for _, f := range r.Faults {
		c.faults[faultKey{Mode: mode, Kind: string(f.Kind)}]++
	}
	if r.ReadMBps > 0 {
		c.lastMBps[transferKey{Mode: mode, Direction: progress.Read.String()}] = r.ReadMBps
	}
	if r.WriteMBps > 0 {
		c.lastMBps[transferKey{Mode: mode, Direction: progress.Write.String()}] = r.WriteMBps
	}
	c.durations[mode] = r.Duration().Seconds()
}

func (c *Collector) Transferred(mode engine.Mode, dir progress.Direction, n int64) {
	if n <= 0 || dir == progress.None {
		return
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	c.bytes[transferKey{Mode: mode.String(), Direction: dir.String()}] += uint64(n)
}

// Describe and Collect implement the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesDesc
	ch <- c.outcomeDesc
	ch <- c.faultDesc
	ch <- c.activeDesc
	ch <- c.rateDesc
	ch <- c.durationDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	for key, n := range c.bytes {
		ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(n), key.Mode, key.Direction)
	}
	for key, n := range c.outcomes {
		ch <- prometheus.MustNewConstMetric(c.outcomeDesc, prometheus.CounterValue, float64(n), key.Mode, key.State)
	}
	for key, n := range c.faults {
		ch <- prometheus.MustNewConstMetric(c.faultDesc, prometheus.CounterValue, float64(n), key.Mode, key.Kind)
	}
	for mode, n := range c.active {
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(n), mode)
	}
	for key, v := range c.lastMBps {
		ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, v, key.Mode, key.Direction)
	}
	for mode, v := range c.durations {
		ch <- prometheus.MustNewConstMetric(c.durationDesc, prometheus.GaugeValue, v, mode)
	}
}

// Serve exposes reg on addr at /metrics until ctx ends.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
