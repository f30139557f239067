package progress

import (
	"math"
	"time"
)

// DefaultInterval bounds how often samples are emitted when the integer
// percent has not moved.
const DefaultInterval = 500 * time.Millisecond

// Observer is told about every transferred chunk, for metrics.
type Observer interface {
	Transferred(dir Direction, bytes int64)
}

// Phase describes a phase to the Reporter.
type Phase struct {
	Index int
	Count int
	Label string
	Total int64
	Dir   Direction
	// Cap, when positive, holds percent below this value until Finish.
	Cap float64
}

// Reporter turns per-chunk updates into rate-limited Samples. Percent never
// decreases within a phase.
type Reporter struct {
	sink     Sink
	interval time.Duration
	now      func() time.Time
	observer Observer

	started time.Time

	phase      Phase
	phaseStart time.Time
	lastBytes  int64
	lastAt     time.Time
	rate       float64
	percent    float64
	emitted    *Sample
	emittedAt  time.Time
}

// NewReporter returns a Reporter emitting to sink. A zero interval selects
// DefaultInterval.
func NewReporter(sink Sink, interval time.Duration) *Reporter {
	if sink == nil {
		sink = Discard
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{sink: sink, interval: interval, now: time.Now, started: time.Now()}
}

// WithClock replaces the time source.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	r.started = now()
	return r
}

// WithObserver attaches a transfer observer.
func (r *Reporter) WithObserver(o Observer) *Reporter {
	r.observer = o
	return r
}

// Begin starts a phase and emits its PhaseEvent.
func (r *Reporter) Begin(p Phase) {
	if p.Count < 1 {
		p.Count = 1
	}
	now := r.now()
	r.phase = p
	r.phaseStart = now
	r.lastBytes = 0
	r.lastAt = now
	r.rate = 0
	r.percent = 0
	r.emitted = nil
	r.sink.Emit(PhaseEvent{Index: p.Index, Count: p.Count, Label: p.Label, Total: p.Total, Dir: p.Dir})
}

// Update records that done bytes of the phase are processed. A sample is
// emitted on the first update of a phase, whenever the integer percent
// advances, and otherwise at most once per interval.
func (r *Reporter) Update(done, sectors int64, faults int) {
	r.advance(done)
	pct := r.phasePercent(done)
	if r.phase.Cap > 0 && pct > r.phase.Cap {
		pct = r.phase.Cap
	}
	if pct > r.percent {
		r.percent = pct
	}
	now := r.now()
	switch {
	case r.emitted == nil,
		math.Floor(r.percent) > math.Floor(r.emitted.Percent),
		now.Sub(r.emittedAt) >= r.interval:
		r.emit(done, sectors, faults, now)
	}
}

// Finish closes the phase at 100%.
func (r *Reporter) Finish(done, sectors int64, faults int) {
	r.advance(done)
	r.percent = 100
	r.emit(done, sectors, faults, r.now())
}

// LastPercent is the percent of the sample most recently handed to the sink
// in the current phase. A sink that drops samples may never deliver it.
func (r *Reporter) LastPercent() float64 {
	if r.emitted == nil {
		return 0
	}
	return r.emitted.Percent
}

// LastSample returns the sample most recently handed to the sink, if any.
func (r *Reporter) LastSample() (Sample, bool) {
	if r.emitted == nil {
		return Sample{}, false
	}
	return *r.emitted, true
}

// Elapsed is the time since the reporter was created.
func (r *Reporter) Elapsed() time.Duration { return r.now().Sub(r.started) }

func (r *Reporter) phasePercent(done int64) float64 {
	if r.phase.Total <= 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(r.phase.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (r *Reporter) advance(done int64) {
	delta := done - r.lastBytes
	if delta <= 0 {
		return
	}
	now := r.now()
	if dt := now.Sub(r.lastAt).Seconds(); dt > 0 {
		r.rate = float64(delta) / dt
	}
	if r.observer != nil {
		r.observer.Transferred(r.phase.Dir, delta)
	}
	r.lastBytes = done
	r.lastAt = now
}

func (r *Reporter) emit(done, sectors int64, faults int, now time.Time) {
	s := Sample{
		Phase:      r.phase.Label,
		PhaseIndex: r.phase.Index,
		PhaseCount: r.phase.Count,
		Percent:    r.percent,
		Overall:    (float64(r.phase.Index) + r.percent/100) / float64(r.phase.Count) * 100,
		Bytes:      done,
		Total:      r.phase.Total,
		Sectors:    sectors,
		Faults:     faults,
		Elapsed:    now.Sub(r.started).Truncate(time.Second),
	}
	mbps := r.rate / MiB
	switch r.phase.Dir {
	case Read:
		s.ReadMBps = mbps
	case Write:
		s.WriteMBps = mbps
	}
	if secs := now.Sub(r.phaseStart).Seconds(); secs > 0 && done > 0 && done < r.phase.Total {
		avg := float64(done) / secs
		s.ETA = time.Duration(float64(r.phase.Total-done) / avg * float64(time.Second)).Truncate(time.Second)
	}
	r.emitted = &s
	r.emittedAt = now
	r.sink.Emit(s)
}

// MiB is the unit of all MB/s figures.
const MiB = 1 << 20

// MBps converts a byte count over a duration to MiB/s.
func MBps(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / MiB / d.Seconds()
}
