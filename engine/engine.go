// Package engine owns the operation registry: one active Operation per
// device, each running on its own goroutine and reporting on its own event
// stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/device"
	"rawdiag/diag"
	"rawdiag/forensic"
	"rawdiag/pattern"
	"rawdiag/progress"
)

// ErrBusy is returned by Start when the device already has an active
// Operation.
var ErrBusy = errors.New("device busy")

// DefaultBuffer is the event stream capacity.
const DefaultBuffer = 64

// Credential carries the elevation password for tools that need it. The
// engine never prompts.
type Credential struct {
	Password string
}

func (c Credential) String() string {
	if c.Password == "" {
		return "none"
	}
	return "redacted"
}

// Request describes one Operation.
type Request struct {
	Path       string
	Mode       Mode
	Credential Credential
	// Pattern names the erase pattern for SecureErase.
	Pattern string
	// Image is the backup destination or the burn source.
	Image string
	// Full copies the whole device on Backup even for ISO media.
	Full bool
	// Verify reads the device back after Burn.
	Verify bool
}

func (r Request) validate() error {
	if r.Path == "" {
		return errors.New("no device path")
	}
	if _, ok := modeNames[r.Mode]; !ok {
		return fmt.Errorf("unknown mode %d", int(r.Mode))
	}
	switch r.Mode {
	case SecureErase:
		if _, err := pattern.Lookup(r.Pattern); err != nil {
			return err
		}
	case Backup, Burn:
		if r.Image == "" {
			return fmt.Errorf("%s needs an image path", r.Mode)
		}
	}
	return nil
}

// Opener opens a device or image for I/O.
type Opener func(path string, write bool) (blockio.Device, error)

// OpenFile is the default Opener.
func OpenFile(path string, write bool) (blockio.Device, error) {
	f, err := blockio.Open(path, write)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Observer receives operation counters, for metrics.
type Observer interface {
	OperationStarted(mode Mode)
	OperationFinished(r Result)
	Transferred(mode Mode, dir progress.Direction, bytes int64)
}

// Recorder persists terminal results.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Engine starts Operations. It holds no state beyond the registry of active
// ones; build one per process with New.
type Engine struct {
	prober    device.Prober
	open      Opener
	openImage Opener
	smart     forensic.SMARTSource
	host      func() *forensic.Host
	log       logr.Logger
	observer  Observer
	recorder  Recorder
	opts      diag.Options
	interval  time.Duration
	buffer    int
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*Operation
}

// Option configures an Engine.
type Option func(*Engine)

func WithProber(p device.Prober) Option       { return func(e *Engine) { e.prober = p } }
func WithOpener(o Opener) Option              { return func(e *Engine) { e.open = o } }
func WithImageOpener(o Opener) Option         { return func(e *Engine) { e.openImage = o } }
func WithSMART(s forensic.SMARTSource) Option { return func(e *Engine) { e.smart = s } }
func WithHost(h func() *forensic.Host) Option { return func(e *Engine) { e.host = h } }
func WithLogger(l logr.Logger) Option         { return func(e *Engine) { e.log = l } }
func WithObserver(o Observer) Option          { return func(e *Engine) { e.observer = o } }
func WithRecorder(r Recorder) Option          { return func(e *Engine) { e.recorder = r } }
func WithDiagOptions(o diag.Options) Option   { return func(e *Engine) { e.opts = o } }
func WithInterval(d time.Duration) Option     { return func(e *Engine) { e.interval = d } }
func WithBuffer(n int) Option                 { return func(e *Engine) { e.buffer = n } }

// New returns an Engine reading real devices unless options say otherwise.
func New(opts ...Option) *Engine {
	e := &Engine{
		prober:    device.SystemProber{},
		open:      OpenFile,
		openImage: OpenFile,
		log:       logr.Discard(),
		interval:  progress.DefaultInterval,
		buffer:    DefaultBuffer,
		now:       time.Now,
		active:    map[string]*Operation{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start registers and launches an Operation and returns without waiting for
// it. It fails with ErrBusy when the device already has an active one.
// Cancelling ctx cancels the Operation.
func (e *Engine) Start(ctx context.Context, req Request) (*Operation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := device.Key(req.Path)

	e.mu.Lock()
	if cur, ok := e.active[key]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is running %s (%s)", ErrBusy, req.Path, cur.Mode, cur.ID)
	}
	op := newOperation(req, key, e.now(), e.buffer)
	e.active[key] = op
	e.mu.Unlock()

	e.log.V(1).Info("operation registered", "op", op.ID, "mode", req.Mode.String(), "device", req.Path)
	go e.run(ctx, op)
	return op, nil
}

// Lookup returns the active Operation on the device at path.
func (e *Engine) Lookup(path string) (*Operation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.active[device.Key(path)]
	return op, ok
}

// Active counts Operations not yet terminal.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) release(op *Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[op.key] == op {
		delete(e.active, op.key)
	}
}

// CheckBoot runs a BootCheck and waits for it.
func (e *Engine) CheckBoot(ctx context.Context, path string) (*bootscan.Analysis, error) {
	res, err := e.startAndWait(ctx, Request{Path: path, Mode: BootCheck})
	if err != nil {
		return nil, err
	}
	return res.Boot, nil
}

// Analyze runs a ForensicAnalysis and waits for the report.
func (e *Engine) Analyze(ctx context.Context, path string, cred Credential) (*forensic.Report, error) {
	res, err := e.startAndWait(ctx, Request{Path: path, Mode: ForensicAnalysis, Credential: cred})
	return res.Report, err
}

func (e *Engine) startAndWait(ctx context.Context, req Request) (Result, error) {
	op, err := e.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := op.Wait()
	if res.State != Succeeded {
		return res, res.Err
	}
	return res, nil
}
