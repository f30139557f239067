package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/diag"
	"rawdiag/erase"
	"rawdiag/forensic"
	"rawdiag/imaging"
	"rawdiag/pattern"
	"rawdiag/progress"
)

const recordTimeout = 10 * time.Second

// transfers forwards reporter byte counts to the Observer under the mode.
type transfers struct {
	o    Observer
	mode Mode
}

func (t transfers) Transferred(dir progress.Direction, n int64) { t.o.Transferred(t.mode, dir, n) }

func (e *Engine) run(ctx context.Context, op *Operation) {
	unlink := context.AfterFunc(ctx, op.Cancel)
	defer unlink()

	if e.observer != nil {
		e.observer.OperationStarted(op.Mode)
	}
	log := e.log.WithValues("op", op.ID, "mode", op.Mode.String(), "device", op.Request.Path)
	res := Result{ID: op.ID, Mode: op.Mode, StartedAt: op.StartedAt}
	err := e.execute(ctx, op, &res, log)
	e.finish(ctx, op, res, err, log)
}

func (e *Engine) execute(ctx context.Context, op *Operation, res *Result, log logr.Logger) error {
	req := op.Request
	snap, err := e.prober.Probe(req.Path)
	if err != nil {
		return unavailable(err)
	}
	op.setDevice(snap)
	res.Device = snap

	if op.stop.IsSet() {
		return blockio.ErrCancelled
	}
	dev, err := e.open(req.Path, req.Mode.Destructive())
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Error(err, "close device")
		}
	}()

	if !op.transition(Running) {
		return blockio.ErrCancelled
	}
	log.Info("operation running", "capacity", dev.Size(), "blockSize", dev.BlockSize())

	rep := progress.NewReporter(op.events, e.interval)
	if e.observer != nil {
		rep.WithObserver(transfers{o: e.observer, mode: op.Mode})
	}
	stop := op.stop.IsSet

	switch op.Mode {
	case SurfaceScan, FullTest, SpeedTest:
		m := &diag.Machine{Device: dev, Progress: rep, Stop: stop, Log: log, Options: e.opts}
		r, err := m.Run(diagMode(op.Mode))
		res.Sectors, res.Faults, res.Percent = r.Sectors, r.Faults, r.Percent
		res.ReadMBps, res.WriteMBps, res.Speed = r.ReadMBps, r.WriteMBps, r.Speed
		return err

	case SecureErase:
		p, err := pattern.Lookup(req.Pattern)
		if err != nil {
			return err
		}
		er := &erase.Eraser{Device: dev, Progress: rep, Stop: stop, Log: log, ChunkSize: e.opts.ChunkSize}
		r, err := er.Run(p)
		res.Pattern, res.PatternVersion, res.Passes = r.Pattern, r.Version, r.PassesDone
		res.Sectors, res.WriteMBps, res.Percent = r.Sectors, r.WriteMBps, r.Percent
		return err

	case BootCheck:
		if stop() {
			return blockio.ErrCancelled
		}
		rep.Begin(progress.Phase{Count: 1, Label: "analyzing", Total: 1})
		a, err := bootscan.Analyze(dev, dev.Size(), dev.BlockSize())
		if err != nil {
			return err
		}
		rep.Finish(1, 0, 0)
		res.Boot, res.Percent = a, 100
		return nil

	case ForensicAnalysis:
		asm := &forensic.Assembler{SMART: e.smart, Host: e.host, Progress: rep, Stop: stop, Log: log}
		r, err := asm.Assemble(ctx, dev, snap, req.Credential.Password)
		res.Report, res.Boot = r, r.Boot
		if err == nil {
			res.Percent = 100
		}
		return err

	case Backup:
		return e.backup(op, dev, rep, log, res)

	case Burn:
		return e.burn(op, dev, rep, log, res)
	}
	return fmt.Errorf("unknown mode %d", int(op.Mode))
}

func (e *Engine) backup(op *Operation, dev blockio.Device, rep *progress.Reporter, log logr.Logger, res *Result) error {
	req := op.Request
	if err := os.MkdirAll(filepath.Dir(req.Image), 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	f, err := os.Create(req.Image)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	c := &imaging.Copier{Progress: rep, Stop: op.stop.IsSet, Log: log, ChunkSize: e.opts.ChunkSize}
	r, err := c.Backup(dev, f, req.Full)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close image: %w", cerr)
	}
	copyResult(res, r)
	return err
}

func (e *Engine) burn(op *Operation, dev blockio.Device, rep *progress.Reporter, log logr.Logger, res *Result) error {
	req := op.Request
	img, err := e.openImage(req.Image, false)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer img.Close()
	c := &imaging.Copier{Progress: rep, Stop: op.stop.IsSet, Log: log, ChunkSize: e.opts.ChunkSize}
	r, err := c.Burn(img, dev, req.Verify)
	copyResult(res, r)
	return err
}

func copyResult(res *Result, r imaging.Result) {
	res.Copy = &r
	res.Sectors, res.Faults, res.Percent = r.Sectors, r.Faults, r.Percent
	res.ReadMBps, res.WriteMBps = r.ReadMBps, r.WriteMBps
}

func (e *Engine) finish(ctx context.Context, op *Operation, res Result, err error, log logr.Logger) {
	res.State, res.Message = terminal(err, len(res.Faults))
	res.Err = err
	res.EndedAt = e.now()

	switch res.State {
	case Failed:
		log.Error(err, "operation failed", "message", res.Message)
	default:
		log.Info("operation finished", "state", res.State.String(), "sectors", res.Sectors, "faults", len(res.Faults), "elapsed", res.Duration().Round(time.Second).String())
	}

	op.complete(res)
	e.release(op)

	if e.observer != nil {
		e.observer.OperationFinished(res)
	}
	if e.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if rerr := e.recorder.Record(rctx, res); rerr != nil {
			log.Error(rerr, "record history")
		}
		cancel()
	}

	op.events.Emit(progress.Finished{State: res.State.String(), Message: res.Message})
	op.events.Close()
	close(op.done)
}

func diagMode(m Mode) diag.Mode {
	switch m {
	case FullTest:
		return diag.FullTest
	case SpeedTest:
		return diag.SpeedTest
	}
	return diag.SurfaceScan
}

func unavailable(err error) error {
	if errors.Is(err, blockio.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", blockio.ErrDeviceUnavailable, err)
}
