package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rawdiag/device"
	"rawdiag/engine"
	"rawdiag/progress"
	"rawdiag/retrodfrg"
)

// deferredWriter holds log output while the fullscreen view owns the
// terminal and replays it afterwards.
type deferredWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf *bytes.Buffer
}

func (w *deferredWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf != nil {
		return w.buf.Write(p)
	}
	return w.out.Write(p)
}

// Hold starts buffering.
func (w *deferredWriter) Hold() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		w.buf = &bytes.Buffer{}
	}
}

// Release writes what was held and stops buffering.
func (w *deferredWriter) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return
	}
	_, _ = w.buf.WriteTo(w.out)
	w.buf = nil
}

// confirm refuses destructive requests without --force and on mounted
// devices.
func (a *app) confirm(req engine.Request) error {
	if !req.Mode.Destructive() {
		return nil
	}
	if !a.force {
		return fmt.Errorf("%s overwrites %s; pass --force to confirm", req.Mode, req.Path)
	}
	if a.emulated != nil {
		return nil
	}
	if mounts := device.MountedFrom(req.Path); len(mounts) > 0 {
		return fmt.Errorf("%s is mounted at %s; unmount it first", req.Path, mounts[0].Target)
	}
	return nil
}

// run starts req and follows it to the end. Interrupts cancel the
// operation. The returned error is the operation's error when it did not
// succeed.
func (a *app) run(cmd *cobra.Command, req engine.Request) (engine.Result, error) {
	if err := a.confirm(req); err != nil {
		return engine.Result{}, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := a.newEngine(ctx)
	if err != nil {
		return engine.Result{}, err
	}
	op, err := eng.Start(ctx, req)
	if err != nil {
		return engine.Result{}, err
	}

	var res engine.Result
	if a.fullscreen(req.Mode) {
		res = a.watchTUI(op)
	} else {
		res = watchPlain(op, os.Stderr)
	}
	if res.State != engine.Succeeded {
		return res, res.Err
	}
	return res, nil
}

// fullscreen reports whether mode gets the tcell view. Short read-only
// analyses and non-terminals print lines instead.
func (a *app) fullscreen(mode engine.Mode) bool {
	if a.noTUI || mode == engine.BootCheck || mode == engine.ForensicAnalysis {
		return false
	}
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// watchPlain prints one line per phase and sample to w.
func watchPlain(op *engine.Operation, w io.Writer) engine.Result {
	for ev := range op.Events() {
		switch ev := ev.(type) {
		case progress.PhaseEvent:
			fmt.Fprintf(w, "==> %s (%d/%d) %s\n", ev.Label, ev.Index+1, ev.Count, humanize.IBytes(uint64(max(ev.Total, 0))))
		case progress.Sample:
			fmt.Fprintln(w, sampleLine(ev))
		}
	}
	return op.Wait()
}

func sampleLine(s progress.Sample) string {
	rate := s.ReadMBps
	if s.WriteMBps > rate {
		rate = s.WriteMBps
	}
	eta := "-"
	if s.ETA > 0 {
		eta = s.ETA.String()
	}
	return fmt.Sprintf("    %5.1f%%  %s / %s  %.1f MB/s  ETA %s  faults %d",
		s.Percent, humanize.IBytes(uint64(max(s.Bytes, 0))), humanize.IBytes(uint64(max(s.Total, 0))), rate, eta, s.Faults)
}

// view maps operation events onto the fullscreen UI state.
type view struct {
	ui       *retrodfrg.UI
	sectors  *retrodfrg.SectorMap
	block    int
	emulated bool
	phase    string
	titled   bool
}

func newView(ui *retrodfrg.UI, emulated bool) *view {
	return &view{ui: ui, emulated: emulated, block: 512}
}

func (v *view) title(op *engine.Operation) {
	if v.titled {
		return
	}
	d := op.Device()
	if d.Path == "" {
		return
	}
	v.titled = true
	if d.LogicalBlockSize > 0 {
		v.block = d.LogicalBlockSize
	}
	v.sectors = retrodfrg.NewSectorMap(d.Sectors())
	v.ui.SetSectorMap(v.sectors)
	v.ui.SetTitle(fmt.Sprintf(" %s – %s  %s ", strings.ToUpper(op.Mode.String()), d.Path, humanize.IBytes(uint64(max(d.Capacity, 0)))))
	summary := []string{
		fmt.Sprintf("Device: %-24s  Serial: %-20s  Bus: %s", d.Describe(), orDash(d.Serial), orDash(d.Bus)),
		fmt.Sprintf("Bytes/Sector: %-4d  Physical: %-4d  Sectors: %s", d.LogicalBlockSize, d.PhysicalBlockSize, humanize.Comma(d.Sectors())),
	}
	if p := op.Request.Pattern; p != "" && op.Mode == engine.SecureErase {
		summary = append(summary, "Pattern: "+p)
	}
	v.ui.SetSummaryLines(summary)
	v.ui.SetLegend(retrodfrg.Legend())
}

func (v *view) apply(op *engine.Operation, ev progress.Event) {
	v.title(op)
	switch ev := ev.(type) {
	case progress.PhaseEvent:
		if v.phase != "" {
			v.ui.SetPhaseDone(v.phase)
		}
		v.phase = ev.Label
		v.ui.AddPhase(ev.Label)
		if v.sectors != nil {
			v.sectors.Reset()
		}
	case progress.Sample:
		if v.sectors != nil && ev.Total > 0 {
			v.sectors.MarkDone(int64(float64(ev.Bytes) / float64(ev.Total) * float64(v.sectors.Total())))
		}
		v.ui.SetStatusLines(retrodfrg.StatusLines(ev, v.block, v.sectors, v.emulated))
	case progress.Finished:
		if ev.State == engine.Succeeded.String() && v.phase != "" {
			v.ui.SetPhaseDone(v.phase)
		}
	}
}

// finish marks the faults the result lists.
func (v *view) finish(res engine.Result) {
	if v.sectors == nil {
		return
	}
	for _, off := range res.FaultOffsets() {
		v.sectors.MarkFault(off / int64(v.block))
	}
	v.ui.SetStatusLines([]string{
		fmt.Sprintf("Checked: %d / %d sectors   Faults: %d", v.sectors.Done(), v.sectors.Total(), len(res.Faults)),
		fmt.Sprintf("Elapsed: %s", res.Duration().Truncate(time.Second)),
		"Result: " + res.Message,
	})
}

// watchTUI draws op in fullscreen until it finishes. It falls back to plain
// lines when the terminal cannot be initialized.
func (a *app) watchTUI(op *engine.Operation) engine.Result {
	ui, err := retrodfrg.NewUI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: fullscreen view unavailable (%v); printing progress\n", err)
		return watchPlain(op, os.Stderr)
	}
	a.logs.Hold()
	defer a.logs.Release()
	defer ui.Close()

	v := newView(ui, a.emulated != nil)
	stopped := ui.Stopped()
	events := op.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			v.apply(op, ev)
			ui.LayoutAndDraw()
		case <-stopped:
			op.Cancel()
			stopped = nil
		}
	}
	res := op.Wait()
	v.finish(res)
	ui.LayoutAndDraw()
	linger(ui)
	return res
}

// linger keeps the final screen up briefly unless the user quits.
func linger(ui *retrodfrg.UI) {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-ui.Stopped():
	case <-timer.C:
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
