package forensic

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"rawdiag/blockio"
	"rawdiag/bootscan"
	"rawdiag/device"
	"rawdiag/progress"
	"rawdiag/smart"
)

// SMARTSource yields telemetry for a device path. *smart.Querier is one.
type SMARTSource interface {
	Query(ctx context.Context, path, password string) smart.Record
}

// Assembler builds Reports. The zero value skips SMART and uses the local
// host lookup.
type Assembler struct {
	SMART    SMARTSource
	Host     func() *Host
	Progress *progress.Reporter
	Stop     func() bool
	Log      logr.Logger
	Now      func() time.Time
}

var phases = []string{"boot", "smart", "checksum", "host"}

// Assemble runs each section in turn. A failing section becomes a note;
// only cancellation ends the run early, with blockio.ErrCancelled.
func (a *Assembler) Assemble(ctx context.Context, dev blockio.Device, info device.Device, password string) (*Report, error) {
	if a.Progress == nil {
		a.Progress = progress.NewReporter(nil, 0)
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	hostFn := a.Host
	if hostFn == nil {
		hostFn = LocalHost
	}

	r := &Report{ID: uuid.NewString(), CapturedAt: now().UTC(), Device: info}
	logical := dev.BlockSize()

	steps := []func(){
		func() {
			boot, err := bootscan.Analyze(dev, dev.Size(), logical)
			if err != nil {
				a.Log.Error(err, "boot analysis failed", "device", info.Path)
				r.Notes = append(r.Notes, "boot analysis unavailable: "+err.Error())
				return
			}
			r.Boot = boot
			r.Partitions = partitions(boot, logical)
		},
		func() {
			if a.SMART == nil || info.Image {
				r.Notes = append(r.Notes, "SMART not queried")
				return
			}
			rec := a.SMART.Query(ctx, info.Path, password)
			r.SMART = &rec
			if !rec.Available {
				r.Notes = append(r.Notes, "SMART: "+rec.Message)
			}
		},
		func() {
			sums, dump, err := checksum(dev)
			if err != nil {
				a.Log.Error(err, "checksum pass failed", "device", info.Path)
				r.Notes = append(r.Notes, "checksum unavailable: "+err.Error())
				return
			}
			r.Checksums, r.HexDump = sums, dump
		},
		func() { r.Host = hostFn() },
	}

	for i, step := range steps {
		if (a.Stop != nil && a.Stop()) || ctx.Err() != nil {
			return r, blockio.ErrCancelled
		}
		a.Progress.Begin(progress.Phase{Index: i, Count: len(steps), Label: phases[i], Total: 1})
		step()
		a.Progress.Finish(1, 0, 0)
	}
	a.Log.Info("forensic report assembled", "device", info.Path, "id", r.ID, "notes", len(r.Notes))
	return r, nil
}

func checksum(dev blockio.Device) (*Checksums, string, error) {
	n := min(dev.Size(), ChecksumRange)
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(dev, 0, n), buf); err != nil {
		return nil, "", fmt.Errorf("read leading %d bytes: %w", n, err)
	}
	m := md5.Sum(buf)
	s := sha256.Sum256(buf)
	return &Checksums{
		Length: n,
		MD5:    hex.EncodeToString(m[:]),
		SHA256: hex.EncodeToString(s[:]),
	}, hex.Dump(buf), nil
}
