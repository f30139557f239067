package smart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-logr/logr"
)

// Runner executes an external command. Output is returned even when the
// command exits non-zero.
type Runner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, []byte, error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	err := cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}

var smartctlCandidates = []string{
	"/opt/homebrew/bin/smartctl",
	"/usr/local/bin/smartctl",
	"/usr/local/sbin/smartctl",
	"/usr/bin/smartctl",
	"/usr/sbin/smartctl",
}

// FindSmartctl returns the smartctl binary, checking the usual install
// locations before PATH.
func FindSmartctl() (string, error) {
	for _, p := range smartctlCandidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return exec.LookPath("smartctl")
}

// Querier collects a Record for one device, falling back from smartctl JSON
// to smartctl text to diskutil.
type Querier struct {
	Runner   Runner
	Log      logr.Logger
	Smartctl string
	// Diskutil, when set, is tried after smartctl.
	Diskutil string
	// Sudo runs smartctl through sudo even without a password.
	Sudo bool
}

// NewQuerier returns a Querier using os/exec, with the diskutil fallback
// enabled on macOS.
func NewQuerier(log logr.Logger) *Querier {
	q := &Querier{Runner: ExecRunner{}, Log: log}
	if runtime.GOOS == "darwin" {
		q.Diskutil = "diskutil"
	}
	return q
}

// Query never fails: when no source works it returns Available=false and a
// message saying why.
func (q *Querier) Query(ctx context.Context, path, password string) Record {
	var reasons []string
	log := q.Log.WithValues("device", path)

	rec, err := q.smartctl(ctx, path, password)
	if err == nil {
		log.V(1).Info("SMART data collected", "source", rec.Source)
		return rec
	}
	log.V(1).Info("smartctl unusable", "reason", err.Error())
	reasons = append(reasons, err.Error())

	if q.Diskutil != "" {
		out, _, err := q.Runner.Run(ctx, "", q.Diskutil, "info", path)
		if len(out) == 0 && err != nil {
			reasons = append(reasons, fmt.Sprintf("diskutil: %v", err))
		} else if rec, err := ParseDiskutil(string(out)); err == nil {
			return rec
		} else {
			reasons = append(reasons, fmt.Sprintf("diskutil: %v", err))
		}
	}

	return Record{
		Source:  SourceNone,
		Health:  HealthInformational,
		Message: "SMART data not available for this device (" + strings.Join(reasons, "; ") + "). USB sticks and SD cards rarely support SMART.",
	}
}

func (q *Querier) smartctl(ctx context.Context, path, password string) (Record, error) {
	bin := q.Smartctl
	if bin == "" {
		p, err := FindSmartctl()
		if err != nil {
			return Record{}, errors.New("smartctl not found")
		}
		bin = p
	}

	info, stderr, err := q.run(ctx, password, bin, "-i", path)
	if len(info) == 0 && err != nil {
		return Record{}, fmt.Errorf("smartctl -i: %w", err)
	}
	if err := Precheck(string(info) + string(stderr)); err != nil {
		return Record{}, err
	}

	// smartctl's exit status is a bitmask of drive conditions, so output is
	// parsed whatever the status.
	out, _, _ := q.run(ctx, password, bin, "-a", "-j", path)
	rec, jerr := ParseJSON(out)
	if jerr == nil {
		return rec, nil
	}
	q.Log.V(1).Info("smartctl json unusable, trying text", "err", jerr.Error())

	out, _, _ = q.run(ctx, password, bin, "-H", "-A", path)
	rec, terr := ParseText(string(out))
	if terr != nil {
		return Record{}, fmt.Errorf("smartctl: %w", terr)
	}
	rec.Message = "detailed SMART data could not be read as JSON"
	return rec, nil
}

func (q *Querier) run(ctx context.Context, password, bin string, args ...string) ([]byte, []byte, error) {
	switch {
	case password != "":
		return q.Runner.Run(ctx, password+"\n", "sudo", append([]string{"-S", "-p", "", bin}, args...)...)
	case q.Sudo:
		return q.Runner.Run(ctx, "", "sudo", append([]string{"-n", bin}, args...)...)
	}
	return q.Runner.Run(ctx, "", bin, args...)
}
