// rawdiag surface-scans, tests, erases, images and analyzes raw block
// devices and disk images.
//
// Cobra CLI + tcell fullscreen view with one glyph per span of sectors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"

	"rawdiag/blockio"
	"rawdiag/config"
	"rawdiag/engine"
	"rawdiag/forensic"
	"rawdiag/history"
	"rawdiag/metrics"
	"rawdiag/smart"
)

// app is the state shared by all commands of one invocation.
type app struct {
	cfgPath       string
	logFormat     string
	verbosity     int
	chunkSize     string
	metricsAddr   string
	historyDSN    string
	force         bool
	noTUI         bool
	passwordStdin bool
	emulate       string
	emulateBad    []int64

	cfg      config.Config
	log      logr.Logger
	logs     *deferredWriter
	emulated *emulatedDisk
	smart    *smart.Querier
	store    *history.Store
	cleanup  []func()
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// setup loads configuration, applies flags over it and starts logging.
func (a *app) setup(cmd *cobra.Command) error {
	config.LoadDotEnv()
	path := a.cfgPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("verbosity") {
		cfg.Log.Verbosity = a.verbosity
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = a.chunkSize
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if flags.Changed("history-dsn") {
		cfg.History.DSN = a.historyDSN
	}
	if _, err := cfg.ChunkBytes(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logs = &deferredWriter{out: os.Stderr}
	log, err := initLogging(cfg.Log, a.logs)
	if err != nil {
		return err
	}
	a.log = log

	if a.emulate != "" {
		d, err := newEmulatedDisk(a.emulate, a.emulateBad)
		if err != nil {
			return err
		}
		a.emulated = d
		fmt.Fprintf(os.Stderr, "WARNING: emulating a %s device in memory; nothing touches real hardware\n", a.emulate)
	}

	a.smart = smart.NewQuerier(log.WithName("smart"))
	if cfg.SMART.Path != "" {
		a.smart.Smartctl = cfg.SMART.Path
	}
	a.smart.Sudo = cfg.SMART.Sudo
	return nil
}

// initLogging sets up klog, backed by zap for the json format, and returns
// the logger handed to the engine. Output goes to w.
func initLogging(lc config.LogConfig, w io.Writer) (logr.Logger, error) {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	for k, v := range map[string]string{
		"v":               strconv.Itoa(lc.Verbosity),
		"logtostderr":     "false",
		"alsologtostderr": "false",
		"stderrthreshold": "FATAL",
	} {
		if err := fs.Set(k, v); err != nil {
			return logr.Logger{}, fmt.Errorf("klog %s: %w", k, err)
		}
	}

	switch strings.ToLower(lc.Format) {
	case "", "text":
		klog.SetOutput(w)
	case "json":
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zap.NewAtomicLevelAt(zapcore.Level(-lc.Verbosity)))
		klog.SetLogger(zapr.NewLogger(zap.New(core)))
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q: must be one of text, json", lc.Format)
	}
	return klog.Background().WithName("rawdiag"), nil
}

// newEngine builds the engine for this invocation and starts the metrics
// endpoint and history store when configured.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, error) {
	opts, err := a.cfg.Diag()
	if err != nil {
		return nil, err
	}
	eopts := []engine.Option{
		engine.WithLogger(a.log),
		engine.WithDiagOptions(opts),
		engine.WithInterval(a.cfg.ProgressInterval),
		engine.WithHost(forensic.LocalHost),
	}
	if a.emulated != nil {
		eopts = append(eopts, engine.WithProber(a.emulated), engine.WithOpener(a.emulated.Open))
	} else {
		eopts = append(eopts, engine.WithSMART(a.smart))
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		col := metrics.NewCollector()
		if err := col.Register(reg); err != nil {
			return nil, err
		}
		mctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(mctx, addr, reg, a.log.WithName("metrics")); err != nil {
				a.log.Error(err, "metrics endpoint stopped", "addr", addr)
			}
		}()
		a.cleanup = append(a.cleanup, func() { cancel(); <-done })
		eopts = append(eopts, engine.WithObserver(col))
	}

	if dsn := a.cfg.History.DSN; dsn != "" {
		store, err := a.openHistory(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: run history disabled: %v\n", err)
		} else {
			eopts = append(eopts, engine.WithRecorder(store))
		}
	}
	return engine.New(eopts...), nil
}

func (a *app) openHistory(ctx context.Context) (*history.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.History.DSN == "" {
		return nil, errors.New("no history DSN configured (history.dsn or RAWDIAG_HISTORY_DSN)")
	}
	store, err := history.Open(ctx, a.cfg.History.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("connect history: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	a.store = store
	a.cleanup = append(a.cleanup, store.Close)
	return store, nil
}

// password reads the sudo password from stdin when asked to.
func (a *app) password() (string, error) {
	if !a.passwordStdin {
		return "", nil
	}
	b, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
	klog.Flush()
	if a.logs != nil {
		a.logs.Release()
	}
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "rawdiag",
		Short:         "Raw device diagnostics, secure erase and forensic analysis",
		Long:          "Surface-scan, test, benchmark, erase, image and analyze raw block devices and disk images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default $XDG_CONFIG_HOME/rawdiag/config.yaml)")
	pf.StringVar(&a.logFormat, "log-format", "text", "log format: text|json")
	pf.IntVarP(&a.verbosity, "verbosity", "v", 0, "log verbosity (klog -v)")
	pf.StringVar(&a.chunkSize, "chunk-size", "", "I/O chunk size (e.g. 4MiB, 64MiB)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9108)")
	pf.StringVar(&a.historyDSN, "history-dsn", "", "PostgreSQL DSN for run history")
	pf.BoolVar(&a.force, "force", false, "confirm destructive operations")
	pf.BoolVar(&a.noTUI, "no-tui", false, "print progress lines instead of the fullscreen view")
	pf.BoolVar(&a.passwordStdin, "password-stdin", false, "read the sudo password for smartctl from stdin")
	pf.StringVar(&a.emulate, "emulate", "", "operate on an in-memory device of this size instead of hardware (e.g. 64MiB)")
	pf.Int64SliceVar(&a.emulateBad, "emulate-bad", nil, "sectors of the emulated device that fail to read")

	root.AddCommand(
		a.diagCommand(engine.SurfaceScan, "scan", "Read every sector and list unreadable ones (read-only)"),
		a.diagCommand(engine.FullTest, "test", "Write and verify 0x00 and 0xFF over the whole device [DESTRUCTIVE]"),
		a.diagCommand(engine.SpeedTest, "speed", "Measure sequential write and read throughput [DESTRUCTIVE]"),
		a.eraseCommand(),
		a.patternsCommand(),
		a.bootCommand(),
		a.smartCommand(),
		a.forensicCommand(),
		a.backupCommand(),
		a.burnCommand(),
		a.historyCommand(),
		a.deviceCommand(),
		a.configCommand(),
	)

	err := root.Execute()
	a.close()
	if errors.Is(err, blockio.ErrCancelled) {
		os.Exit(130)
	}
	must(err)
}
