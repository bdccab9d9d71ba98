package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/snipr/internal/config"
	"github.com/loykin/snipr/internal/history"
	"github.com/loykin/snipr/internal/history/factory"
	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/metrics"
	"github.com/loykin/snipr/internal/runner"
	"github.com/loykin/snipr/internal/signaller"
	"github.com/loykin/snipr/internal/signals"
)

// registry holds only snipr's collectors so textfile output does not clash
// with node_exporter's own Go runtime metrics.
var registry = prometheus.NewRegistry()

// command carries the collaborators every subcommand needs. Tests replace
// them to run without touching real processes.
type command struct {
	stdout   io.Writer
	logOut   io.Writer
	runner   runner.CommandRunner
	killer   signaller.Killer
	lookPath func(string) (string, error)
}

func newCommand() *command {
	return &command{stdout: os.Stdout, runner: runner.ExecRunner{}}
}

// load reads the config file and applies flags the user set explicitly.
func load(f RootFlags, changed func(string) bool) (*config.Config, error) {
	fc, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyFlags(fc, f, changed)
	return fc.Resolve()
}

func applyFlags(fc *config.FileConfig, f RootFlags, changed func(string) bool) {
	if changed("signal") {
		fc.Signal = f.Signal
	}
	if changed("include") {
		fc.Include = f.Include
	}
	if changed("exclude") {
		fc.Exclude = f.Exclude
	}
	if changed("memory") {
		fc.MemoryGreaterThan = f.Memory
	}
	if changed("cpu") {
		fc.CPUGreaterThan = f.CPU
	}
	if changed("alive") {
		fc.AliveLongerThan = f.Alive
	}
	if changed("target-parent") {
		fc.TargetParent = f.Parent
	}
	if changed("dry-run") {
		fc.DryRun = f.DryRun
	}
	if changed("pkill") {
		fc.VerifiedDispatch = f.Pkill
	}
	if changed("table") {
		fc.Table = f.Table
	}
	if changed("log-level") || changed("log-format") {
		if fc.Log == nil {
			fc.Log = &config.LogConfig{Timestamps: true}
		}
		if changed("log-level") {
			fc.Log.Level = f.LogLevel
		}
		if changed("log-format") {
			fc.Log.Format = f.LogFormat
		}
	}
	if changed("history-dsn") {
		fc.History = &config.HistoryConfig{DSN: f.HistoryDSN}
	}
	if changed("pushgateway") || changed("metrics-textfile") {
		if fc.Metrics == nil {
			fc.Metrics = &config.MetricsConfig{Job: "snipr"}
		}
		if changed("pushgateway") {
			fc.Metrics.Pushgateway = f.Pushgateway
		}
		if changed("metrics-textfile") {
			fc.Metrics.Textfile = f.MetricsTextfile
		}
	}
}

// newLocator applies the configured filters and leaves snipr itself out:
// its own command line usually matches the include patterns.
func newLocator(cfg *config.Config, table locator.Table) *locator.Locator {
	loc := locator.New(table)
	cfg.Apply(loc)
	self := os.Getpid()
	loc.Filter(func(r locator.Record) bool { return r.PID != self })
	return loc
}

func (c *command) logger(cfg *config.Config) (*slog.Logger, io.Closer) {
	if c.logOut != nil {
		return cfg.Log.NewSloggerTo(c.logOut, true), nopCloser{}
	}
	return cfg.Log.NewSlogger()
}

// Signal runs one locate-and-signal pass. It fails when configuration is
// invalid or when any process could not be handled.
func (c *command) Signal(ctx context.Context, f RootFlags, changed func(string) bool) error {
	cfg, err := load(f, changed)
	if err != nil {
		return err
	}
	log, closer := c.logger(cfg)
	defer func() { _ = closer.Close() }()

	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	table := cfg.NewTable(c.runner)
	loc := newLocator(cfg, table)

	failures := 0
	hooks := []signaller.Hooks{
		signaller.LogHooks(log, cfg.Options.DryRun),
		{OnError: func(error, syscall.Signal, *locator.Record) { failures++ }},
	}
	if cfg.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		if cl, ok := sink.(io.Closer); ok {
			defer func() { _ = cl.Close() }()
		}
		rec := history.NewRecorder(sink, cfg.Options.DryRun, log)
		log.Debug("Recording history", "run_id", rec.RunID())
		hooks = append(hooks, rec.Hooks(ctx))
	}

	opts := []signaller.Option{signaller.WithLogger(log), signaller.WithRunner(c.runner)}
	if c.killer != nil {
		opts = append(opts, signaller.WithKiller(c.killer))
	}
	if c.lookPath != nil {
		opts = append(opts, signaller.WithLookPath(c.lookPath))
	}
	s, err := signaller.New(loc, table, cfg.Options, signaller.ChainHooks(hooks...), opts...)
	if err != nil {
		return err
	}

	runErr := s.SendSignals(ctx)
	c.exportMetrics(ctx, cfg.Metrics, log)

	if runErr != nil {
		return runErr
	}
	if failures > 0 {
		return fmt.Errorf("%d signalling error(s), see log", failures)
	}
	return nil
}

// exportMetrics pushes or writes the run's metrics. Failures are logged only.
func (c *command) exportMetrics(ctx context.Context, m config.MetricsConfig, log *slog.Logger) {
	if m.Pushgateway != "" {
		if err := metrics.Push(ctx, m.Pushgateway, m.Job, registry); err != nil {
			log.Warn("Failed to push metrics", "url", m.Pushgateway, "error", err)
		}
	}
	if m.Textfile != "" {
		if err := metrics.WriteTextfile(m.Textfile, registry); err != nil {
			log.Warn("Failed to write metrics textfile", "path", m.Textfile, "error", err)
		}
	}
}

// List prints the processes the current filters select.
func (c *command) List(ctx context.Context, f RootFlags, lf ListFlags, changed func(string) bool) error {
	cfg, err := load(f, changed)
	if err != nil {
		return err
	}
	loc := newLocator(cfg, cfg.NewTable(c.runner))
	recs, err := loc.Locate(ctx)
	if err != nil {
		return err
	}
	if lf.JSON {
		return printJSON(c.stdout, recs)
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tPPID\tRSS\tCPU\tELAPSED\tCOMMAND")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%.1f\t%s\t%s\n", r.PID, r.PPID, r.Memory, r.CPU, r.Elapsed, r.Command)
	}
	return tw.Flush()
}

// Signals prints the signal catalog as "number name".
func (c *command) Signals() error {
	for _, name := range signals.List() {
		sig, err := signals.Lookup(name)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintln(c.stdout, strconv.Itoa(int(sig)), name); err != nil {
			return err
		}
	}
	return nil
}
