// Package snipr sends signals to processes selected by command line,
// resident memory, CPU usage and age.
package snipr

import (
	"context"
	"log/slog"
	"net/http"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/snipr/internal/config"
	"github.com/loykin/snipr/internal/history"
	"github.com/loykin/snipr/internal/history/factory"
	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/metrics"
	"github.com/loykin/snipr/internal/proctable"
	"github.com/loykin/snipr/internal/signaller"
	"github.com/loykin/snipr/internal/signals"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = locator.Record

type Predicate = locator.Predicate

// Table supplies raw process-table lines to a Locator.
type Table = locator.Table

// ProcessTable can also re-read a single process before it is signalled.
type ProcessTable = proctable.Table

type Description = proctable.Description

type Locator = locator.Locator

type Signaller = signaller.Signaller

type Options = signaller.Options

type Option = signaller.Option

type Hooks = signaller.Hooks

type Killer = signaller.Killer

type Matcher = signaller.Matcher

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

var (
	ErrMalformedLine      = locator.ErrMalformedLine
	ErrUnknownSignal      = signals.ErrUnknownSignal
	ErrMatcherUnavailable = signaller.ErrMatcherUnavailable
	ErrNotFound           = proctable.ErrNotFound
)

func NewLocator(t Table) *Locator { return locator.New(t) }

// NewSignaller builds a signaller over loc, verifying processes against
// table. Configuration errors are returned before anything is signalled.
func NewSignaller(loc *Locator, table ProcessTable, opts Options, hooks Hooks, options ...Option) (*Signaller, error) {
	return signaller.New(loc, table, opts, hooks, options...)
}

// NewPSTable reads the process table with ps(1).
func NewPSTable() ProcessTable { return proctable.NewPSTable(nil) }

// NewNativeTable reads the process table without spawning ps.
func NewNativeTable() ProcessTable { return proctable.NewNativeTable() }

func ParseLine(line string) (Record, error) { return locator.ParseLine(line) }
func ParseSeconds(etime string) int64       { return locator.ParseSeconds(etime) }
func FormatElapsed(seconds int64) string    { return locator.FormatElapsed(seconds) }

func LookupSignal(name string) (syscall.Signal, error) { return signals.Lookup(name) }
func SignalName(sig syscall.Signal) string             { return signals.Name(sig) }
func Signals() []string                                { return signals.List() }

func WithKiller(k Killer) Option       { return signaller.WithKiller(k) }
func WithMatcher(m Matcher) Option     { return signaller.WithMatcher(m) }
func WithLogger(l *slog.Logger) Option { return signaller.WithLogger(l) }
func ChainHooks(hs ...Hooks) Hooks     { return signaller.ChainHooks(hs...) }
func LogHooks(l *slog.Logger, dryRun bool) Hooks {
	return signaller.LogHooks(l, dryRun)
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	fc, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	return fc.Resolve()
}

// NewHistorySink opens a history sink selected by DSN scheme.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// HistoryHooks records every signalling stage to sink.
func HistoryHooks(ctx context.Context, sink HistorySink, dryRun bool, l *slog.Logger) Hooks {
	return history.NewRecorder(sink, dryRun, l).Hooks(ctx)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry, for programs that embed
// snipr and are scraped.
func MetricsHandler() http.Handler { return metrics.Handler() }

// PushMetrics sends the gathered metrics to a Prometheus Pushgateway.
func PushMetrics(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	return metrics.Push(ctx, url, job, g)
}

func WriteMetricsTextfile(path string, g prometheus.Gatherer) error {
	return metrics.WriteTextfile(path, g)
}
