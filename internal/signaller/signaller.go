// Package signaller sends a signal to every process a locator finds,
// re-validating each one immediately before signalling it so that a recycled
// PID is never hit by mistake.
package signaller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"syscall"
	"time"

	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/metrics"
	"github.com/loykin/snipr/internal/proctable"
	"github.com/loykin/snipr/internal/runner"
	"github.com/loykin/snipr/internal/signals"
)

// Options configures what is sent and how.
type Options struct {
	Signal           string
	TargetParent     bool
	DryRun           bool
	VerifiedDispatch bool
}

// Option customises collaborators.
type Option func(*Signaller)

func WithKiller(k Killer) Option               { return func(s *Signaller) { s.killer = k } }
func WithMatcher(m Matcher) Option             { return func(s *Signaller) { s.matcher = m } }
func WithRunner(r runner.CommandRunner) Option { return func(s *Signaller) { s.runner = r } }
func WithLogger(l *slog.Logger) Option         { return func(s *Signaller) { s.log = l } }

// WithLookPath overrides how the pkill binary is located.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(s *Signaller) { s.lookPath = fn }
}

// Signaller is not safe for concurrent use.
type Signaller struct {
	locator  *locator.Locator
	table    Describer
	killer   Killer
	matcher  Matcher
	runner   runner.CommandRunner
	lookPath func(string) (string, error)
	log      *slog.Logger
	hooks    Hooks

	signal       syscall.Signal
	targetParent bool
	dryRun       bool
	verified     bool

	failures []error
}

// New builds a signaller. Configuration errors (unknown signal, missing
// match-and-signal utility) are returned here, before anything is signalled.
func New(loc *locator.Locator, table Describer, opts Options, hooks Hooks, options ...Option) (*Signaller, error) {
	s := &Signaller{
		locator:      loc,
		table:        table,
		killer:       SyscallKiller{},
		runner:       runner.ExecRunner{},
		log:          slog.Default(),
		hooks:        hooks,
		targetParent: opts.TargetParent,
		dryRun:       opts.DryRun,
	}
	for _, o := range options {
		o(s)
	}
	if err := s.SetSignal(opts.Signal); err != nil {
		return nil, err
	}
	if opts.VerifiedDispatch {
		if err := s.VerifiedDispatch(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetSignal resolves name and makes it the signal to send.
func (s *Signaller) SetSignal(name string) error {
	sig, err := signals.Lookup(name)
	if err != nil {
		return err
	}
	s.signal = sig
	return nil
}

func (s *Signaller) Signal() syscall.Signal { return s.signal }

// TargetParent directs the signal at each located process's parent.
func (s *Signaller) TargetParent(flag bool) { s.targetParent = flag }

// DryRun runs the whole pipeline without delivering any signal.
func (s *Signaller) DryRun() { s.dryRun = true }

// VerifiedDispatch delegates matching and signalling to pkill. The binary is
// located now so that a missing utility fails before any run.
func (s *Signaller) VerifiedDispatch() error {
	if s.matcher == nil {
		path, err := FindPkill(s.lookPath)
		if err != nil {
			return err
		}
		s.matcher = PkillMatcher{Runner: s.runner, Path: path}
	}
	s.verified = true
	return nil
}

func (s *Signaller) SetHooks(h Hooks) { s.hooks = h }

func (s *Signaller) Include(re *regexp.Regexp)      { s.locator.Include(re) }
func (s *Signaller) Exclude(re *regexp.Regexp)      { s.locator.Exclude(re) }
func (s *Signaller) MemoryGreaterThan(bytes int64)  { s.locator.MemoryGreaterThan(bytes) }
func (s *Signaller) CPUGreaterThan(percent float64) { s.locator.CPUGreaterThan(percent) }
func (s *Signaller) AliveLongerThan(seconds int64)  { s.locator.AliveLongerThan(seconds) }
func (s *Signaller) Filter(p locator.Predicate)     { s.locator.Filter(p) }

// SendSignals locates processes and signals each one in locate order.
// Errors are routed to the OnError hook; without one they are returned.
func (s *Signaller) SendSignals(ctx context.Context) error {
	s.failures = nil
	start := time.Now()
	defer func() { metrics.ObserveRunDuration(time.Since(start).Seconds()) }()

	procs, err := s.locator.Locate(ctx)
	if err != nil {
		metrics.IncBatchFailure()
		s.fail(fmt.Errorf("locate processes: %w", err), nil)
		return s.result()
	}
	metrics.SetLocated(len(procs))
	s.log.Debug("Located processes", "count", len(procs), "signal", signals.Name(s.signal))

	if len(procs) == 0 {
		if err := guard(func() error { s.hooks.onNoProcesses(); return nil }); err != nil {
			s.fail(err, nil)
		}
		return s.result()
	}
	for i := range procs {
		s.signalProcess(ctx, procs[i])
	}
	return s.result()
}

func (s *Signaller) signalProcess(ctx context.Context, p locator.Record) {
	outcome := metrics.OutcomeSent
	err := guard(func() error {
		s.hooks.beforeSignal(s.signal, p)
		if s.dryRun {
			outcome = metrics.OutcomeDryRun
		} else {
			sent, err := s.dispatch(ctx, p)
			if err != nil {
				return err
			}
			if !sent {
				outcome = metrics.OutcomeSkipped
				s.hooks.onSkipped(s.signal, p)
			}
		}
		s.hooks.afterSignal(s.signal, p)
		return nil
	})
	if err != nil {
		outcome = metrics.OutcomeError
		s.fail(err, &p)
	}
	metrics.IncSignal(signals.Name(s.signal), outcome)
}

// dispatch reports whether a signal was handed to the OS.
func (s *Signaller) dispatch(ctx context.Context, p locator.Record) (bool, error) {
	if s.verified {
		if err := s.matcher.SignalIfMatches(ctx, s.signal, p.PPID, p.Command); err != nil {
			return false, fmt.Errorf("pkill %s for pid %d: %w", signals.Name(s.signal), p.PID, err)
		}
		return true, nil
	}

	ok, err := s.stillMatches(ctx, p)
	if err != nil {
		return false, fmt.Errorf("verify pid %d: %w", p.PID, err)
	}
	if !ok {
		s.log.Debug("Process changed since it was located; skipping", "pid", p.PID, "command", p.Command)
		return false, nil
	}
	target := p.PID
	if s.targetParent {
		target = p.PPID
	}
	if err := s.killer.Kill(target, s.signal); err != nil {
		return false, fmt.Errorf("send %s to pid %d: %w", signals.Name(s.signal), target, err)
	}
	return true, nil
}

// stillMatches compares the live process with its snapshot. A process that
// has exited is a mismatch, not an error.
func (s *Signaller) stillMatches(ctx context.Context, p locator.Record) (bool, error) {
	d, err := s.table.Describe(ctx, p.PID)
	if err != nil {
		if errors.Is(err, proctable.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.Command == p.Command && d.PPID == p.PPID, nil
}

func (s *Signaller) fail(err error, p *locator.Record) {
	if s.hooks.OnError == nil {
		s.failures = append(s.failures, err)
		return
	}
	s.hooks.OnError(err, s.signal, p)
}

func (s *Signaller) result() error {
	if len(s.failures) == 0 {
		return nil
	}
	return errors.Join(s.failures...)
}

// guard converts a panic raised while handling one process into an error so
// that one process cannot abort the batch.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic while signalling: %w", e)
				return
			}
			err = fmt.Errorf("panic while signalling: %v", r)
		}
	}()
	return fn()
}
