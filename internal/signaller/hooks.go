package signaller

import (
	"log/slog"
	"syscall"

	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/signals"
)

// Hooks are lifecycle callbacks invoked by SendSignals. Nil hooks are
// no-ops, except OnError: when it is nil, errors are returned from
// SendSignals instead.
type Hooks struct {
	OnNoProcesses func()
	BeforeSignal  func(sig syscall.Signal, p locator.Record)
	AfterSignal   func(sig syscall.Signal, p locator.Record)
	// OnSkipped fires when a process no longer matches its snapshot.
	// AfterSignal still fires for it.
	OnSkipped func(sig syscall.Signal, p locator.Record)
	// OnError receives a nil process for batch-level failures.
	OnError func(err error, sig syscall.Signal, p *locator.Record)
}

func (h Hooks) onNoProcesses() {
	if h.OnNoProcesses != nil {
		h.OnNoProcesses()
	}
}

func (h Hooks) beforeSignal(sig syscall.Signal, p locator.Record) {
	if h.BeforeSignal != nil {
		h.BeforeSignal(sig, p)
	}
}

func (h Hooks) afterSignal(sig syscall.Signal, p locator.Record) {
	if h.AfterSignal != nil {
		h.AfterSignal(sig, p)
	}
}

func (h Hooks) onSkipped(sig syscall.Signal, p locator.Record) {
	if h.OnSkipped != nil {
		h.OnSkipped(sig, p)
	}
}

// ChainHooks combines hooks; each callback runs the non-nil callbacks of hs
// in order. The chained OnError is nil only if every OnError in hs is nil.
func ChainHooks(hs ...Hooks) Hooks {
	var out Hooks
	var (
		none   []func()
		before []func(syscall.Signal, locator.Record)
		after  []func(syscall.Signal, locator.Record)
		skip   []func(syscall.Signal, locator.Record)
		onErr  []func(error, syscall.Signal, *locator.Record)
	)
	for _, h := range hs {
		if h.OnNoProcesses != nil {
			none = append(none, h.OnNoProcesses)
		}
		if h.BeforeSignal != nil {
			before = append(before, h.BeforeSignal)
		}
		if h.AfterSignal != nil {
			after = append(after, h.AfterSignal)
		}
		if h.OnSkipped != nil {
			skip = append(skip, h.OnSkipped)
		}
		if h.OnError != nil {
			onErr = append(onErr, h.OnError)
		}
	}
	if len(none) > 0 {
		out.OnNoProcesses = func() {
			for _, f := range none {
				f()
			}
		}
	}
	out.BeforeSignal = chainRecord(before)
	out.AfterSignal = chainRecord(after)
	out.OnSkipped = chainRecord(skip)
	if len(onErr) > 0 {
		out.OnError = func(err error, sig syscall.Signal, p *locator.Record) {
			for _, f := range onErr {
				f(err, sig, p)
			}
		}
	}
	return out
}

func chainRecord(fs []func(syscall.Signal, locator.Record)) func(syscall.Signal, locator.Record) {
	if len(fs) == 0 {
		return nil
	}
	return func(sig syscall.Signal, p locator.Record) {
		for _, f := range fs {
			f(sig, p)
		}
	}
}

// LogHooks reports every stage to log. dryRun only changes the wording.
func LogHooks(log *slog.Logger, dryRun bool) Hooks {
	prefix := ""
	if dryRun {
		prefix = "[dry run] "
	}
	return Hooks{
		OnNoProcesses: func() {
			log.Info(prefix + "No processes found")
		},
		BeforeSignal: func(sig syscall.Signal, p locator.Record) {
			log.Info(prefix+"Sending signal", "signal", signals.Name(sig), "pid", p.PID, "ppid", p.PPID, "command", p.Command)
		},
		AfterSignal: func(sig syscall.Signal, p locator.Record) {
			log.Info(prefix+"Signal sent", "signal", signals.Name(sig), "pid", p.PID)
		},
		OnSkipped: func(sig syscall.Signal, p locator.Record) {
			log.Warn(prefix+"Process no longer matches, not signalled", "signal", signals.Name(sig), "pid", p.PID, "command", p.Command)
		},
		OnError: func(err error, sig syscall.Signal, p *locator.Record) {
			if p == nil {
				log.Error(prefix+"Signalling failed", "signal", signals.Name(sig), "error", err)
				return
			}
			log.Error(prefix+"Signalling process failed", "signal", signals.Name(sig), "pid", p.PID, "command", p.Command, "error", err)
		},
	}
}
