package history

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/signaller"
	"github.com/loykin/snipr/internal/signals"
)

// DefaultSendTimeout bounds a single sink write.
const DefaultSendTimeout = 5 * time.Second

// Recorder turns signaller hooks into history events. A failing sink is
// logged and never interrupts signalling.
type Recorder struct {
	sink    Sink
	log     *slog.Logger
	runID   string
	dryRun  bool
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(sink Sink, dryRun bool, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		sink:    sink,
		log:     log,
		runID:   uuid.NewString(),
		dryRun:  dryRun,
		timeout: DefaultSendTimeout,
		now:     time.Now,
	}
}

// RunID identifies every event written by this recorder.
func (r *Recorder) RunID() string { return r.runID }

// Hooks returns signaller hooks that record each stage. The returned
// OnError records but does not otherwise handle errors, so it should be
// chained with a handler that does.
func (r *Recorder) Hooks(ctx context.Context) signaller.Hooks {
	return signaller.Hooks{
		OnNoProcesses: func() {
			r.emit(ctx, EventNoProcesses, 0, nil, nil)
		},
		BeforeSignal: func(sig syscall.Signal, p locator.Record) {
			r.emit(ctx, EventBeforeSignal, sig, &p, nil)
		},
		AfterSignal: func(sig syscall.Signal, p locator.Record) {
			r.emit(ctx, EventAfterSignal, sig, &p, nil)
		},
		OnSkipped: func(sig syscall.Signal, p locator.Record) {
			r.emit(ctx, EventSkipped, sig, &p, nil)
		},
		OnError: func(err error, sig syscall.Signal, p *locator.Record) {
			r.emit(ctx, EventError, sig, p, err)
		},
	}
}

func (r *Recorder) emit(ctx context.Context, t EventType, sig syscall.Signal, p *locator.Record, err error) {
	e := Event{
		Type:       t,
		OccurredAt: r.now().UTC(),
		RunID:      r.runID,
		DryRun:     r.dryRun,
		Record:     p,
	}
	if sig != 0 {
		e.Signal = signals.Name(sig)
	}
	if err != nil {
		e.Error = err.Error()
	}
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if serr := r.sink.Send(sctx, e); serr != nil {
		r.log.Warn("Failed to record history event", "event", string(t), "error", serr)
	}
}
