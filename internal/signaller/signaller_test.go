package signaller

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"syscall"
	"testing"

	"github.com/loykin/snipr/internal/locator"
	"github.com/loykin/snipr/internal/proctable"
	"github.com/loykin/snipr/internal/runner"
	"github.com/loykin/snipr/internal/signals"
)

type staticTable []string

func (t staticTable) List(context.Context) ([]string, error) { return t, nil }

type errTable struct{ err error }

func (t errTable) List(context.Context) ([]string, error) { return nil, t.err }

// describer answers Describe from a map; missing pids have exited.
type describer struct {
	live  map[int]proctable.Description
	calls int
}

func (d *describer) Describe(_ context.Context, pid int) (proctable.Description, error) {
	d.calls++
	desc, ok := d.live[pid]
	if !ok {
		return proctable.Description{}, proctable.ErrNotFound
	}
	return desc, nil
}

type kill struct {
	pid int
	sig syscall.Signal
}

type killRecorder struct {
	kills []kill
	fail  map[int]error
}

func (k *killRecorder) Kill(pid int, sig syscall.Signal) error {
	if err := k.fail[pid]; err != nil {
		return err
	}
	k.kills = append(k.kills, kill{pid: pid, sig: sig})
	return nil
}

func (k *killRecorder) pids() []int {
	out := make([]int, 0, len(k.kills))
	for _, c := range k.kills {
		out = append(out, c.pid)
	}
	return out
}

type match struct {
	sig    syscall.Signal
	ppid   int
	prefix string
}

type matchRecorder struct {
	calls []match
	err   error
}

func (m *matchRecorder) SignalIfMatches(_ context.Context, sig syscall.Signal, ppid int, prefix string) error {
	m.calls = append(m.calls, match{sig: sig, ppid: ppid, prefix: prefix})
	return m.err
}

type hookLog struct {
	none    int
	before  []int
	after   []int
	skipped []int
	errs    []error
	errPIDs []int
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnNoProcesses: func() { h.none++ },
		BeforeSignal:  func(_ syscall.Signal, p locator.Record) { h.before = append(h.before, p.PID) },
		AfterSignal:   func(_ syscall.Signal, p locator.Record) { h.after = append(h.after, p.PID) },
		OnSkipped:     func(_ syscall.Signal, p locator.Record) { h.skipped = append(h.skipped, p.PID) },
		OnError: func(err error, _ syscall.Signal, p *locator.Record) {
			h.errs = append(h.errs, err)
			pid := 0
			if p != nil {
				pid = p.PID
			}
			h.errPIDs = append(h.errPIDs, pid)
		},
	}
}

// fixture builds a table listing procs and a describer reporting them alive
// and unchanged.
func fixture(procs ...proctable.Description) (staticTable, *describer) {
	tbl := staticTable{}
	d := &describer{live: map[int]proctable.Description{}}
	for _, p := range procs {
		tbl = append(tbl, proctable.FormatLine(p.PID, p.PPID, 4096, 1.5, "01:00", p.Command))
		d.live[p.PID] = p
	}
	return tbl, d
}

var (
	procA = proctable.Description{PID: 101, PPID: 1, Command: "worker --queue a"}
	procB = proctable.Description{PID: 102, PPID: 1, Command: "worker --queue b"}
	procC = proctable.Description{PID: 103, PPID: 50, Command: "worker --queue c"}
)

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSendSignalsKillsEveryLocatedProcess(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	k := &killRecorder{}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if !equalInts(k.pids(), []int{101, 102, 103}) {
		t.Fatalf("killed %v", k.pids())
	}
	for _, c := range k.kills {
		if c.sig != syscall.SIGTERM {
			t.Fatalf("unexpected signal %v", c.sig)
		}
	}
	if !equalInts(h.before, []int{101, 102, 103}) || !equalInts(h.after, []int{101, 102, 103}) {
		t.Fatalf("hooks before=%v after=%v", h.before, h.after)
	}
	if d.calls != 3 {
		t.Fatalf("expected one verification per process, got %d", d.calls)
	}
}

func TestSendSignalsDryRunSendsNothing(t *testing.T) {
	tbl, d := fixture(procA, procB)
	k := &killRecorder{}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "KILL", DryRun: true}, h.hooks(), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if len(k.kills) != 0 || d.calls != 0 {
		t.Fatalf("dry run touched processes: kills=%v describes=%d", k.kills, d.calls)
	}
	if !equalInts(h.before, []int{101, 102}) || !equalInts(h.after, []int{101, 102}) {
		t.Fatalf("hooks before=%v after=%v", h.before, h.after)
	}
}

func TestSendSignalsIsolatesPerProcessFailures(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	k := &killRecorder{fail: map[int]error{102: syscall.EPERM}}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("errors should go to OnError, got %v", err)
	}
	if !equalInts(k.pids(), []int{101, 103}) {
		t.Fatalf("killed %v", k.pids())
	}
	if !equalInts(h.before, []int{101, 102, 103}) || !equalInts(h.after, []int{101, 103}) {
		t.Fatalf("hooks before=%v after=%v", h.before, h.after)
	}
	if len(h.errs) != 1 || h.errPIDs[0] != 102 || !errors.Is(h.errs[0], syscall.EPERM) {
		t.Fatalf("unexpected errors %v for pids %v", h.errs, h.errPIDs)
	}
}

func TestSendSignalsDefaultErrorHandlingJoins(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	k := &killRecorder{fail: map[int]error{101: syscall.EPERM, 103: syscall.ESRCH}}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, Hooks{}, WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.SendSignals(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, syscall.EPERM) || !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("joined error lost a cause: %v", err)
	}
	if !equalInts(k.pids(), []int{102}) {
		t.Fatalf("killed %v", k.pids())
	}

	// a clean run afterwards does not report old failures
	k.fail = nil
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestSendSignalsSkipsChangedProcesses(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	d.live[101] = proctable.Description{PID: 101, PPID: 1, Command: "postgres: idle"}
	delete(d.live, 102)
	d.live[103] = proctable.Description{PID: 103, PPID: 1, Command: procC.Command}
	k := &killRecorder{}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if len(k.kills) != 0 {
		t.Fatalf("changed processes were signalled: %v", k.pids())
	}
	if !equalInts(h.skipped, []int{101, 102, 103}) {
		t.Fatalf("skipped %v", h.skipped)
	}
	if !equalInts(h.after, []int{101, 102, 103}) || len(h.errs) != 0 {
		t.Fatalf("after=%v errs=%v", h.after, h.errs)
	}
}

func TestSendSignalsVerificationError(t *testing.T) {
	tbl := staticTable{proctable.FormatLine(101, 1, 0, 0, "00:01", "worker")}
	boom := errors.New("ps exploded")
	d := describerFunc(func(context.Context, int) (proctable.Description, error) {
		return proctable.Description{}, boom
	})
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(&killRecorder{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s.SendSignals(context.Background())
	if len(h.errs) != 1 || !errors.Is(h.errs[0], boom) {
		t.Fatalf("unexpected errors %v", h.errs)
	}
}

type describerFunc func(context.Context, int) (proctable.Description, error)

func (f describerFunc) Describe(ctx context.Context, pid int) (proctable.Description, error) {
	return f(ctx, pid)
}

func TestSendSignalsTargetParent(t *testing.T) {
	tbl, d := fixture(procA, procC)
	k := &killRecorder{}
	s, err := New(locator.New(tbl), d, Options{Signal: "HUP", TargetParent: true}, Hooks{}, WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if !equalInts(k.pids(), []int{1, 50}) {
		t.Fatalf("expected parents to be signalled, got %v", k.pids())
	}

	s.TargetParent(false)
	k.kills = nil
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if !equalInts(k.pids(), []int{101, 103}) {
		t.Fatalf("expected processes to be signalled, got %v", k.pids())
	}
}

func TestSendSignalsNoProcesses(t *testing.T) {
	tbl, d := fixture(procA)
	k := &killRecorder{}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Include(regexp.MustCompile(`nothing-matches-this`))
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if h.none != 1 || len(h.before) != 0 || len(k.kills) != 0 {
		t.Fatalf("none=%d before=%v kills=%v", h.none, h.before, k.kills)
	}
}

func TestSendSignalsLocateFailure(t *testing.T) {
	boom := errors.New("ps: exit status 1")
	h := &hookLog{}
	s, err := New(locator.New(errTable{err: boom}), &describer{}, Options{Signal: "TERM"}, h.hooks())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("expected OnError to receive failure, got %v", err)
	}
	if len(h.errs) != 1 || h.errPIDs[0] != 0 || !errors.Is(h.errs[0], boom) {
		t.Fatalf("errs=%v pids=%v", h.errs, h.errPIDs)
	}
	if h.none != 0 {
		t.Fatal("OnNoProcesses must not fire when locating failed")
	}

	s.SetHooks(Hooks{})
	if err := s.SendSignals(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected locate error to be returned, got %v", err)
	}
}

func TestSendSignalsHookPanicIsIsolated(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	k := &killRecorder{}
	h := &hookLog{}
	hooks := h.hooks()
	hooks.BeforeSignal = func(_ syscall.Signal, p locator.Record) {
		if p.PID == 102 {
			panic("bad hook")
		}
	}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, hooks, WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if !equalInts(k.pids(), []int{101, 103}) {
		t.Fatalf("killed %v", k.pids())
	}
	if len(h.errs) != 1 || h.errPIDs[0] != 102 || !strings.Contains(h.errs[0].Error(), "bad hook") {
		t.Fatalf("errs=%v pids=%v", h.errs, h.errPIDs)
	}
}

func TestSendSignalsKillerPanicIsIsolated(t *testing.T) {
	tbl, d := fixture(procA, procB, procC)
	errBoom := errors.New("boom")
	var killed []int
	killer := KillerFunc(func(pid int, _ syscall.Signal) error {
		if pid == 101 {
			panic(errBoom)
		}
		killed = append(killed, pid)
		return nil
	})
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM"}, h.hooks(), WithKiller(killer))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if !equalInts(killed, []int{102, 103}) {
		t.Fatalf("killed %v", killed)
	}
	if len(h.errs) != 1 || h.errPIDs[0] != 101 {
		t.Fatalf("errs=%v pids=%v", h.errs, h.errPIDs)
	}
	if !errors.Is(h.errs[0], errBoom) || !strings.Contains(h.errs[0].Error(), "panic while signalling") {
		t.Fatalf("unexpected error %v", h.errs[0])
	}
}

func TestNewRejectsUnknownSignal(t *testing.T) {
	_, err := New(locator.New(staticTable{}), &describer{}, Options{Signal: "NOPE"}, Hooks{})
	if !errors.Is(err, signals.ErrUnknownSignal) {
		t.Fatalf("expected ErrUnknownSignal, got %v", err)
	}
}

func TestSetSignal(t *testing.T) {
	s, err := New(locator.New(staticTable{}), &describer{}, Options{Signal: "TERM"}, Hooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetSignal("9"); err != nil || s.Signal() != syscall.SIGKILL {
		t.Fatalf("SetSignal(9): %v %v", s.Signal(), err)
	}
	if err := s.SetSignal("bogus"); err == nil || s.Signal() != syscall.SIGKILL {
		t.Fatalf("failed SetSignal must keep the old signal: %v %v", s.Signal(), err)
	}
}

func TestVerifiedDispatchUsesMatcher(t *testing.T) {
	tbl, d := fixture(procA, procC)
	m := &matchRecorder{}
	k := &killRecorder{}
	s, err := New(locator.New(tbl), d, Options{Signal: "USR1", VerifiedDispatch: true, TargetParent: true}, Hooks{},
		WithMatcher(m), WithKiller(k))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	want := []match{
		{sig: syscall.SIGUSR1, ppid: 1, prefix: procA.Command},
		{sig: syscall.SIGUSR1, ppid: 50, prefix: procC.Command},
	}
	if len(m.calls) != len(want) {
		t.Fatalf("matcher calls %v", m.calls)
	}
	for i := range want {
		if m.calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, m.calls[i], want[i])
		}
	}
	if len(k.kills) != 0 || d.calls != 0 {
		t.Fatalf("verified dispatch must not use kill or describe: kills=%v describes=%d", k.kills, d.calls)
	}
}

func TestVerifiedDispatchMatcherError(t *testing.T) {
	tbl, d := fixture(procA)
	m := &matchRecorder{err: errors.New("pkill: exit status 3")}
	h := &hookLog{}
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM", VerifiedDispatch: true}, h.hooks(), WithMatcher(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s.SendSignals(context.Background())
	if len(h.errs) != 1 || h.errPIDs[0] != 101 || len(h.after) != 0 {
		t.Fatalf("errs=%v after=%v", h.errs, h.after)
	}
}

func TestVerifiedDispatchRequiresPkill(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("not found") }
	_, err := New(locator.New(staticTable{}), &describer{}, Options{Signal: "TERM", VerifiedDispatch: true}, Hooks{},
		WithLookPath(missing))
	if !errors.Is(err, ErrMatcherUnavailable) {
		t.Fatalf("expected ErrMatcherUnavailable, got %v", err)
	}

	s, err := New(locator.New(staticTable{}), &describer{}, Options{Signal: "TERM"}, Hooks{}, WithLookPath(missing))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.VerifiedDispatch(); !errors.Is(err, ErrMatcherUnavailable) {
		t.Fatalf("expected ErrMatcherUnavailable from setter, got %v", err)
	}
}

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	err   error
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return nil, f.err
}

func TestVerifiedDispatchRunsPkill(t *testing.T) {
	tbl, d := fixture(proctable.Description{PID: 200, PPID: 7, Command: "ruby app.rb (worker)"})
	r := &fakeRunner{}
	found := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	s, err := New(locator.New(tbl), d, Options{Signal: "TERM", VerifiedDispatch: true}, Hooks{},
		WithRunner(r), WithLookPath(found))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendSignals(context.Background()); err != nil {
		t.Fatalf("SendSignals: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected one pkill call, got %v", r.calls)
	}
	got := r.calls[0]
	want := []string{"--signal", "15", "-P", "7", "-f", `^ruby app\.rb \(worker\)`}
	if got.name != "/usr/bin/pkill" || strings.Join(got.args, "|") != strings.Join(want, "|") {
		t.Fatalf("pkill invoked as %s %q", got.name, got.args)
	}
}

func TestPkillMatcherExitCodes(t *testing.T) {
	r := &fakeRunner{err: &runner.ExecError{Command: "pkill", ExitCode: 1}}
	m := PkillMatcher{Runner: r, Path: "pkill"}
	if err := m.SignalIfMatches(context.Background(), syscall.SIGTERM, 1, "x"); err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}

	r.err = &runner.ExecError{Command: "pkill", ExitCode: 2, Stderr: []byte("syntax error")}
	if err := m.SignalIfMatches(context.Background(), syscall.SIGTERM, 1, "x"); err == nil {
		t.Fatal("expected error for exit status 2")
	}
}

func TestFacadeDelegatesToLocator(t *testing.T) {
	loc := locator.New(staticTable{})
	s, err := New(loc, &describer{}, Options{Signal: "TERM"}, Hooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Include(regexp.MustCompile("a"))
	s.Exclude(regexp.MustCompile("b"))
	s.Exclude(regexp.MustCompile("c"))
	if len(loc.Includes()) != 1 || len(loc.Excludes()) != 2 {
		t.Fatalf("includes=%d excludes=%d", len(loc.Includes()), len(loc.Excludes()))
	}
}
