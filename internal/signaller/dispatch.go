package signaller

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"syscall"

	"github.com/loykin/snipr/internal/proctable"
	"github.com/loykin/snipr/internal/runner"
)

// ErrMatcherUnavailable is returned at configuration time when verified
// dispatch is requested but the match-and-signal utility cannot be found.
var ErrMatcherUnavailable = errors.New("match-and-signal utility not available")

const pkillBinary = "pkill"

// Describer re-reads the live identity of a single process.
type Describer interface {
	Describe(ctx context.Context, pid int) (proctable.Description, error)
}

// Killer delivers a signal to a pid.
type Killer interface {
	Kill(pid int, sig syscall.Signal) error
}

// KillerFunc adapts a function to Killer.
type KillerFunc func(pid int, sig syscall.Signal) error

func (f KillerFunc) Kill(pid int, sig syscall.Signal) error { return f(pid, sig) }

// SyscallKiller sends signals with kill(2).
type SyscallKiller struct{}

func (SyscallKiller) Kill(pid int, sig syscall.Signal) error { return syscall.Kill(pid, sig) }

// Matcher signals, as one external operation, only a process whose parent is
// ppid and whose live command line starts with prefix. Finding no such
// process is not an error.
type Matcher interface {
	SignalIfMatches(ctx context.Context, sig syscall.Signal, ppid int, prefix string) error
}

// PkillMatcher implements Matcher with pkill(1).
type PkillMatcher struct {
	Runner runner.CommandRunner
	Path   string
}

func (m PkillMatcher) SignalIfMatches(ctx context.Context, sig syscall.Signal, ppid int, prefix string) error {
	r := m.Runner
	if r == nil {
		r = runner.ExecRunner{}
	}
	_, err := r.Run(ctx, m.Path,
		"--signal", strconv.Itoa(int(sig)),
		"-P", strconv.Itoa(ppid),
		"-f", "^"+regexp.QuoteMeta(prefix),
	)
	if code, ok := runner.ExitStatus(err); ok && code == 1 {
		// pkill: no processes matched
		return nil
	}
	return err
}

// FindPkill resolves the pkill binary using lookPath (exec.LookPath when nil).
func FindPkill(lookPath func(string) (string, error)) (string, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	p, err := lookPath(pkillBinary)
	if err != nil || p == "" {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrMatcherUnavailable, pkillBinary)
	}
	return p, nil
}
