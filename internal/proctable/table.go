// Package proctable provides process table sources for the locator and
// live single-process lookups for the signaller's verification step.
package proctable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned by Describe when the process no longer exists.
var ErrNotFound = errors.New("process not found")

// Description is the live identity of a process used to verify a snapshot.
type Description struct {
	PID     int
	PPID    int
	Command string
}

// Table lists processes and describes single processes.
type Table interface {
	// List returns one line per process: pid ppid memory cpu etime command...
	List(ctx context.Context) ([]string, error)
	// Describe re-reads the live parent pid and command line of pid.
	Describe(ctx context.Context, pid int) (Description, error)
}

// FormatLine renders one process in the line format consumed by the locator.
func FormatLine(pid, ppid int, memory int64, cpu float64, etime, command string) string {
	return fmt.Sprintf("%d %d %d %.1f %s %s", pid, ppid, memory, cpu, etime, command)
}

// parseDescription parses "ppid command..." as printed by ps -o ppid=,args=.
func parseDescription(pid int, text string) (Description, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Description{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	ppid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Description{}, fmt.Errorf("pid %d: invalid ppid %q: %w", pid, fields[0], err)
	}
	return Description{PID: pid, PPID: ppid, Command: strings.Join(fields[1:], " ")}, nil
}
