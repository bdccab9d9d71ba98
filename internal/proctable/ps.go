package proctable

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/snipr/internal/runner"
)

const kib = 1024

// PSTable reads the process table through the ps utility.
type PSTable struct {
	Runner runner.CommandRunner
	// Path of the ps binary; "ps" when empty.
	Path string
}

func NewPSTable(r runner.CommandRunner) *PSTable {
	if r == nil {
		r = runner.ExecRunner{}
	}
	return &PSTable{Runner: r}
}

func (t *PSTable) bin() string {
	if t.Path == "" {
		return "ps"
	}
	return t.Path
}

// List runs ps for every process. ps reports rss in KiB; List rewrites the
// memory column to bytes.
func (t *PSTable) List(ctx context.Context) ([]string, error) {
	out, err := t.Runner.Run(ctx, t.bin(), "-eo", "pid=,ppid=,rss=,%cpu=,etime=,args=")
	if err != nil {
		return nil, err
	}
	lines := runner.Lines(out)
	res := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		res = append(res, rssToBytes(line))
	}
	return res, nil
}

// Describe runs ps scoped to pid. ps exits with status 1 and prints nothing
// when the pid is gone; that is reported as ErrNotFound.
func (t *PSTable) Describe(ctx context.Context, pid int) (Description, error) {
	out, err := t.Runner.Run(ctx, t.bin(), "-o", "ppid=,args=", "-p", strconv.Itoa(pid))
	if err != nil {
		if code, ok := runner.ExitStatus(err); ok && code == 1 && strings.TrimSpace(string(out)) == "" {
			return Description{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
		}
		return Description{}, err
	}
	return parseDescription(pid, string(out))
}

// rssToBytes scales the third column. Lines whose memory column is not an
// integer are returned untouched so the locator reports them as malformed.
func rssToBytes(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return line
	}
	n, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return line
	}
	fields[2] = strconv.FormatInt(n*kib, 10)
	return strings.Join(fields, " ")
}
