package proctable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/snipr/internal/locator"
)

// NativeTable reads the process table without shelling out, using gopsutil
// and /proc. It emits the same line format as PSTable.
type NativeTable struct {
	now func() time.Time
}

func NewNativeTable() *NativeTable { return &NativeTable{now: time.Now} }

func (t *NativeTable) List(ctx context.Context) ([]string, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	now := t.now().Unix()
	lines := make([]string, 0, len(procs))
	for _, p := range procs {
		line, ok := t.line(ctx, p, now)
		if !ok {
			// exited while the table was being read
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (t *NativeTable) line(ctx context.Context, p *gopsproc.Process, now int64) (string, bool) {
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return "", false
	}
	cmd, err := commandOf(ctx, p)
	if err != nil {
		return "", false
	}
	var rss int64
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		rss = int64(mi.RSS)
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	var elapsed int64
	if start := getProcStartUnix(ctx, int(p.Pid)); start > 0 && start <= now {
		elapsed = now - start
	}
	return FormatLine(int(p.Pid), int(ppid), rss, cpu, locator.FormatElapsed(elapsed), cmd), true
}

func (t *NativeTable) Describe(ctx context.Context, pid int) (Description, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return Description{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
		}
		return Description{}, err
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return Description{}, notFoundIfGone(ctx, pid, err)
	}
	cmd, err := commandOf(ctx, p)
	if err != nil {
		return Description{}, notFoundIfGone(ctx, pid, err)
	}
	return Description{PID: pid, PPID: int(ppid), Command: cmd}, nil
}

// commandOf returns the normalized command line of p. Kernel threads have
// none; ps shows them as [name].
func commandOf(ctx context.Context, p *gopsproc.Process) (string, error) {
	cmd, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return "", err
	}
	if cmd = normalizeCommand(cmd); cmd != "" {
		return cmd, nil
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", err
	}
	return "[" + name + "]", nil
}

// notFoundIfGone maps a read error to ErrNotFound when the process exited
// between lookup and read.
func notFoundIfGone(ctx context.Context, pid int, err error) error {
	if ok, _ := gopsproc.PidExistsWithContext(ctx, int32(pid)); !ok {
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	return err
}

func normalizeCommand(cmd string) string { return strings.Join(strings.Fields(cmd), " ") }
