// Package signals resolves signal names to platform signal values.
package signals

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrUnknownSignal is returned by Lookup for names the platform does not define.
var ErrUnknownSignal = errors.New("unknown signal")

// maxSignal bounds the catalog scan; covers the Linux realtime range.
const maxSignal = 64

// Lookup resolves a case-insensitive signal name ("usr1", "SIGUSR1") or a
// decimal signal number to the platform signal.
func Lookup(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownSignal)
	}
	if num, err := strconv.Atoi(n); err == nil {
		sig := syscall.Signal(num)
		if num > 0 && unix.SignalName(sig) != "" {
			return sig, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	if sig := unix.SignalNum(n); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
}

// Name returns the canonical SIG-prefixed name, or the number when unknown.
func Name(sig syscall.Signal) string {
	if n := unix.SignalName(sig); n != "" {
		return n
	}
	return strconv.Itoa(int(sig))
}

// List returns every signal name the platform defines, ordered by number.
func List() []string {
	type entry struct {
		num  int
		name string
	}
	var entries []entry
	for i := 1; i <= maxSignal; i++ {
		if n := unix.SignalName(syscall.Signal(i)); n != "" {
			entries = append(entries, entry{num: i, name: n})
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].num < entries[b].num })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.name)
	}
	return out
}
