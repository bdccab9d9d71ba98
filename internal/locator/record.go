package locator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	daySeconds    = 86400
	hourSeconds   = 3600
	minuteSeconds = 60
)

// ErrMalformedLine is returned when a process table line cannot be parsed.
var ErrMalformedLine = errors.New("malformed process table line")

// Record is a point-in-time snapshot of one process as reported by the
// process table. It is never updated after Locate returns it and may no
// longer describe a live process by the time it is acted upon.
type Record struct {
	PID          int     `json:"pid"`
	PPID         int     `json:"ppid"`
	Memory       int64   `json:"memory"` // resident bytes
	CPU          float64 `json:"cpu"`
	Elapsed      string  `json:"etime"`
	SecondsAlive int64   `json:"seconds_alive"`
	Command      string  `json:"command"`
}

// ParseLine parses one process table line of the form
//
//	pid ppid memory cpu etime command [args...]
//
// The command and its arguments are re-joined with single spaces.
func ParseLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Record{}, fmt.Errorf("%w: expected at least 6 fields, got %d: %q", ErrMalformedLine, len(fields), line)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: pid %q: %v", ErrMalformedLine, fields[0], err)
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: ppid %q: %v", ErrMalformedLine, fields[1], err)
	}
	mem, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: memory %q: %v", ErrMalformedLine, fields[2], err)
	}
	if mem < 0 {
		return Record{}, fmt.Errorf("%w: negative memory %q", ErrMalformedLine, fields[2])
	}
	cpu, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: cpu %q: %v", ErrMalformedLine, fields[3], err)
	}
	if cpu < 0 || math.IsNaN(cpu) {
		return Record{}, fmt.Errorf("%w: cpu %q out of range", ErrMalformedLine, fields[3])
	}
	return Record{
		PID:          pid,
		PPID:         ppid,
		Memory:       mem,
		CPU:          cpu,
		Elapsed:      fields[4],
		SecondsAlive: ParseSeconds(fields[4]),
		Command:      strings.Join(fields[5:], " "),
	}, nil
}

// ParseSeconds converts a ps etime value ([[dd-]hh:]mm:ss) into seconds.
// Missing day, hour or minute components count as zero.
func ParseSeconds(etime string) int64 {
	var days int64
	clock := etime
	if d, rest, ok := strings.Cut(etime, "-"); ok {
		days = atoi64(d)
		clock = rest
	}
	parts := strings.Split(clock, ":")
	// scan from the right: seconds, minutes, hours
	units := []int64{1, minuteSeconds, hourSeconds}
	total := days * daySeconds
	for i := 0; i < len(units) && i < len(parts); i++ {
		total += atoi64(parts[len(parts)-1-i]) * units[i]
	}
	return total
}

// FormatElapsed renders seconds in the ps etime encoding.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / daySeconds
	seconds %= daySeconds
	hours := seconds / hourSeconds
	seconds %= hourSeconds
	mins := seconds / minuteSeconds
	secs := seconds % minuteSeconds
	switch {
	case days > 0:
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
	default:
		return fmt.Sprintf("%02d:%02d", mins, secs)
	}
}

func atoi64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
