package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/loykin/snipr/internal/locator"
)

// EventType defines the kind of signalling event.
type EventType string

const (
	EventNoProcesses  EventType = "no_processes"
	EventBeforeSignal EventType = "before_signal"
	EventAfterSignal  EventType = "after_signal"
	EventSkipped      EventType = "skipped"
	EventError        EventType = "error"
)

// Event is one audit entry of a signalling run. Record is nil for run-level
// events (no processes, locate failure).
type Event struct {
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	RunID      string          `json:"run_id"`
	Signal     string          `json:"signal"`
	DryRun     bool            `json:"dry_run"`
	Record     *locator.Record `json:"record,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Sink is a destination for history events (databases, search indexes).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Columns flattens the nullable parts of e for SQL sinks.
func (e Event) Columns() (pid, ppid sql.NullInt64, command, errText sql.NullString) {
	if e.Record != nil {
		pid = sql.NullInt64{Int64: int64(e.Record.PID), Valid: true}
		ppid = sql.NullInt64{Int64: int64(e.Record.PPID), Valid: true}
		command = sql.NullString{String: e.Record.Command, Valid: true}
	}
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	return pid, ppid, command, errText
}
