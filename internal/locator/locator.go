// Package locator finds running processes by parsing process table output
// and reducing it through include, exclude and predicate filters.
package locator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Table produces the raw process table, one process per line.
type Table interface {
	List(ctx context.Context) ([]string, error)
}

// Predicate reports whether a record should be kept.
type Predicate func(Record) bool

// Locator holds the filter chain applied to each table dump.
// It is not safe for concurrent configuration.
type Locator struct {
	table    Table
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
	filters  []Predicate
}

func New(table Table) *Locator { return &Locator{table: table} }

// Include adds a pattern that every located command line must match.
func (l *Locator) Include(re *regexp.Regexp) { l.includes = append(l.includes, re) }

// Exclude adds a pattern; command lines matching any exclude are dropped.
func (l *Locator) Exclude(re *regexp.Regexp) { l.excludes = append(l.excludes, re) }

// Filter adds a predicate that every located record must satisfy.
func (l *Locator) Filter(p Predicate) { l.filters = append(l.filters, p) }

func (l *Locator) MemoryGreaterThan(bytes int64) {
	l.Filter(func(r Record) bool { return r.Memory > bytes })
}

func (l *Locator) CPUGreaterThan(percent float64) {
	l.Filter(func(r Record) bool { return r.CPU > percent })
}

func (l *Locator) AliveLongerThan(seconds int64) {
	l.Filter(func(r Record) bool { return r.SecondsAlive > seconds })
}

// Includes returns the registered include patterns.
func (l *Locator) Includes() []*regexp.Regexp { return append([]*regexp.Regexp(nil), l.includes...) }

// Excludes returns the registered exclude patterns.
func (l *Locator) Excludes() []*regexp.Regexp { return append([]*regexp.Regexp(nil), l.excludes...) }

// Locate dumps the process table and returns the records passing every
// include, no exclude and every predicate, in table order. A line that
// fails to parse aborts the whole call.
func (l *Locator) Locate(ctx context.Context) ([]Record, error) {
	lines, err := l.table.List(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]Record, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		all = append(all, rec)
	}

	var out []Record
	for _, rec := range all {
		if l.keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *Locator) keep(r Record) bool {
	for _, re := range l.includes {
		if !re.MatchString(r.Command) {
			return false
		}
	}
	for _, re := range l.excludes {
		if re.MatchString(r.Command) {
			return false
		}
	}
	for _, p := range l.filters {
		if !p(r) {
			return false
		}
	}
	return true
}
