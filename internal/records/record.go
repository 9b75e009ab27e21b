// Package records defines the canonical service-log record and the lenient
// coercion rules every producer and consumer applies to raw input.
package records

import (
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/common"
)

// SchemaVersion is the payload schema this build understands.
const SchemaVersion = common.CurrentSchemaVersion

// Record is one logged event. Event and GoalID use "" for absent; Duration
// and Score use nil.
type Record struct {
	ID            int64
	Timestamp     string
	Student       string
	Service       string
	Duration      *float64
	Event         string
	Score         *float64
	GoalID        string
	DeviceID      string
	SchemaVersion int
	Reported      bool
}

// FormatTimestamp renders t in the stored second-resolution layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(common.TimestampLayout)
}

// ParseNumber parses s as a real number. Anything that does not parse,
// including the empty string, is absent. No range checks are applied.
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// FormatNumber is the inverse of ParseNumber used when writing batches.
func FormatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// RawRow holds one row of uncoerced cells in canonical column order.
type RawRow struct {
	Timestamp string
	Student   string
	Service   string
	Duration  string
	Event     string
	Score     string
	GoalID    string
	DeviceID  string
}

// RowFromCells maps positional cells timestamp, student, service, duration,
// event, score, goal_id, device_id. Missing trailing cells are empty.
func RowFromCells(cells []string) RawRow {
	at := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	return RawRow{
		Timestamp: at(0),
		Student:   at(1),
		Service:   at(2),
		Duration:  at(3),
		Event:     at(4),
		Score:     at(5),
		GoalID:    at(6),
		DeviceID:  at(7),
	}
}

// Map returns a copy of r with fn applied to every non-empty cell.
func (r RawRow) Map(fn func(string) string) RawRow {
	apply := func(s string) string {
		if s == "" {
			return s
		}
		return fn(s)
	}
	return RawRow{
		Timestamp: apply(r.Timestamp),
		Student:   apply(r.Student),
		Service:   apply(r.Service),
		Duration:  apply(r.Duration),
		Event:     apply(r.Event),
		Score:     apply(r.Score),
		GoalID:    apply(r.GoalID),
		DeviceID:  apply(r.DeviceID),
	}
}

// Record coerces the row. Numeric cells that fail to parse become absent and
// produce a Warning; the row itself is never rejected.
func (r RawRow) Record() (Record, []Warning) {
	var warnings []Warning

	num := func(field, s string) *float64 {
		s = strings.TrimSpace(s)
		v := ParseNumber(s)
		if v == nil && s != "" {
			warnings = append(warnings, Warning{Kind: WarnNumber, Field: field, Value: s})
		}
		return v
	}

	rec := Record{
		Timestamp:     strings.TrimSpace(r.Timestamp),
		Student:       strings.TrimSpace(r.Student),
		Service:       strings.TrimSpace(r.Service),
		Duration:      num("duration", r.Duration),
		Event:         strings.TrimSpace(r.Event),
		Score:         num("score", r.Score),
		GoalID:        strings.TrimSpace(r.GoalID),
		DeviceID:      strings.TrimSpace(r.DeviceID),
		SchemaVersion: SchemaVersion,
	}
	return rec, warnings
}
