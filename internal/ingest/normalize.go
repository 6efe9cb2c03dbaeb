package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MalformedRowError marks one export row that could not be normalized.
// It is logged and counted by the runner; it never aborts a batch.
type MalformedRowError struct {
	Line   int
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at line %d: %s", e.Line, e.Reason)
}

// Export columns. message_id and event_type are always required; a row
// additionally needs either a date (historical exports) or a timestamp
// (full exports, from which date and hour bucket are derived).
const (
	colMessageID   = "message_id"
	colEventType   = "event_type"
	colDate        = "date"
	colTimestamp   = "timestamp"
	colAgent       = "agent"
	colResponseMin = "response_minutes"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// RowSchema maps export header names onto field positions so column
// order in the CSV doesn't matter.
type RowSchema struct {
	idx map[string]int
}

// NewRowSchema builds a schema from the export header row.
func NewRowSchema(header []string) (*RowSchema, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := idx[colMessageID]; !ok {
		return nil, fmt.Errorf("export header missing %s column", colMessageID)
	}
	if _, ok := idx[colEventType]; !ok {
		return nil, fmt.Errorf("export header missing %s column", colEventType)
	}
	if _, okDate := idx[colDate]; !okDate {
		if _, okTS := idx[colTimestamp]; !okTS {
			return nil, fmt.Errorf("export header needs a %s or %s column", colDate, colTimestamp)
		}
	}
	return &RowSchema{idx: idx}, nil
}

func (s *RowSchema) field(rec []string, name string) string {
	i, ok := s.idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Normalize produces one Event from a raw export record, or a
// MalformedRowError describing why the row was unusable.
func (s *RowSchema) Normalize(line int, rec []string) (Event, error) {
	ev := Event{
		MessageID: s.field(rec, colMessageID),
		Agent:     s.field(rec, colAgent),
	}
	if ev.MessageID == "" {
		return Event{}, &MalformedRowError{Line: line, Reason: "missing message id"}
	}

	rawType := s.field(rec, colEventType)
	if rawType == "" {
		return Event{}, &MalformedRowError{Line: line, Reason: "missing event type"}
	}
	et, ok := ParseEventType(rawType)
	if !ok {
		return Event{}, &MalformedRowError{Line: line, Reason: fmt.Sprintf("unknown event type %q", rawType)}
	}
	ev.Type = et

	// Full exports carry a timestamp: date and hour bucket derive from
	// it. Historical exports carry only a date, and the hour stays nil.
	if ts := s.field(rec, colTimestamp); ts != "" {
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return Event{}, &MalformedRowError{Line: line, Reason: fmt.Sprintf("bad timestamp %q", ts)}
		}
		utc := parsed.UTC()
		ev.Date = utc.Format("2006-01-02")
		hour := utc.Hour()
		ev.Hour = &hour
	} else if d := s.field(rec, colDate); d != "" {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return Event{}, &MalformedRowError{Line: line, Reason: fmt.Sprintf("bad date %q", d)}
		}
		ev.Date = d
	} else {
		return Event{}, &MalformedRowError{Line: line, Reason: "missing date and timestamp"}
	}

	if rm := s.field(rec, colResponseMin); rm != "" && ev.Type == EventReplied {
		minutes, err := strconv.ParseFloat(rm, 64)
		if err != nil || minutes < 0 {
			return Event{}, &MalformedRowError{Line: line, Reason: fmt.Sprintf("bad response_minutes %q", rm)}
		}
		ev.ResponseMinutes = &minutes
	}

	return ev, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
