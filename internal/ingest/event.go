// Package ingest turns raw per-message CSV export rows into the
// deduplicated daily and hourly aggregates persisted by internal/db.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EventType classifies what happened to a message.
type EventType string

const (
	EventInbox     EventType = "Inbox"
	EventReplied   EventType = "Replied"
	EventCompleted EventType = "Completed"
	EventDeleted   EventType = "Deleted"
)

// ParseEventType maps a raw export value onto an EventType,
// case-insensitively. ok is false for anything outside the four
// known types.
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbox":
		return EventInbox, true
	case "replied":
		return EventReplied, true
	case "completed":
		return EventCompleted, true
	case "deleted":
		return EventDeleted, true
	}
	return "", false
}

// Event is one normalized message event. Hour is nil for historical
// rows that carry only a date; it is never fabricated.
type Event struct {
	Date      string
	Hour      *int
	Type      EventType
	MessageID string
	Agent     string

	// ResponseMinutes is set on Replied rows from full-data exports and
	// feeds response-time and SLA metrics.
	ResponseMinutes *float64
}

// DedupKey derives the deterministic deduplication key for this event:
// the hex SHA-256 of the message id and event type joined by a unit
// separator. The same message replayed across overlapping exports
// always yields the same key; distinct event types for one message
// yield distinct keys.
func (e Event) DedupKey() string {
	sum := sha256.Sum256([]byte(e.MessageID + "\x1f" + string(e.Type)))
	return hex.EncodeToString(sum[:])
}
