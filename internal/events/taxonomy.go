// Package events defines the event taxonomy for the tracker's append-only
// activity log and normalizes raw records into typed events.
//
// The taxonomy provides:
//   - Canonical event kinds (created, status_changed, deleted, other)
//   - Backward-compatible mapping of the tracker's raw kind strings
//   - Per-record normalization that skips malformed records instead of
//     failing a whole batch
//
// # Raw kind mapping
//
// The tracker emits short action strings in its activity log. They map to
// canonical kinds as follows:
//   - 'create' → created
//   - 'status' → status_changed
//   - 'closed' → status_changed to closed (the tracker logs terminal
//     closes as a distinct kind without old/new statuses)
//   - 'reopened' → status_changed to open
//   - 'delete', 'soft_delete', 'tombstone' → deleted
//   - everything else ('update', 'commented', 'dependency_added',
//     'label_added', 'compacted', future kinds) → other
//
// Mapping unknown kinds to 'other' rather than rejecting them tolerates
// schema drift on the tracker side: new event kinds still count toward
// activity metrics without breaking reconstruction.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcus/nacre/internal/models"
)

// RawRecord is one loosely typed entry of the tracker's activity log,
// exactly as it crosses the process boundary.
type RawRecord struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	IssueID   string `json:"issue_id"`
	Message   string `json:"message,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
}

// timestampFormats are the layouts the tracker is known to emit: RFC 3339
// from the CLI export and the bare sqlite datetime from the database file.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// NormalizeKind maps a raw tracker kind string to a canonical EventKind.
func NormalizeKind(raw string) models.EventKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create", "created":
		return models.EventCreated
	case "status", "status_changed":
		return models.EventStatusChanged
	case "closed", "reopened":
		// Terminal close / reopen records carry the transition implicitly;
		// Normalize fills in the destination status.
		return models.EventStatusChanged
	case "delete", "soft_delete", "tombstone", "deleted":
		return models.EventDeleted
	default:
		return models.EventOther
	}
}

// ParseTimestamp parses a raw tracker timestamp in any known layout.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// Normalize converts one raw record into a typed Event. It is a pure
// function; a malformed record (missing issue id, unparseable timestamp)
// returns an error and the caller decides whether to skip or abort.
func Normalize(rec RawRecord, seq int) (models.Event, error) {
	if strings.TrimSpace(rec.IssueID) == "" {
		return models.Event{}, fmt.Errorf("record %d: missing issue id", seq)
	}

	at, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return models.Event{}, fmt.Errorf("record %d (%s): %w", seq, rec.IssueID, err)
	}

	ev := models.Event{
		IssueID: strings.TrimSpace(rec.IssueID),
		Kind:    NormalizeKind(rec.Type),
		At:      at,
		Seq:     seq,
	}

	if ev.Kind == models.EventStatusChanged {
		if rec.OldStatus != "" {
			ev.From = models.NormalizeStatus(rec.OldStatus)
		}
		switch strings.ToLower(strings.TrimSpace(rec.Type)) {
		case "closed":
			ev.To = models.StatusClosed
		case "reopened":
			ev.To = models.StatusOpen
		default:
			if rec.NewStatus == "" {
				// A status record with no destination carries no usable
				// transition; downgrade it to the catch-all kind.
				ev.Kind = models.EventOther
				ev.From = ""
			} else {
				ev.To = models.NormalizeStatus(rec.NewStatus)
			}
		}
	}

	return ev, nil
}
