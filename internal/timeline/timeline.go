// Package timeline replays an issue's event sequence into an ordered,
// non-overlapping sequence of status intervals.
//
// The reconstruction invariant: the intervals for one issue exactly
// partition the span from its creation (or first known event) to its
// deletion, or to "now" for issues still alive, with no gaps or overlaps.
package timeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/marcus/nacre/internal/models"
)

// Timeline is the reconstructed status history for one issue.
type Timeline struct {
	IssueID   string                  `json:"issue_id"`
	Intervals []models.StatusInterval `json:"intervals"`
	// Deleted is set when the event sequence ends with a deletion; the
	// final interval is closed at the deletion timestamp.
	Deleted bool `json:"deleted,omitempty"`
}

// Build replays the events for one issue into a Timeline.
//
// Events are sorted by timestamp with the original record order as the
// stable tie-break; source ordering is not trusted. The timeline is
// seeded with status open at the Created event or, when the tracker's
// log has been compacted and the Created record is gone, at the earliest
// known event. A StatusChanged whose from does not match the tracked
// status is not fatal: the to value wins and a consistency warning is
// logged, since the tracker has concurrent writers and history gaps.
func Build(issueID string, evs []models.Event) Timeline {
	tl := Timeline{IssueID: issueID}
	if len(evs) == 0 {
		return tl
	}

	sorted := make([]models.Event, len(evs))
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].At.Equal(sorted[j].At) {
			return sorted[i].At.Before(sorted[j].At)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	// Seed at the earliest event, Created or not: a compacted log may
	// have lost the create record.
	current := models.StatusOpen
	start := sorted[0].At

	for _, ev := range sorted {
		switch ev.Kind {
		case models.EventStatusChanged:
			if ev.To == current {
				continue
			}
			if ev.From != "" && ev.From != current {
				slog.Warn("inconsistent status history, trusting event",
					"issue", issueID, "tracked", current, "event_from", ev.From, "event_to", ev.To)
			}
			tl.Intervals = append(tl.Intervals, models.StatusInterval{
				Status: current,
				Start:  start,
				End:    ev.At,
			})
			current = ev.To
			start = ev.At

		case models.EventDeleted:
			tl.Intervals = append(tl.Intervals, models.StatusInterval{
				Status: current,
				Start:  start,
				End:    ev.At,
			})
			tl.Deleted = true
			// Terminal: nothing after a deletion is replayed.
			return tl
		}
	}

	// Leave the final interval open-ended; it closes at query time.
	tl.Intervals = append(tl.Intervals, models.StatusInterval{
		Status: current,
		Start:  start,
	})
	return tl
}

// BuildAll reconstructs timelines for every issue present in the event
// list, keyed by issue id.
func BuildAll(byIssue map[string][]models.Event) map[string]Timeline {
	out := make(map[string]Timeline, len(byIssue))
	for id, evs := range byIssue {
		out[id] = Build(id, evs)
	}
	return out
}

// CreatedAt returns the start of the first interval, the reconstructed
// creation time. Zero for an empty timeline.
func (tl Timeline) CreatedAt() time.Time {
	if len(tl.Intervals) == 0 {
		return time.Time{}
	}
	return tl.Intervals[0].Start
}

// FirstClosedAt returns the timestamp of the first transition into
// closed, or false when the issue never closed.
func (tl Timeline) FirstClosedAt() (time.Time, bool) {
	for _, iv := range tl.Intervals {
		if iv.Status == models.StatusClosed {
			return iv.Start, true
		}
	}
	return time.Time{}, false
}

// TerminalClosedAt returns the timestamp of the last transition into
// closed, set only while the issue is still closed. A reopened issue
// has no terminal close until it closes again.
func (tl Timeline) TerminalClosedAt() (time.Time, bool) {
	if n := len(tl.Intervals); n > 0 && tl.Intervals[n-1].Status == models.StatusClosed {
		return tl.Intervals[n-1].Start, true
	}
	return time.Time{}, false
}

// InProgressTotal sums the durations of all in_progress intervals,
// closing a still-open interval at now. Zero when the issue never
// entered in_progress, which callers must treat as "no cycle-time
// sample", not a zero-length sample.
func (tl Timeline) InProgressTotal(now time.Time) time.Duration {
	var total time.Duration
	for _, iv := range tl.Intervals {
		if iv.Status == models.StatusInProgress {
			total += iv.Duration(now)
		}
	}
	return total
}

// TouchedInProgress reports whether any interval has status in_progress.
func (tl Timeline) TouchedInProgress() bool {
	for _, iv := range tl.Intervals {
		if iv.Status == models.StatusInProgress {
			return true
		}
	}
	return false
}

// End returns the end of the timeline: the deletion timestamp for deleted
// issues, otherwise now.
func (tl Timeline) End(now time.Time) time.Time {
	if n := len(tl.Intervals); n > 0 && tl.Deleted {
		return tl.Intervals[n-1].End
	}
	return now
}
