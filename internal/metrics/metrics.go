// Package metrics computes delivery metrics over reconstructed issue
// timelines: lead time, cycle time, throughput, and activity density.
//
// Compute is pure and deterministic: the same snapshot, timelines, window,
// and clock produce byte-identical output. Nothing is patched
// incrementally; every snapshot is recomputed from scratch.
package metrics

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/source"
	"github.com/marcus/nacre/internal/timeline"
)

// Window is the half-open time span [Start, End) a snapshot covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowEnding returns a window of the given length ending at end.
func WindowEnding(end time.Time, length time.Duration) Window {
	return Window{Start: end.Add(-length), End: end}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DurationStats summarizes a sample set of durations.
type DurationStats struct {
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P100  time.Duration `json:"p100"`
}

// DayCount is one day of a per-period series.
type DayCount struct {
	Day      string `json:"day"` // YYYY-MM-DD
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

// Snapshot is the aggregate metrics value served to consumers. It is
// ephemeral: recomputed per request or change trigger, never stored.
type Snapshot struct {
	Window Window `json:"window"`

	LeadTime  DurationStats `json:"lead_time"`
	CycleTime DurationStats `json:"cycle_time"`

	// Throughput: issues whose terminal closed transition falls in each
	// day of the window, zero-filled over the whole span.
	Throughput     []DayCount `json:"throughput"`
	ClosedInWindow int        `json:"closed_in_window"`
	PerDay         float64    `json:"per_day"`

	// Activity counts every event of any kind, bucketed by day-of-week
	// (Sunday = 0) and hour-of-day.
	Activity [7][24]int `json:"activity"`

	// Point-in-time counts from the current snapshot.
	WIP     int `json:"wip"`
	Blocked int `json:"blocked"`
}

// Compute aggregates a Snapshot over the window.
//
// The delivered set is the issues whose terminal closed transition falls
// inside the window; an issue that was reopened and is not closed again
// yet is not delivered. Throughput counts terminal closes per day. Lead
// time is measured from creation to the first closed transition,
// whatever happened in between. Cycle time samples come from the same
// issues but only when the timeline has at least one in_progress
// interval: an issue closed directly from open has no measured
// in-progress duration and contributes no sample. Zero-sample windows
// produce zero stats and a zero-filled series, never an error.
func Compute(win Window, snap *source.Snapshot, timelines map[string]timeline.Timeline, now time.Time) *Snapshot {
	out := &Snapshot{Window: win}

	issueByID := make(map[string]models.Issue, len(snap.Issues))
	for _, is := range snap.Issues {
		issueByID[is.ID] = is
		switch is.Status {
		case models.StatusInProgress:
			out.WIP++
		case models.StatusBlocked:
			out.Blocked++
		}
	}

	// Deterministic iteration: walk the union of snapshot and timeline
	// ids in sorted order.
	ids := make([]string, 0, len(issueByID)+len(timelines))
	seen := make(map[string]struct{}, len(issueByID))
	for id := range issueByID {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range timelines {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var days map[string]int
	out.Throughput, days = daySeries(win)
	var leadSamples, cycleSamples []time.Duration

	for _, id := range ids {
		ct, ok := closure(id, issueByID, timelines)
		if !ok || !win.Contains(ct.terminal) {
			continue
		}

		out.ClosedInWindow++
		if day, ok := days[dayKey(ct.terminal)]; ok {
			out.Throughput[day].Resolved++
		}

		lead := ct.first.Sub(ct.created)
		if lead < 0 {
			// Inconsistent source data; clamp instead of poisoning the
			// distribution.
			slog.Warn("negative lead time clamped", "issue", id, "created", ct.created, "closed", ct.first)
			lead = 0
		}
		leadSamples = append(leadSamples, lead)

		if tl, found := timelines[id]; found && tl.TouchedInProgress() {
			cycleSamples = append(cycleSamples, tl.InProgressTotal(now))
		}
	}

	// Created-per-day series from the snapshot.
	for _, id := range ids {
		is, ok := issueByID[id]
		if !ok {
			continue
		}
		if win.Contains(is.CreatedAt) {
			if day, ok := days[dayKey(is.CreatedAt)]; ok {
				out.Throughput[day].Created++
			}
		}
	}

	// Activity histogram over every event kind in the window.
	for _, ev := range snap.Events {
		if !win.Contains(ev.At) {
			continue
		}
		t := ev.At.UTC()
		out.Activity[int(t.Weekday())][t.Hour()]++
	}

	out.LeadTime = stats(leadSamples)
	out.CycleTime = stats(cycleSamples)
	if span := win.End.Sub(win.Start); span > 0 {
		out.PerDay = float64(out.ClosedInWindow) / (span.Hours() / 24)
	}

	return out
}

// closeTimes carries the timestamps a terminally closed issue
// contributes to the aggregates.
type closeTimes struct {
	created  time.Time
	first    time.Time // first transition into closed, lead time anchor
	terminal time.Time // last transition into closed, throughput anchor
}

// closure resolves the close timestamps for an issue, preferring the
// reconstructed timeline and falling back to snapshot fields when the
// event log has no history for the issue. Only terminally closed issues
// report: an issue that was reopened and has not closed again counts as
// undelivered. The snapshot fallback gets this from the tracker itself,
// which clears closed_at on reopen.
func closure(id string, issues map[string]models.Issue, timelines map[string]timeline.Timeline) (closeTimes, bool) {
	if tl, found := timelines[id]; found && len(tl.Intervals) > 0 {
		terminal, closed := tl.TerminalClosedAt()
		if !closed {
			return closeTimes{}, false
		}
		first, _ := tl.FirstClosedAt()
		return closeTimes{created: tl.CreatedAt(), first: first, terminal: terminal}, true
	}
	if is, found := issues[id]; found && is.ClosedAt != nil {
		return closeTimes{created: is.CreatedAt, first: *is.ClosedAt, terminal: *is.ClosedAt}, true
	}
	return closeTimes{}, false
}

// daySeries allocates the zero-filled per-day series covering every UTC
// calendar day the window touches, plus an index from day key to slot.
func daySeries(win Window) ([]DayCount, map[string]int) {
	idx := make(map[string]int)
	if !win.Start.Before(win.End) {
		return []DayCount{}, idx
	}

	first := win.Start.UTC()
	first = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	last := win.End.UTC().Add(-time.Nanosecond)
	last = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)

	series := make([]DayCount, 0, int(last.Sub(first).Hours()/24)+1)
	for cur := first; !cur.After(last); cur = cur.AddDate(0, 0, 1) {
		key := cur.Format("2006-01-02")
		idx[key] = len(series)
		series = append(series, DayCount{Day: key})
	}
	return series, idx
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// stats computes count/avg/percentiles over a sample set. The percentile
// index is round((n-1)·p/100), matching the tracker's own reporting.
func stats(samples []time.Duration) DurationStats {
	if len(samples) == 0 {
		return DurationStats{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}

	return DurationStats{
		Count: len(sorted),
		Avg:   sum / time.Duration(len(sorted)),
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P100:  percentile(sorted, 100),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(float64(len(sorted)-1) * p / 100))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
