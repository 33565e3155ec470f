package events

import (
	"log/slog"
	"sort"

	"github.com/marcus/nacre/internal/models"
)

// NormalizeBatch converts a slice of raw records into typed events.
// Malformed records are skipped and logged, never fatal to the batch.
// The returned events preserve original record order via Seq so that
// timestamp ties replay deterministically.
func NormalizeBatch(records []RawRecord) []models.Event {
	evs := make([]models.Event, 0, len(records))
	for i, rec := range records {
		ev, err := Normalize(rec, i)
		if err != nil {
			slog.Warn("skipping malformed event record", "err", err)
			continue
		}
		evs = append(evs, ev)
	}
	return evs
}

// ByIssue groups events by issue id. Within each group the events keep
// batch order; sorting by timestamp is the reconstructor's job.
func ByIssue(evs []models.Event) map[string][]models.Event {
	grouped := make(map[string][]models.Event)
	for _, ev := range evs {
		grouped[ev.IssueID] = append(grouped[ev.IssueID], ev)
	}
	return grouped
}

// IssueIDs returns the sorted set of issue ids present in the event list.
// Sorted so that callers iterating the groups produce deterministic output.
func IssueIDs(evs []models.Event) []string {
	seen := make(map[string]struct{})
	for _, ev := range evs {
		seen[ev.IssueID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
