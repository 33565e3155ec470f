package serve

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/metrics"
	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/watch"
)

// artifacts fetches the watcher's current generation, writing a 503
// envelope and returning false before the first successful scan.
func (s *Server) artifacts(w http.ResponseWriter) (*watch.Artifacts, bool) {
	art, err := s.watcher.Current()
	if err != nil {
		WriteError(w, ErrUnavailable, "no snapshot available yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return art, true
}

// ============================================================================
// GET /health
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"status": "ok",
		"stale":  s.watcher.Stale(),
	}
	if err := s.watcher.LastError(); err != nil {
		data["last_error"] = err.Error()
	}
	if art, err := s.watcher.Current(); err == nil {
		data["change_token"] = art.Fingerprint.Token()
		data["computed_at"] = art.ComputedAt.Format(time.RFC3339)
		data["issues"] = len(art.Snapshot.Issues)
	} else {
		data["status"] = "starting"
	}
	WriteSuccess(w, data, http.StatusOK)
}

// ============================================================================
// GET /v1/metrics
// ============================================================================

// ParseWindow accepts Go duration syntax ("24h", "90m") plus a day
// suffix ("7d", "30d") since weeks of hours read poorly in URLs.
func ParseWindow(raw string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(raw, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day count %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", raw)
	}
	return d, nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	art, ok := s.artifacts(w)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("window")
	if raw == "" {
		// Default window: serve the precomputed snapshot.
		WriteSuccess(w, art.Metrics, http.StatusOK)
		return
	}

	length, err := ParseWindow(raw)
	if err != nil {
		WriteValidation(w, []FieldError{{
			Field:    "window",
			Rule:     "duration",
			Value:    raw,
			Expected: "positive duration like 24h or 7d",
			Message:  err.Error(),
		}})
		return
	}

	now := time.Now().UTC()
	snap := metrics.Compute(metrics.WindowEnding(now, length), art.Snapshot, art.Timelines, now)
	WriteSuccess(w, snap, http.StatusOK)
}

// ============================================================================
// GET /v1/graph
// ============================================================================

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	art, ok := s.artifacts(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	epic := q.Get("epic")
	var types []models.Type
	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !models.IsValidType(models.Type(t)) {
				WriteValidation(w, []FieldError{{
					Field:    "type",
					Rule:     "enum",
					Value:    t,
					Expected: "task, bug, feature, epic or chore",
					Message:  "unknown issue type",
				}})
				return
			}
			types = append(types, models.Type(t))
		}
	}

	if epic == "" && len(types) == 0 {
		WriteSuccess(w, art.Graph, http.StatusOK)
		return
	}

	view := graph.Build(art.Snapshot, graph.Scope{Epic: epic, Types: types})
	WriteSuccess(w, view, http.StatusOK)
}

// ============================================================================
// GET /v1/epics
// ============================================================================

func (s *Server) handleEpics(w http.ResponseWriter, r *http.Request) {
	art, ok := s.artifacts(w)
	if !ok {
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"epics": graph.Progress(art.Snapshot),
	}, http.StatusOK)
}

// ============================================================================
// GET /v1/issues
// ============================================================================

// issueIndex adapts an issue slice for fuzzy matching on "id title".
type issueIndex []models.Issue

func (ix issueIndex) String(i int) string { return ix[i].ID + " " + ix[i].Title }
func (ix issueIndex) Len() int            { return len(ix) }

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	art, ok := s.artifacts(w)
	if !ok {
		return
	}

	q := r.URL.Query()

	limit := 200
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if errs := validatePagination(limit, offset); len(errs) > 0 {
		WriteValidation(w, errs)
		return
	}

	statuses := make(map[models.Status]bool)
	for _, raw := range q["status"] {
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			if st == "" {
				continue
			}
			if !models.IsValidStatus(models.Status(st)) {
				WriteValidation(w, []FieldError{{
					Field:   "status",
					Rule:    "enum",
					Value:   st,
					Message: "unknown status",
				}})
				return
			}
			statuses[models.Status(st)] = true
		}
	}
	types := make(map[models.Type]bool)
	for _, raw := range q["type"] {
		for _, tp := range strings.Split(raw, ",") {
			tp = strings.TrimSpace(tp)
			if tp == "" {
				continue
			}
			if !models.IsValidType(models.Type(tp)) {
				WriteValidation(w, []FieldError{{
					Field:   "type",
					Rule:    "enum",
					Value:   tp,
					Message: "unknown issue type",
				}})
				return
			}
			types[models.Type(tp)] = true
		}
	}

	filtered := make([]models.Issue, 0, len(art.Snapshot.Issues))
	for _, is := range art.Snapshot.Issues {
		if len(statuses) > 0 && !statuses[is.Status] {
			continue
		}
		if len(types) > 0 && !types[is.Type] {
			continue
		}
		filtered = append(filtered, is)
	}

	// Fuzzy search reorders by match quality; otherwise keep ID order.
	if search := q.Get("q"); search != "" {
		matches := fuzzy.FindFrom(search, issueIndex(filtered))
		ranked := make([]models.Issue, 0, len(matches))
		for _, m := range matches {
			ranked = append(ranked, filtered[m.Index])
		}
		filtered = ranked
	}

	total := len(filtered)
	paged := applyPagination(filtered, offset, limit)

	WriteSuccess(w, map[string]interface{}{
		"issues":   IssuesToDTOs(paged),
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	}, http.StatusOK)
}

func validatePagination(limit, offset int) []FieldError {
	var errs []FieldError
	if limit < 1 || limit > 1000 {
		errs = append(errs, FieldError{
			Field:    "limit",
			Rule:     "range",
			Value:    limit,
			Expected: "1..1000",
			Message:  "limit out of range",
		})
	}
	if offset < 0 {
		errs = append(errs, FieldError{
			Field:    "offset",
			Rule:     "min",
			Value:    offset,
			Expected: ">= 0",
			Message:  "offset must not be negative",
		})
	}
	return errs
}

func applyPagination(issues []models.Issue, offset, limit int) []models.Issue {
	if offset >= len(issues) {
		return nil
	}
	end := offset + limit
	if end > len(issues) {
		end = len(issues)
	}
	return issues[offset:end]
}

// ============================================================================
// GET /v1/issues/{id}
// ============================================================================

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	art, ok := s.artifacts(w)
	if !ok {
		return
	}

	id := r.PathValue("id")
	issue, found := findIssue(art, id)
	if !found {
		WriteError(w, ErrNotFound, "issue not found: "+id, http.StatusNotFound)
		return
	}

	data := map[string]interface{}{
		"issue": IssueToDTO(issue),
	}

	if tl, ok := art.Timelines[id]; ok {
		data["intervals"] = tl.Intervals
		data["deleted"] = tl.Deleted
		now := time.Now().UTC()
		data["in_progress_total"] = tl.InProgressTotal(now).String()
	} else {
		data["intervals"] = []models.StatusInterval{}
	}

	var blocks, blockedBy []string
	for _, dep := range art.Snapshot.Dependencies {
		if dep.Kind != models.DepBlocks {
			continue
		}
		if dep.From == id {
			blockedBy = append(blockedBy, dep.To)
		}
		if dep.To == id {
			blocks = append(blocks, dep.From)
		}
	}
	sort.Strings(blocks)
	sort.Strings(blockedBy)
	data["blocks"] = nonNil(blocks)
	data["blocked_by"] = nonNil(blockedBy)

	WriteSuccess(w, data, http.StatusOK)
}

func findIssue(art *watch.Artifacts, id string) (models.Issue, bool) {
	for _, is := range art.Snapshot.Issues {
		if is.ID == id {
			return is, true
		}
	}
	return models.Issue{}, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ============================================================================
// POST /v1/refresh
// ============================================================================

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.watcher.Notify()
	WriteSuccess(w, map[string]interface{}{
		"queued": true,
	}, http.StatusAccepted)
}
