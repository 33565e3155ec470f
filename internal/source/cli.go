package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"time"

	"github.com/marcus/nacre/internal/events"
	"github.com/marcus/nacre/internal/models"
)

// CLI fetches snapshots by invoking the tracker binary: `export` emits
// one JSON issue per line with embedded dependencies, and
// `activity --json` emits the event log as a JSON array.
type CLI struct {
	// Bin is the tracker binary path, e.g. "bd".
	Bin string
}

// NewCLI returns a CLI adapter for the given tracker binary.
func NewCLI(bin string) *CLI {
	return &CLI{Bin: bin}
}

// rawIssue is the tracker's export line shape.
type rawIssue struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       string          `json:"status"`
	Priority     *int            `json:"priority"`
	IssueType    string          `json:"issue_type"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	ClosedAt     string          `json:"closed_at,omitempty"`
	Assignee     string          `json:"assignee,omitempty"`
	Labels       []string        `json:"labels,omitempty"`
	Estimate     int             `json:"estimate,omitempty"`
	Dependencies []rawDependency `json:"dependencies,omitempty"`
}

type rawDependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// Fetch implements Source by running the export and activity commands.
func (c *CLI) Fetch(ctx context.Context) (*Snapshot, error) {
	exportOut, err := c.run(ctx, "export")
	if err != nil {
		return nil, err
	}

	issues, deps, err := ParseIssues(bytes.NewReader(exportOut))
	if err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}

	activityOut, err := c.run(ctx, "activity", "--json")
	if err != nil {
		return nil, err
	}

	var records []events.RawRecord
	if len(bytes.TrimSpace(activityOut)) > 0 {
		if err := json.Unmarshal(activityOut, &records); err != nil {
			return nil, fmt.Errorf("parse activity: %w", err)
		}
	}

	return &Snapshot{
		Issues:       issues,
		Dependencies: deps,
		Events:       events.NormalizeBatch(records),
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: %s %v: exit %d: %s",
				ErrUnavailable, c.Bin, args, exitErr.ExitCode(), bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%w: %s %v: %v", ErrUnavailable, c.Bin, args, err)
	}
	return out, nil
}

// ParseIssues decodes the tracker's JSONL export stream into issues and
// the flattened dependency edge list. Tombstoned issues are dropped; a
// line that fails to decode is skipped rather than failing the batch
// once at least the stream itself is readable.
func ParseIssues(r io.Reader) ([]models.Issue, []models.Dependency, error) {
	var issues []models.Issue
	var deps []models.Dependency

	dec := json.NewDecoder(r)
	for {
		var raw rawIssue
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("decode issue: %w", err)
		}
		if raw.ID == "" {
			continue
		}

		status := models.NormalizeStatus(raw.Status)
		if status == models.StatusTombstone {
			continue
		}

		is := models.Issue{
			ID:       raw.ID,
			Title:    raw.Title,
			Type:     models.NormalizeType(raw.IssueType),
			Status:   status,
			Priority: models.DefaultPriority,
			Assignee: raw.Assignee,
			Labels:   raw.Labels,
			Estimate: raw.Estimate,
		}
		if raw.Priority != nil {
			is.Priority = *raw.Priority
		}
		if t, err := events.ParseTimestamp(raw.CreatedAt); err == nil {
			is.CreatedAt = t
		}
		if t, err := events.ParseTimestamp(raw.UpdatedAt); err == nil {
			is.UpdatedAt = t
		}
		if raw.ClosedAt != "" {
			if t, err := events.ParseTimestamp(raw.ClosedAt); err == nil {
				is.ClosedAt = &t
			}
		}
		issues = append(issues, is)

		for _, d := range raw.Dependencies {
			dep := models.Dependency{
				From:      d.IssueID,
				To:        d.DependsOnID,
				Kind:      models.NormalizeDependencyKind(d.Type),
				CreatedBy: d.CreatedBy,
			}
			if dep.From == "" {
				dep.From = raw.ID
			}
			if dep.To == "" {
				continue
			}
			if t, err := events.ParseTimestamp(d.CreatedAt); err == nil {
				dep.CreatedAt = &t
			}
			deps = append(deps, dep)
		}
	}

	// Stable order regardless of tracker output order: downstream
	// computations require deterministic input.
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].From != deps[j].From {
			return deps[i].From < deps[j].From
		}
		return deps[i].To < deps[j].To
	})

	return issues, deps, nil
}
