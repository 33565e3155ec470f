// Package models defines the core data types shared across nacre: issues,
// dependencies, lifecycle events, and the derived status intervals.
//
// Issues and events are owned by the external tracker. Nacre never writes
// them back; everything in this package is read-side value types.
package models

import (
	"strings"
	"time"
)

// Status represents an issue's workflow state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	StatusDeferred   Status = "deferred"

	// Tracker-internal states recognized on input. Tombstones are
	// soft-deleted issues and are filtered out of snapshots; pinned
	// issues are treated as open for metric purposes.
	StatusTombstone Status = "tombstone"
	StatusPinned    Status = "pinned"
)

// Type categorizes the kind of work an issue represents.
type Type string

const (
	TypeEpic    Type = "epic"
	TypeFeature Type = "feature"
	TypeBug     Type = "bug"
	TypeTask    Type = "task"
	TypeChore   Type = "chore"
)

// DependencyKind classifies an edge between two issues.
type DependencyKind string

const (
	DepParentChild DependencyKind = "parent-child"
	DepBlocks      DependencyKind = "blocks"
)

// EventKind classifies a lifecycle event.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "status_changed"
	EventDeleted       EventKind = "deleted"
	// EventOther is the catch-all for tracker event kinds nacre does not
	// interpret (comments, label changes, compactions, ...). They still
	// count toward the activity histogram.
	EventOther EventKind = "other"
)

// DefaultPriority is assumed when the tracker omits a priority.
// Lower values are more urgent.
const DefaultPriority = 2

// Issue is one row of the tracker snapshot. Immutable once fetched.
type Issue struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Type      Type       `json:"type"`
	Status    Status     `json:"status"`
	Priority  int        `json:"priority"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Estimate  int        `json:"estimate,omitempty"`
}

// Parent returns the id of the nearest dot-notation ancestor, or "" for
// top-level ids. Whether that ancestor actually exists is a snapshot
// question answered by the graph builder's index.
func (i Issue) Parent() string {
	return ParentID(i.ID)
}

// ParentID strips the last dot segment from a hierarchical id.
func ParentID(id string) string {
	if idx := strings.LastIndex(id, "."); idx > 0 {
		return id[:idx]
	}
	return ""
}

// Dependency is an explicit directed edge between two issues.
// From depends on (or is a child of) To.
type Dependency struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Kind      DependencyKind `json:"kind"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// Event is one normalized entry of the tracker's append-only event log.
type Event struct {
	IssueID string    `json:"issue_id"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	// From and To carry the transition for status_changed events and are
	// empty otherwise. From may legitimately disagree with replayed state
	// (the tracker has concurrent writers); the reconstructor trusts To.
	From Status `json:"from,omitempty"`
	To   Status `json:"to,omitempty"`
	// Seq is the original record position within one fetch, used as the
	// stable tie-break when timestamps collide.
	Seq int `json:"-"`
}

// StatusInterval is one span of an issue's reconstructed timeline.
// A zero End means the interval is still open at query time.
type StatusInterval struct {
	Status Status    `json:"status"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end,omitzero"`
}

// Duration returns the interval length, closing open-ended intervals at now.
func (si StatusInterval) Duration(now time.Time) time.Duration {
	end := si.End
	if end.IsZero() {
		end = now
	}
	d := end.Sub(si.Start)
	if d < 0 {
		return 0
	}
	return d
}

// IsValidStatus reports whether s is a status nacre serves to consumers.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed, StatusDeferred:
		return true
	}
	return false
}

// IsValidType reports whether t is a recognized issue type.
func IsValidType(t Type) bool {
	switch t {
	case TypeEpic, TypeFeature, TypeBug, TypeTask, TypeChore:
		return true
	}
	return false
}

// NormalizeStatus maps a raw tracker status string to a canonical Status.
// Pinned issues count as open. Unrecognized strings map to open so a
// schema drift on the tracker side degrades gracefully instead of
// dropping issues.
func NormalizeStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen
	case StatusInProgress:
		return StatusInProgress
	case StatusBlocked:
		return StatusBlocked
	case StatusClosed:
		return StatusClosed
	case StatusDeferred:
		return StatusDeferred
	case StatusTombstone:
		return StatusTombstone
	case StatusPinned:
		return StatusOpen
	default:
		return StatusOpen
	}
}

// NormalizeType maps a raw tracker type string to a canonical Type.
// Unrecognized kinds (message, gate, molecule, ...) default to task.
func NormalizeType(raw string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeEpic:
		return TypeEpic
	case TypeFeature:
		return TypeFeature
	case TypeBug:
		return TypeBug
	case TypeTask:
		return TypeTask
	case TypeChore:
		return TypeChore
	default:
		return TypeTask
	}
}

// NormalizeDependencyKind maps a raw tracker dependency type to a
// DependencyKind. Only parent-child is treated hierarchically; every
// other workflow or association kind behaves as a blocking-style edge
// and is passed through under the canonical blocks kind.
func NormalizeDependencyKind(raw string) DependencyKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "parent-child":
		return DepParentChild
	default:
		return DepBlocks
	}
}

// SortOrder returns a display ordering for statuses: active work first,
// then planning, then resolved.
func (s Status) SortOrder() int {
	switch s {
	case StatusInProgress:
		return 0
	case StatusBlocked:
		return 1
	case StatusOpen:
		return 2
	case StatusDeferred:
		return 3
	case StatusClosed:
		return 4
	default:
		return 5
	}
}
