// Package source adapts the external issue tracker into an immutable
// snapshot value: the current issue listing, the explicit dependency
// edges, and the normalized append-only event log.
//
// The tracker is an external mutable store polled repeatedly. Everything
// behind the Source interface is a pure boundary: nacre never writes
// back. Two adapters exist, one shelling out to the tracker CLI and one
// reading its sqlite database file directly, plus Func for in-memory
// fakes in tests.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/nacre/internal/models"
)

// ErrUnavailable wraps any failure to reach the tracker (process exit,
// read error). Callers keep serving the last-known-good snapshot and
// surface staleness instead of failing requests.
var ErrUnavailable = errors.New("source unavailable")

// Snapshot is one complete fetch from the tracker. Immutable once
// returned; derived computations each work on their own copy of the
// reference and never mutate it.
type Snapshot struct {
	Issues       []models.Issue      `json:"issues"`
	Dependencies []models.Dependency `json:"dependencies"`
	Events       []models.Event      `json:"events"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// IssueByID builds a lookup map over the snapshot's issues.
func (s *Snapshot) IssueByID() map[string]models.Issue {
	m := make(map[string]models.Issue, len(s.Issues))
	for _, is := range s.Issues {
		m[is.ID] = is
	}
	return m
}

// Source fetches the current snapshot and event log from the tracker.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Func adapts a function to the Source interface, for in-memory fakes.
type Func func(ctx context.Context) (*Snapshot, error)

// Fetch implements Source.
func (f Func) Fetch(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}
