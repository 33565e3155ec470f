// Package graph builds dependency/hierarchy views over an issue snapshot.
//
// Two edge kinds exist: parent-child edges derived purely from the
// dot-notation id structure (never stored), and explicit blocking edges
// carried through from the tracker. Views are values computed on demand
// and never persisted.
package graph

import (
	"sort"
	"strings"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/source"
)

// Node is one issue in a graph view.
type Node struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Type     models.Type   `json:"type"`
	Status   models.Status `json:"status"`
	Priority int           `json:"priority"`
	Parent   string        `json:"parent,omitempty"`
}

// Edge is one directed relationship. From depends on (or is a child
// of) To.
type Edge struct {
	From string                `json:"from"`
	To   string                `json:"to"`
	Kind models.DependencyKind `json:"kind"`
}

// Stats holds node counts per status for the view.
type Stats struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Closed     int `json:"closed"`
	Deferred   int `json:"deferred"`
}

// View is a node and edge set scoped to an optional epic and type
// filter.
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// Scope restricts a view. Zero value means the whole snapshot.
type Scope struct {
	// Epic limits the view to the epic and its transitive dot-notation
	// descendants.
	Epic string
	// Types, when non-empty, keeps only nodes of the listed types. It is
	// applied after epic scoping.
	Types []models.Type
}

// Build computes a View for the snapshot under the given scope.
//
// Parent-child edges link each issue to its nearest existing dot-notation
// ancestor only, so multi-level hierarchies never produce duplicate
// transitive edges. Explicit edges whose endpoints are missing from the
// snapshot (deleted issues, tracker inconsistencies) are silently
// excluded. Blocking edges may form cycles in pathological source data;
// they pass through untouched, cycle handling is the consumer's problem.
func Build(snap *source.Snapshot, scope Scope) *View {
	// Membership index, built once per snapshot: the "hierarchical id as
	// implicit parent pointer" pattern needs an indexed lookup rather
	// than repeated string scans to stay linear.
	exists := make(map[string]struct{}, len(snap.Issues))
	for _, is := range snap.Issues {
		exists[is.ID] = struct{}{}
	}

	// Epic scoping: one prefix scan over the snapshot.
	inScope := func(id string) bool { return true }
	if scope.Epic != "" {
		prefix := scope.Epic + "."
		inScope = func(id string) bool {
			return id == scope.Epic || strings.HasPrefix(id, prefix)
		}
	}

	typeOK := func(t models.Type) bool { return true }
	if len(scope.Types) > 0 {
		allowed := make(map[models.Type]struct{}, len(scope.Types))
		for _, t := range scope.Types {
			allowed[t] = struct{}{}
		}
		typeOK = func(t models.Type) bool {
			_, ok := allowed[t]
			return ok
		}
	}

	view := &View{Nodes: []Node{}, Edges: []Edge{}}
	kept := make(map[string]struct{}, len(snap.Issues))

	for _, is := range snap.Issues {
		if !inScope(is.ID) || !typeOK(is.Type) {
			continue
		}
		view.Nodes = append(view.Nodes, Node{
			ID:       is.ID,
			Title:    is.Title,
			Type:     is.Type,
			Status:   is.Status,
			Priority: is.Priority,
			Parent:   nearestAncestor(is.ID, exists),
		})
		kept[is.ID] = struct{}{}
		switch is.Status {
		case models.StatusOpen:
			view.Stats.Open++
		case models.StatusInProgress:
			view.Stats.InProgress++
		case models.StatusBlocked:
			view.Stats.Blocked++
		case models.StatusClosed:
			view.Stats.Closed++
		case models.StatusDeferred:
			view.Stats.Deferred++
		}
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })

	// Derived parent-child edges, one per node with an ancestor in view.
	seen := make(map[Edge]struct{})
	for _, n := range view.Nodes {
		if n.Parent == "" {
			continue
		}
		if _, ok := kept[n.Parent]; !ok {
			continue
		}
		e := Edge{From: n.ID, To: n.Parent, Kind: models.DepParentChild}
		if _, dup := seen[e]; !dup {
			seen[e] = struct{}{}
			view.Edges = append(view.Edges, e)
		}
	}

	// Explicit edges: both endpoints must survive scoping; dangling
	// references are dropped, not errors.
	for _, dep := range snap.Dependencies {
		if _, ok := kept[dep.From]; !ok {
			continue
		}
		if _, ok := kept[dep.To]; !ok {
			continue
		}
		e := Edge{From: dep.From, To: dep.To, Kind: dep.Kind}
		if _, dup := seen[e]; !dup {
			seen[e] = struct{}{}
			view.Edges = append(view.Edges, e)
		}
	}

	sort.Slice(view.Edges, func(i, j int) bool {
		a, b := view.Edges[i], view.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})

	return view
}

// nearestAncestor walks up the dot-notation chain and returns the first
// segment prefix that names an existing issue, or "".
func nearestAncestor(id string, exists map[string]struct{}) string {
	for parent := models.ParentID(id); parent != ""; parent = models.ParentID(parent) {
		if _, ok := exists[parent]; ok {
			return parent
		}
	}
	return ""
}
