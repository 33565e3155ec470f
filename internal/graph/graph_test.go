package graph

import (
	"testing"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/source"
)

func issue(id string, typ models.Type, status models.Status) models.Issue {
	return models.Issue{ID: id, Title: "Test " + id, Type: typ, Status: status, Priority: 2}
}

func snap(issues []models.Issue, deps []models.Dependency) *source.Snapshot {
	return &source.Snapshot{Issues: issues, Dependencies: deps}
}

func findNode(t *testing.T, v *View, id string) Node {
	t.Helper()
	for _, n := range v.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %q not in view", id)
	return Node{}
}

// TestBuildBasic tests a flat snapshot with no edges
func TestBuildBasic(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("nacre-1", models.TypeEpic, models.StatusOpen),
		issue("nacre-2", models.TypeTask, models.StatusInProgress),
	}, nil), Scope{})

	if len(v.Nodes) != 2 || len(v.Edges) != 0 {
		t.Fatalf("nodes=%d edges=%d, want 2/0", len(v.Nodes), len(v.Edges))
	}
	if v.Stats.Open != 1 || v.Stats.InProgress != 1 {
		t.Errorf("stats = %+v", v.Stats)
	}
}

// TestDotNotationCreatesEdges tests derived parent-child edges
func TestDotNotationCreatesEdges(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("nacre-1", models.TypeEpic, models.StatusOpen),
		issue("nacre-1.1", models.TypeTask, models.StatusOpen),
		issue("nacre-1.2", models.TypeTask, models.StatusInProgress),
	}, nil), Scope{})

	if len(v.Edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(v.Edges))
	}
	for _, e := range v.Edges {
		if e.Kind != models.DepParentChild || e.To != "nacre-1" {
			t.Errorf("edge = %+v", e)
		}
	}
	if p := findNode(t, v, "nacre-1.1").Parent; p != "nacre-1" {
		t.Errorf("parent = %q, want nacre-1", p)
	}
}

// TestNearestAncestorOnly tests that deep hierarchies link only one level
func TestNearestAncestorOnly(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("nacre-1", models.TypeEpic, models.StatusOpen),
		issue("nacre-1.1", models.TypeTask, models.StatusOpen),
		issue("nacre-1.1.1", models.TypeTask, models.StatusOpen),
	}, nil), Scope{})

	grandchild := findNode(t, v, "nacre-1.1.1")
	if grandchild.Parent != "nacre-1.1" {
		t.Errorf("parent = %q, want nacre-1.1", grandchild.Parent)
	}
	// No duplicate transitive edge nacre-1.1.1 → nacre-1.
	for _, e := range v.Edges {
		if e.From == "nacre-1.1.1" && e.To == "nacre-1" {
			t.Errorf("transitive edge should not exist: %+v", e)
		}
	}
	if len(v.Edges) != 2 {
		t.Errorf("got %d edges, want 2", len(v.Edges))
	}
}

// TestMissingIntermediateAncestor tests skipping over gaps in the chain
func TestMissingIntermediateAncestor(t *testing.T) {
	// nacre-1.1 does not exist; nacre-1.1.1 links to nacre-1 directly.
	v := Build(snap([]models.Issue{
		issue("nacre-1", models.TypeEpic, models.StatusOpen),
		issue("nacre-1.1.1", models.TypeTask, models.StatusOpen),
	}, nil), Scope{})

	if p := findNode(t, v, "nacre-1.1.1").Parent; p != "nacre-1" {
		t.Errorf("parent = %q, want nacre-1 (nearest existing ancestor)", p)
	}
}

// TestOrphanHasNoParent tests ids whose ancestors are all missing
func TestOrphanHasNoParent(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("nacre-1.1", models.TypeTask, models.StatusOpen),
	}, nil), Scope{})

	if len(v.Edges) != 0 {
		t.Fatalf("got %d edges, want 0", len(v.Edges))
	}
	if p := v.Nodes[0].Parent; p != "" {
		t.Errorf("parent = %q, want empty", p)
	}
}

// TestExplicitBlockingEdge tests pass-through of blocking dependencies
func TestExplicitBlockingEdge(t *testing.T) {
	v := Build(snap(
		[]models.Issue{
			issue("nacre-1", models.TypeTask, models.StatusOpen),
			issue("nacre-2", models.TypeTask, models.StatusBlocked),
		},
		[]models.Dependency{{From: "nacre-2", To: "nacre-1", Kind: models.DepBlocks}},
	), Scope{})

	if len(v.Edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(v.Edges))
	}
	e := v.Edges[0]
	if e.From != "nacre-2" || e.To != "nacre-1" || e.Kind != models.DepBlocks {
		t.Errorf("edge = %+v", e)
	}
}

// TestDanglingEdgesExcluded tests tolerance of deleted endpoints
func TestDanglingEdgesExcluded(t *testing.T) {
	v := Build(snap(
		[]models.Issue{issue("nacre-1", models.TypeTask, models.StatusOpen)},
		[]models.Dependency{
			{From: "nacre-1", To: "nacre-gone", Kind: models.DepBlocks},
			{From: "nacre-gone", To: "nacre-1", Kind: models.DepBlocks},
		},
	), Scope{})

	if len(v.Edges) != 0 {
		t.Errorf("dangling edges leaked into view: %+v", v.Edges)
	}
}

// TestBlockingCyclePassesThrough tests that cycles are not removed
func TestBlockingCyclePassesThrough(t *testing.T) {
	v := Build(snap(
		[]models.Issue{
			issue("nacre-1", models.TypeTask, models.StatusOpen),
			issue("nacre-2", models.TypeTask, models.StatusOpen),
		},
		[]models.Dependency{
			{From: "nacre-1", To: "nacre-2", Kind: models.DepBlocks},
			{From: "nacre-2", To: "nacre-1", Kind: models.DepBlocks},
		},
	), Scope{})

	if len(v.Edges) != 2 {
		t.Errorf("cycle edges = %d, want both kept", len(v.Edges))
	}
}

// TestEpicScope tests {E} ∪ prefix descendants at any depth
func TestEpicScope(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("E", models.TypeEpic, models.StatusOpen),
		issue("E.1", models.TypeTask, models.StatusOpen),
		issue("E.1.2", models.TypeTask, models.StatusOpen),
		issue("F", models.TypeEpic, models.StatusOpen),
		issue("F.1", models.TypeTask, models.StatusOpen),
		// Id prefix must be a dot boundary: EF is not inside E.
		issue("EF", models.TypeTask, models.StatusOpen),
	}, nil), Scope{Epic: "E"})

	if len(v.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(v.Nodes))
	}
	for _, want := range []string{"E", "E.1", "E.1.2"} {
		findNode(t, v, want)
	}
	// All edges stay inside the scope.
	for _, e := range v.Edges {
		if e.To == "F" || e.From == "F.1" {
			t.Errorf("out-of-scope edge: %+v", e)
		}
	}
}

// TestTypeFilter tests the set intersection after scoping
func TestTypeFilter(t *testing.T) {
	v := Build(snap([]models.Issue{
		issue("E", models.TypeEpic, models.StatusOpen),
		issue("E.1", models.TypeBug, models.StatusOpen),
		issue("E.2", models.TypeTask, models.StatusOpen),
	}, nil), Scope{Epic: "E", Types: []models.Type{models.TypeBug}})

	if len(v.Nodes) != 1 || v.Nodes[0].ID != "E.1" {
		t.Errorf("nodes = %+v, want only E.1", v.Nodes)
	}
}

// TestProgressRollup tests per-epic completion percentages
func TestProgressRollup(t *testing.T) {
	rollups := Progress(snap(
		[]models.Issue{
			issue("E", models.TypeEpic, models.StatusOpen),
			issue("E.1", models.TypeTask, models.StatusClosed),
			issue("E.2", models.TypeTask, models.StatusOpen),
			issue("other", models.TypeTask, models.StatusClosed),
			issue("linked", models.TypeTask, models.StatusClosed),
		},
		[]models.Dependency{{From: "linked", To: "E", Kind: models.DepBlocks}},
	))

	if len(rollups) != 1 {
		t.Fatalf("got %d rollups, want 1", len(rollups))
	}
	r := rollups[0]
	if r.Total != 3 || r.Closed != 2 {
		t.Errorf("rollup = %d/%d, want 2/3", r.Closed, r.Total)
	}
	if r.Percent < 66 || r.Percent > 67 {
		t.Errorf("percent = %f", r.Percent)
	}
}
