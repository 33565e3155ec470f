package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/metrics"
	"github.com/marcus/nacre/internal/models"
)

func TestRenderTreeLines_Empty(t *testing.T) {
	lines := RenderTreeLines(nil, TreeRenderOptions{})
	if len(lines) != 0 {
		t.Errorf("expected empty lines, got %d", len(lines))
	}
}

func TestRenderTreeLines_SingleNode(t *testing.T) {
	nodes := []TreeNode{
		{ID: "web.auth", Title: "Login flow", Type: models.TypeTask, Status: models.StatusOpen},
	}
	lines := RenderTreeLines(nodes, TreeRenderOptions{ShowType: true, ShowStatus: true})

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	line := lines[0]
	if !strings.Contains(line, "└──") {
		t.Errorf("expected last-item connector, got: %s", line)
	}
	if !strings.Contains(line, "web.auth:") {
		t.Errorf("expected ID in output, got: %s", line)
	}
	if !strings.Contains(line, "Login flow") {
		t.Errorf("expected title in output, got: %s", line)
	}
	if !strings.Contains(line, "task") {
		t.Errorf("expected type in output, got: %s", line)
	}
	if !strings.Contains(line, "[open]") {
		t.Errorf("expected status in output, got: %s", line)
	}
}

func TestRenderTreeLines_Nested(t *testing.T) {
	nodes := []TreeNode{
		{
			ID: "web", Title: "Website", Type: models.TypeEpic, Status: models.StatusOpen,
			Children: []TreeNode{
				{ID: "web.auth", Title: "Auth", Type: models.TypeFeature, Status: models.StatusInProgress},
				{ID: "web.ui", Title: "UI", Type: models.TypeTask, Status: models.StatusClosed},
			},
		},
	}
	lines := RenderTreeLines(nodes, TreeRenderOptions{ShowStatus: true})

	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.Contains(lines[1], "├──") {
		t.Errorf("expected non-last connector for first child, got: %s", lines[1])
	}
	if !strings.Contains(lines[2], "└──") {
		t.Errorf("expected last connector for last child, got: %s", lines[2])
	}
	if !strings.Contains(lines[2], "✓") {
		t.Errorf("expected closed mark, got: %s", lines[2])
	}
}

func TestRenderTreeLines_MaxDepth(t *testing.T) {
	nodes := []TreeNode{
		{
			ID: "a", Title: "Root",
			Children: []TreeNode{{ID: "a.b", Title: "Child"}},
		},
	}
	lines := RenderTreeLines(nodes, TreeRenderOptions{MaxDepth: 1})
	if len(lines) != 1 {
		t.Fatalf("expected depth cutoff at 1 line, got %d", len(lines))
	}
}

func TestFromView(t *testing.T) {
	view := &graph.View{
		Nodes: []graph.Node{
			{ID: "web", Title: "Website", Type: models.TypeEpic, Status: models.StatusOpen},
			{ID: "web.auth", Title: "Auth", Type: models.TypeFeature, Status: models.StatusOpen, Parent: "web"},
			{ID: "web.auth.oauth", Title: "OAuth", Type: models.TypeTask, Status: models.StatusOpen, Parent: "web.auth"},
			{ID: "infra", Title: "Infra", Type: models.TypeChore, Status: models.StatusOpen},
		},
	}

	roots := FromView(view)
	if len(roots) != 2 {
		t.Fatalf("roots = %d, want 2", len(roots))
	}
	if roots[0].ID != "web" || roots[1].ID != "infra" {
		t.Errorf("root order = %s, %s", roots[0].ID, roots[1].ID)
	}
	web := roots[0]
	if len(web.Children) != 1 || web.Children[0].ID != "web.auth" {
		t.Fatalf("web children = %+v", web.Children)
	}
	if len(web.Children[0].Children) != 1 || web.Children[0].Children[0].ID != "web.auth.oauth" {
		t.Errorf("grandchildren = %+v", web.Children[0].Children)
	}
}

func TestFromView_ParentOutsideView(t *testing.T) {
	// Epic-scoped views can carry parent pointers to excluded nodes.
	view := &graph.View{
		Nodes: []graph.Node{
			{ID: "web.auth", Title: "Auth", Parent: "web"},
		},
	}
	roots := FromView(view)
	if len(roots) != 1 || roots[0].ID != "web.auth" {
		t.Fatalf("roots = %+v, want web.auth as root", roots)
	}
}

func TestRenderBlockedList(t *testing.T) {
	view := &graph.View{
		Nodes: []graph.Node{
			{ID: "a", Title: "Blocked thing"},
			{ID: "b", Title: "Blocker"},
		},
		Edges: []graph.Edge{
			{From: "a", To: "b", Kind: models.DepBlocks},
			{From: "a", To: "b", Kind: models.DepParentChild},
		},
	}
	lines := RenderBlockedList(view)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "blocked by b") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestRenderMetrics(t *testing.T) {
	m := &metrics.Snapshot{
		Window: metrics.Window{
			Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		},
		LeadTime:       metrics.DurationStats{Count: 3, Avg: 4 * time.Hour, P50: 3 * time.Hour, P90: 8 * time.Hour, P100: 8 * time.Hour},
		Throughput:     []metrics.DayCount{{Day: "2024-03-01", Resolved: 2}},
		ClosedInWindow: 2,
		PerDay:         0.29,
		WIP:            1,
	}

	out := RenderMetrics(m)
	for _, want := range []string{"Lead time", "n=3", "no samples", "2024-03-01", "WIP 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
