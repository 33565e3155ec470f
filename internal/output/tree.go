// Package output renders nacre's views for the terminal: issue trees,
// metrics summaries, and epic progress lines.
package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/models"
)

// TreeNode represents a node in a tree structure for rendering
type TreeNode struct {
	ID       string
	Title    string
	Type     models.Type
	Status   models.Status
	Children []TreeNode
}

// TreeRenderOptions configures tree rendering behavior
type TreeRenderOptions struct {
	MaxDepth   int  // 0 = unlimited
	ShowStatus bool // Whether to show status indicator
	ShowType   bool // Whether to show issue type
}

// FormatStatus renders a status as a bracketed tag.
func FormatStatus(s models.Status) string {
	return "[" + string(s) + "]"
}

// statusMark returns a status indicator symbol
func statusMark(s models.Status) string {
	switch s {
	case models.StatusClosed:
		return " ✓" // ✓
	case models.StatusInProgress:
		return " ●" // ●
	case models.StatusBlocked:
		return " ✗" // ✗
	case models.StatusDeferred:
		return " ⧗" // ⧗
	default:
		return ""
	}
}

// FromView converts a hierarchy view into render trees, one per root.
// Children follow the view's parent edges and keep the view's ID order.
func FromView(view *graph.View) []TreeNode {
	children := make(map[string][]string)
	hasParent := make(map[string]bool)
	byID := make(map[string]graph.Node, len(view.Nodes))
	for _, n := range view.Nodes {
		byID[n.ID] = n
	}
	for _, n := range view.Nodes {
		// A parent outside the view (epic scoping) makes the node a root.
		if _, ok := byID[n.Parent]; n.Parent != "" && ok {
			children[n.Parent] = append(children[n.Parent], n.ID)
			hasParent[n.ID] = true
		}
	}
	for _, ids := range children {
		sort.Strings(ids)
	}

	var build func(id string) TreeNode
	build = func(id string) TreeNode {
		n := byID[id]
		node := TreeNode{ID: n.ID, Title: n.Title, Type: n.Type, Status: n.Status}
		for _, child := range children[id] {
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	var roots []TreeNode
	for _, n := range view.Nodes {
		if !hasParent[n.ID] {
			roots = append(roots, build(n.ID))
		}
	}
	return roots
}

// RenderTreeLines renders root nodes and returns individual lines.
func RenderTreeLines(roots []TreeNode, opts TreeRenderOptions) []string {
	return renderTreeNodes(roots, opts, 0, "")
}

// RenderTree renders root nodes as a single string.
func RenderTree(roots []TreeNode, opts TreeRenderOptions) string {
	return strings.Join(RenderTreeLines(roots, opts), "\n")
}

// renderTreeNodes recursively renders tree nodes
func renderTreeNodes(nodes []TreeNode, opts TreeRenderOptions, depth int, prefix string) []string {
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return nil
	}

	var lines []string

	for i, node := range nodes {
		isLast := i == len(nodes)-1

		connector := "├── " // ├──
		if isLast {
			connector = "└── " // └──
		}

		var parts []string
		if opts.ShowType {
			parts = append(parts, string(node.Type))
		}
		parts = append(parts, node.ID+":")
		parts = append(parts, node.Title)

		if opts.ShowStatus {
			parts = append(parts, FormatStatus(node.Status)+statusMark(node.Status))
		}

		line := prefix + connector + strings.Join(parts, " ")
		lines = append(lines, line)

		childPrefix := prefix
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   " // │
		}

		childLines := renderTreeNodes(node.Children, opts, depth+1, childPrefix)
		lines = append(lines, childLines...)
	}

	return lines
}

// RenderBlockedList renders the blocking edges of a view as a flat
// "from ✗ blocked by to" listing.
func RenderBlockedList(view *graph.View) []string {
	byID := make(map[string]graph.Node, len(view.Nodes))
	for _, n := range view.Nodes {
		byID[n.ID] = n
	}

	var lines []string
	for _, e := range view.Edges {
		if e.Kind != models.DepBlocks {
			continue
		}
		from := byID[e.From]
		lines = append(lines, fmt.Sprintf("%s: %s ✗ blocked by %s", from.ID, from.Title, e.To))
	}
	return lines
}
