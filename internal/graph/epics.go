package graph

import (
	"sort"
	"strings"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/source"
)

// EpicProgress is the completion rollup for one epic.
type EpicProgress struct {
	Epic    models.Issue `json:"epic"`
	Total   int          `json:"total"`
	Closed  int          `json:"closed"`
	Percent float64      `json:"percent"`
}

// Progress computes per-epic rollups over the snapshot. An issue counts
// as a child of an epic when its id carries the epic's dot prefix or
// when it has an explicit dependency edge pointing at the epic.
func Progress(snap *source.Snapshot) []EpicProgress {
	dependsOn := make(map[string]map[string]struct{})
	for _, dep := range snap.Dependencies {
		if dependsOn[dep.To] == nil {
			dependsOn[dep.To] = make(map[string]struct{})
		}
		dependsOn[dep.To][dep.From] = struct{}{}
	}

	var rollups []EpicProgress
	for _, epic := range snap.Issues {
		if epic.Type != models.TypeEpic {
			continue
		}

		prefix := epic.ID + "."
		r := EpicProgress{Epic: epic}
		for _, is := range snap.Issues {
			if is.ID == epic.ID {
				continue
			}
			_, explicit := dependsOn[epic.ID][is.ID]
			if !explicit && !strings.HasPrefix(is.ID, prefix) {
				continue
			}
			r.Total++
			if is.Status == models.StatusClosed {
				r.Closed++
			}
		}
		if r.Total > 0 {
			r.Percent = float64(r.Closed) / float64(r.Total) * 100
		}
		rollups = append(rollups, r)
	}

	sort.Slice(rollups, func(i, j int) bool {
		return rollups[i].Epic.ID < rollups[j].Epic.ID
	})
	return rollups
}
