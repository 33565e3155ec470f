package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/output"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the issue hierarchy and blocking edges",
	Long: `Render the dot-notation hierarchy as a tree, with blocking edges
listed after it. Scope to one epic's subtree with --epic, or restrict
the node set with --type.`,
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringP("epic", "e", "", "Limit to the given epic and its subtree")
	graphCmd.Flags().StringSliceP("type", "t", nil, "Only include issues of these types")
	graphCmd.Flags().Bool("json", false, "Emit the graph as JSON")
}

func runGraph(cmd *cobra.Command, args []string) error {
	snap, _, _, err := fetchAll(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	epic, _ := cmd.Flags().GetString("epic")
	rawTypes, _ := cmd.Flags().GetStringSlice("type")
	var types []models.Type
	for _, t := range rawTypes {
		if !models.IsValidType(models.Type(t)) {
			return fmt.Errorf("unknown issue type %q", t)
		}
		types = append(types, models.Type(t))
	}

	view := graph.Build(snap, graph.Scope{Epic: epic, Types: types})

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	roots := output.FromView(view)
	for _, line := range output.RenderTreeLines(roots, output.TreeRenderOptions{ShowType: true, ShowStatus: true}) {
		fmt.Println(line)
	}

	if blocked := output.RenderBlockedList(view); len(blocked) > 0 {
		fmt.Println()
		for _, line := range blocked {
			fmt.Println(line)
		}
	}

	fmt.Printf("\n%d open, %d in progress, %d blocked, %d closed\n",
		view.Stats.Open, view.Stats.InProgress, view.Stats.Blocked, view.Stats.Closed)
	return nil
}
