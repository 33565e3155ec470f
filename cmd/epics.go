package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/output"
)

var epicsCmd = &cobra.Command{
	Use:   "epics",
	Short: "Show per-epic completion progress",
	Long: `List every epic with its child counts and completion percentage.
Children are issues under the epic's dot-notation prefix plus issues
with an explicit dependency on the epic.`,
	RunE: runEpics,
}

func init() {
	rootCmd.AddCommand(epicsCmd)

	epicsCmd.Flags().Bool("json", false, "Emit JSON instead of a listing")
}

func runEpics(cmd *cobra.Command, args []string) error {
	snap, _, _, err := fetchAll(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	progress := graph.Progress(snap)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(progress)
	}

	if len(progress) == 0 {
		output.Info("no epics")
		return nil
	}
	for _, line := range output.RenderEpics(progress) {
		fmt.Println(line)
	}
	return nil
}
