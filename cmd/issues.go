package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/models"
	"github.com/marcus/nacre/internal/output"
)

var issuesCmd = &cobra.Command{
	Use:   "issues [query]",
	Short: "List issues, optionally fuzzy-matched against a query",
	RunE:  runIssues,
}

func init() {
	rootCmd.AddCommand(issuesCmd)

	issuesCmd.Flags().StringSliceP("status", "s", nil, "Only include issues with these statuses")
	issuesCmd.Flags().StringSliceP("type", "t", nil, "Only include issues of these types")
	issuesCmd.Flags().Bool("json", false, "Emit JSON instead of a listing")
}

// issueHaystack adapts issues for fuzzy matching on "id title".
type issueHaystack []models.Issue

func (h issueHaystack) String(i int) string { return h[i].ID + " " + h[i].Title }
func (h issueHaystack) Len() int            { return len(h) }

func runIssues(cmd *cobra.Command, args []string) error {
	snap, _, _, err := fetchAll(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	statuses, _ := cmd.Flags().GetStringSlice("status")
	statusSet := make(map[models.Status]bool)
	for _, s := range statuses {
		if !models.IsValidStatus(models.Status(s)) {
			return fmt.Errorf("unknown status %q", s)
		}
		statusSet[models.Status(s)] = true
	}
	rawTypes, _ := cmd.Flags().GetStringSlice("type")
	typeSet := make(map[models.Type]bool)
	for _, t := range rawTypes {
		if !models.IsValidType(models.Type(t)) {
			return fmt.Errorf("unknown issue type %q", t)
		}
		typeSet[models.Type(t)] = true
	}

	issues := make([]models.Issue, 0, len(snap.Issues))
	for _, is := range snap.Issues {
		if len(statusSet) > 0 && !statusSet[is.Status] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[is.Type] {
			continue
		}
		issues = append(issues, is)
	}

	if len(args) > 0 {
		query := strings.Join(args, " ")
		matches := fuzzy.FindFrom(query, issueHaystack(issues))
		ranked := make([]models.Issue, 0, len(matches))
		for _, m := range matches {
			ranked = append(ranked, issues[m.Index])
		}
		issues = ranked
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(issues)
	}

	if len(issues) == 0 {
		output.Info("no matching issues")
		return nil
	}
	for _, is := range issues {
		fmt.Printf("%-24s %-8s %-12s p%d  %s\n", is.ID, is.Type, is.Status, is.Priority, is.Title)
	}
	return nil
}
