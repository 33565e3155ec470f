package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/metrics"
	"github.com/marcus/nacre/internal/output"
	"github.com/marcus/nacre/internal/serve"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show flow metrics over a trailing window",
	Long: `Compute lead time, cycle time, throughput and point-in-time counts
over a trailing window ending now.

Lead time measures creation to first close. Cycle time measures time
spent in_progress; issues closed without ever starting contribute no
cycle sample. Both are reported with p50/p90/max percentiles.`,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)

	metricsCmd.Flags().StringP("window", "w", "", "Trailing window, e.g. 24h, 7d, 30d (default 7d)")
	metricsCmd.Flags().Bool("json", false, "Emit JSON instead of a text summary")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	snap, timelines, cfg, err := fetchAll(ctx, cmd)
	if err != nil {
		return err
	}

	raw, _ := cmd.Flags().GetString("window")
	if raw == "" {
		raw = cfg.Window
	}
	length := 7 * 24 * time.Hour
	if raw != "" {
		length, err = serve.ParseWindow(raw)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw, err)
		}
	}

	now := time.Now().UTC()
	m := metrics.Compute(metrics.WindowEnding(now, length), snap, timelines, now)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	fmt.Print(output.RenderMetrics(m))
	return nil
}
