// Package cmd wires the nacre CLI: one-shot analytics commands plus the
// long-running serve mode.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/config"
	"github.com/marcus/nacre/internal/events"
	"github.com/marcus/nacre/internal/source"
	"github.com/marcus/nacre/internal/timeline"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "nacre",
	Short: "Read-side analytics for the bd issue tracker",
	Long: `nacre - flow metrics, status timelines and dependency graphs computed
from a bd issue tracker.

nacre never writes to the tracker: it reads the issue listing and the
activity log, reconstructs per-issue status timelines, and derives lead
time, cycle time, throughput and hierarchy views from them. Run it as a
one-shot CLI or as an HTTP server with live change notifications.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)

	rootCmd.PersistentFlags().String("bin", "", "Tracker CLI binary (default: bd, or config/BD_BIN)")
	rootCmd.PersistentFlags().String("db", "", "Read the tracker sqlite database directly instead of the CLI")
}

func initBaseDir() {
	var err error
	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
}

// getBaseDir returns the base directory for the project
func getBaseDir() string {
	return baseDir
}

// newSource builds the tracker adapter from config and flags. The --db
// flag or a sqlite config forces the direct database reader; otherwise
// the CLI adapter is used.
func newSource(cmd *cobra.Command, cfg *config.Config) (source.Source, error) {
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		return source.OpenSQLite(db)
	}
	if cfg.SourceOrDefault() == config.SourceSQLite {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("source is sqlite but no db_path configured")
		}
		return source.OpenSQLite(cfg.DBPath)
	}

	bin := cfg.BinOrDefault()
	if v, _ := cmd.Flags().GetString("bin"); v != "" {
		bin = v
	}
	return source.NewCLI(bin), nil
}

// fetchAll is the one-shot path shared by the read commands: fetch a
// snapshot and build the per-issue timelines.
func fetchAll(ctx context.Context, cmd *cobra.Command) (*source.Snapshot, map[string]timeline.Timeline, *config.Config, error) {
	cfg, err := config.Load(getBaseDir())
	if err != nil {
		return nil, nil, nil, err
	}
	src, err := newSource(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := src.Fetch(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return snap, timeline.BuildAll(events.ByIssue(snap.Events)), cfg, nil
}
