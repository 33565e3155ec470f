package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/nacre/internal/config"
	"github.com/marcus/nacre/internal/serve"
	"github.com/marcus/nacre/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nacre HTTP API server",
	Long: `Start an HTTP API server exposing flow metrics, status timelines and
dependency graphs over REST, with an SSE stream that notifies clients
when the tracker changes.

The server polls the tracker in the background and keeps serving the
last good snapshot if a poll fails. It supports optional bearer token
authentication and CORS for browser-based clients.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8800, "Port to listen on")
	serveCmd.Flags().StringP("addr", "a", "localhost", "Address to bind to")
	serveCmd.Flags().String("token", "", "Bearer token for authentication (optional)")
	serveCmd.Flags().String("cors", "", "Allowed CORS origin (optional, e.g. http://localhost:5173)")
	serveCmd.Flags().Duration("interval", 0, "Tracker poll interval (default 2s)")
	serveCmd.Flags().Duration("debounce", 0, "Refresh debounce window (default 250ms)")
	serveCmd.Flags().String("window", "", "Default metrics window, e.g. 7d (default 7d)")
}

func runServe(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	src, err := newSource(cmd, cfg)
	if err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval == 0 {
		interval = config.Duration(cfg.PollInterval, 0)
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")
	if debounce == 0 {
		debounce = config.Duration(cfg.Debounce, 0)
	}
	windowRaw, _ := cmd.Flags().GetString("window")
	if windowRaw == "" {
		windowRaw = cfg.Window
	}
	window := time.Duration(0)
	if windowRaw != "" {
		window, err = serve.ParseWindow(windowRaw)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", windowRaw, err)
		}
	}

	port, _ := cmd.Flags().GetInt("port")
	if f := cmd.Flags().Lookup("port"); !f.Changed && cfg.Port != 0 {
		port = cfg.Port
	}
	addr, _ := cmd.Flags().GetString("addr")
	if f := cmd.Flags().Lookup("addr"); !f.Changed && cfg.Addr != "" {
		addr = cfg.Addr
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Token
	}
	cors, _ := cmd.Flags().GetString("cors")
	if cors == "" {
		cors = cfg.CORSOrigin
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := watch.New(src, watch.Config{
		PollInterval:  interval,
		Debounce:      debounce,
		MetricsWindow: window,
	})
	// Synchronous first pass so requests arriving right after startup
	// see a snapshot instead of 503.
	if watcher.Scan(ctx) == watch.ResultFailed {
		slog.Warn("initial tracker scan failed, serving once a poll succeeds", "err", watcher.LastError())
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	srv := serve.NewServer(watcher, serve.ServeConfig{
		Port:       port,
		Addr:       addr,
		Token:      token,
		CORSOrigin: cors,
	})

	fmt.Fprintf(os.Stderr, "nacre serve listening on http://%s:%d\n", addr, port)
	fmt.Fprintf(os.Stderr, "  base dir: %s\n", dir)
	fmt.Fprintf(os.Stderr, "  source:   %s\n", cfg.SourceOrDefault())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "nacre serve stopped\n")
	return nil
}
