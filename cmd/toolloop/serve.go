package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/toolloop/eventlog"
	"github.com/martinemde/toolloop/httpapi"
)

var (
	serveAddr string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a session over HTTP",
	Long: `Start an HTTP API for one session. Events are recorded in SQLite and
streamed over SSE; clients reconnecting with Last-Event-ID resume where they
left off.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", envOrDefault("TOOLLOOP_ADDR", ":7090"), "listen address (env TOOLLOOP_ADDR)")
	serveCmd.Flags().StringVar(&serveDB, "db", envOrDefault("TOOLLOOP_DB", defaultDBPath()), "event log database (env TOOLLOOP_DB)")
	rootCmd.AddCommand(serveCmd)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "toolloop.db"
	}
	return filepath.Join(home, ".toolloop", "events.db")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	if dir := filepath.Dir(serveDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
	}
	store, err := eventlog.New(serveDB)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer store.Close()

	rt, err := buildRuntime(opts, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Graceful shutdown on SIGINT/SIGTERM. Event streams end with ctx.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := httpapi.New(rt.session, store, logger)
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", serveAddr, "db", serveDB)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "\nShutting down...")
	rt.session.CancelCurrentRequest()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
