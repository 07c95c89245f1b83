// toolloop runs a streaming tool-orchestration loop against an LLM, either
// as an interactive terminal chat or behind an HTTP API.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	opts    = defaultOptions()

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "toolloop",
	Short: "Streaming tool-orchestration loop",
	Long: `toolloop drives a model through rounds of tool calls until it answers,
falling back to weaker models when a quota runs out.

  toolloop chat                        Interactive terminal session
  toolloop serve --addr :7090          HTTP API with an SSE event stream`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The chat UI owns the terminal; its logs only go to a file.
		toStderr := cmd.Name() != chatCmd.Name()
		logger, closer, err := newLogger(opts.LogLevel, opts.LogFile, toStderr)
		if err != nil {
			return err
		}
		logCloser = closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.Models, "models", opts.Models, "comma-separated fallback chain, strongest first (env TOOLLOOP_MODELS)")
	f.StringVar(&opts.WorkDir, "workdir", opts.WorkDir, "working directory for tools (env TOOLLOOP_WORKDIR)")
	f.IntVar(&opts.MaxRounds, "max-rounds", opts.MaxRounds, "model/tool rounds per turn (env TOOLLOOP_MAX_ROUNDS)")
	f.StringVar(&opts.ApprovalMode, "approval-mode", opts.ApprovalMode, "default, auto_edit or yolo (env TOOLLOOP_APPROVAL_MODE)")
	f.BoolVar(&opts.Trusted, "trusted", opts.Trusted, "treat the working directory as trusted")
	f.StringVar(&opts.SystemPrompt, "system-prompt", opts.SystemPrompt, "extra instructions appended to the system prompt")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "debug, info, warn or error (env TOOLLOOP_LOG_LEVEL)")
	f.StringVar(&opts.LogFile, "log-file", opts.LogFile, "also write logs to this file (env TOOLLOOP_LOG_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// newLogger builds a text logger writing to stderr and/or path. With
// neither, logs are discarded.
func newLogger(levelName, path string, toStderr bool) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, nil, err
	}

	var writers []io.Writer
	if toStderr {
		writers = append(writers, os.Stderr)
	}
	var closer io.Closer
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var w io.Writer = io.Discard
	if len(writers) > 0 {
		w = io.MultiWriter(writers...)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}
