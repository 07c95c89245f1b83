package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/martinemde/toolloop/agentloop"
	"github.com/martinemde/toolloop/toolsched"
	"github.com/martinemde/toolloop/unifiedllm"
)

// options collects the persistent flags. Defaults come from the environment.
type options struct {
	Models       string
	WorkDir      string
	MaxRounds    int
	ApprovalMode string
	Trusted      bool
	SystemPrompt string
	LogLevel     string
	LogFile      string
}

func defaultOptions() options {
	return options{
		Models:       os.Getenv("TOOLLOOP_MODELS"),
		WorkDir:      envOrDefault("TOOLLOOP_WORKDIR", "."),
		MaxRounds:    envOrIntDefault("TOOLLOOP_MAX_ROUNDS", agentloop.DefaultMaxRounds),
		ApprovalMode: envOrDefault("TOOLLOOP_APPROVAL_MODE", string(toolsched.ApprovalDefault)),
		LogLevel:     envOrDefault("TOOLLOOP_LOG_LEVEL", "info"),
		LogFile:      os.Getenv("TOOLLOOP_LOG_FILE"),
	}
}

// runtime is everything a front end needs to drive one session.
type runtime struct {
	session   *agentloop.Session
	scheduler *toolsched.Scheduler
	client    *unifiedllm.Client
	workDir   string
}

func (r *runtime) Close() error {
	return r.client.Close()
}

// buildRuntime wires the LLM client, tool registry, scheduler and session.
func buildRuntime(o options, logger *slog.Logger) (*runtime, error) {
	mode, err := toolsched.ParseApprovalMode(o.ApprovalMode)
	if err != nil {
		return nil, err
	}
	workDir, err := resolveWorkDir(o.WorkDir)
	if err != nil {
		return nil, err
	}

	client := unifiedllm.NewClientFromEnv(unifiedllm.WithLogger(logger))
	providers := client.Providers()
	if len(providers) == 0 {
		return nil, errors.New("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	models := parseModels(o.Models)
	if len(models) == 0 {
		models = unifiedllm.DefaultFallbackChain(providers[0])
	}

	reg := toolsched.NewRegistry()
	toolsched.RegisterCoreTools(reg, toolsched.DefaultShellLimits)

	schedCfg := toolsched.DefaultConfig()
	schedCfg.ApprovalMode = mode
	sched := toolsched.New(reg, toolsched.NewLocalEnvironment(workDir), schedCfg, logger)

	cfg := agentloop.DefaultSessionConfig()
	cfg.Models = models
	cfg.WorkingDir = workDir
	cfg.Trusted = o.Trusted
	cfg.SystemPrompt = o.SystemPrompt
	if o.MaxRounds > 0 {
		cfg.MaxRounds = o.MaxRounds
	}

	session, err := agentloop.NewSession(agentloop.NewLLMSessionFactory(client, reg.ToolDefs()), sched, &cfg, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating session: %w", err)
	}

	logger.Info("session ready", "session_id", session.ID(), "models", models, "approval_mode", mode, "workdir", workDir)
	return &runtime{session: session, scheduler: sched, client: client, workDir: workDir}, nil
}

func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}

// parseModels splits a comma-separated chain, dropping blanks.
func parseModels(s string) []string {
	var models []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrIntDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
