package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/martinemde/toolloop/unifiedllm"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

const baseInstructions = `You are an assistant working inside the user's project.
Use the available tools to inspect files, make changes and run commands.
Prefer discovering facts with a tool over asking the user.
When the task is complete, answer with a short summary and request no further tools.`

// BuildSystemPrompt assembles the system prompt for a model session:
// base instructions, environment block, git context, project instruction
// files and finally the configured user instructions.
func BuildSystemPrompt(cfg ModelConfig) string {
	provider := ""
	if info := unifiedllm.GetModelInfo(cfg.Model); info != nil {
		provider = info.Provider
	}

	sections := []string{baseInstructions, BuildEnvironmentContext(cfg)}
	if cfg.WorkingDir != "" {
		if git := GetGitContext(cfg.WorkingDir); git != "" {
			sections = append(sections, git)
		}
		if docs := DiscoverProjectDocs(cfg.WorkingDir, provider); docs != "" {
			sections = append(sections, docs)
		}
	}
	if cfg.SystemPrompt != "" {
		sections = append(sections, "# User Instructions\n\n"+cfg.SystemPrompt)
	}
	return strings.Join(sections, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(cfg ModelConfig) string {
	workingDir := cfg.WorkingDir
	isGitRepo := workingDir != "" && isGitRepository(workingDir)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if isGitRepo {
		if branch := getGitBranch(workingDir); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Trusted folder: %v\n", cfg.Trusted)
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if cfg.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", cfg.Model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads project instruction files from the git root (or
// working directory) down to the working directory. AGENTS.md is always
// recognized; provider-specific files are added per provider.
func DiscoverProjectDocs(workingDir string, provider string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	recognized := []string{"AGENTS.md"}
	switch provider {
	case "anthropic":
		recognized = append(recognized, "CLAUDE.md")
	case "gemini":
		recognized = append(recognized, "GEMINI.md")
	case "openai":
		recognized = append(recognized, ".codex/instructions.md")
	}

	var docs []string
	total := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		for _, name := range recognized {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, dir, text))
			total += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// GetGitContext summarizes the repository state, or returns "" outside git.
func GetGitContext(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if status := runGitCommand(root, "status", "--short"); status != "" {
		lines := strings.Split(strings.TrimSpace(status), "\n")
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(lines))
	}
	if log := runGitCommand(root, "log", "--oneline", "-5"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
	}
	sb.WriteString("</git_context>")
	return sb.String()
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	if root == target {
		return dirs
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--show-toplevel"))
}

func getGitBranch(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func runGitCommand(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
