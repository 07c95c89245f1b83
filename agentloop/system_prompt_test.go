package agentloop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Use tabs."), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "GEMINI.md"), []byte("gemini only"), 0644); err != nil {
		t.Fatal(err)
	}

	prompt := BuildSystemPrompt(ModelConfig{
		Model:        "claude-opus-4-6",
		WorkingDir:   dir,
		Trusted:      true,
		SystemPrompt: "Be brief.",
	})

	for _, want := range []string{
		"<environment>",
		"Working directory: " + dir,
		"Trusted folder: true",
		"Model: claude-opus-4-6",
		"Use tabs.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "gemini only") {
		t.Error("provider-specific docs of another provider should be ignored")
	}
	if !strings.HasSuffix(prompt, "# User Instructions\n\nBe brief.") {
		t.Error("user instructions should come last")
	}
}

func TestCollectPathHierarchy(t *testing.T) {
	got := collectPathHierarchy("/a", "/a/b/c")
	want := []string{"/a", "/a/b", "/a/b/c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("collectPathHierarchy() = %v, want %v", got, want)
	}
}
