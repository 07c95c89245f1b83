package toolsched

import (
	"context"
	"strings"
	"testing"
)

func TestNumberLines(t *testing.T) {
	content := "one\ntwo\nthree\n"

	if got := numberLines(content, 0, 0); got != "1 | one\n2 | two\n3 | three" {
		t.Errorf("full read = %q", got)
	}
	if got := numberLines(content, 2, 1); got != "2 | two" {
		t.Errorf("offset read = %q", got)
	}
	if got := numberLines(content, 10, 0); got != "" {
		t.Errorf("past end = %q", got)
	}
}

func TestEditFileTool(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	tool := editFileTool()
	ctx := context.Background()

	if err := env.WriteFile("f.txt", "foo bar foo"); err != nil {
		t.Fatal(err)
	}

	_, err := tool.Executor(ctx, map[string]any{"file_path": "f.txt", "old_string": "foo", "new_string": "baz"}, env)
	if err == nil || !strings.Contains(err.Error(), "2 times") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	out, err := tool.Executor(ctx, map[string]any{
		"file_path": "f.txt", "old_string": "foo", "new_string": "baz", "replace_all": true,
	}, env)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(out.(string), "Replaced 2") {
		t.Errorf("unexpected result %v", out)
	}
	got, _ := env.ReadFile("f.txt")
	if got != "baz bar baz" {
		t.Errorf("file content = %q", got)
	}

	if _, err := tool.Executor(ctx, map[string]any{"file_path": "f.txt", "old_string": "nope", "new_string": ""}, env); err == nil {
		t.Error("expected not-found error")
	}
}

func TestShellToolReportsExitCode(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	tool := shellTool(DefaultShellLimits)

	out, err := tool.Executor(context.Background(), map[string]any{"command": "echo hi; exit 2"}, env)
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	s := out.(string)
	if !strings.HasPrefix(s, "hi") || !strings.Contains(s, "[Exit code: 2]") {
		t.Errorf("unexpected output %q", s)
	}

	if got := tool.Describe(map[string]any{"command": "ls", "description": "List files"}); got != "List files\n$ ls" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestListDirectoryTool(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	tool := listDirectoryTool()

	out, err := tool.Executor(context.Background(), map[string]any{}, env)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Directory is empty." {
		t.Errorf("unexpected %v", out)
	}

	if err := env.WriteFile("docs/readme.md", "hello"); err != nil {
		t.Fatal(err)
	}
	out, err = tool.Executor(context.Background(), map[string]any{}, env)
	if err != nil {
		t.Fatal(err)
	}
	if out != "docs/" {
		t.Errorf("unexpected %v", out)
	}
}
