package toolsched

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestLocalEnvironmentReadWrite(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())

	if err := env.WriteFile("nested/dir/file.txt", "hello\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := env.ReadFile("nested/dir/file.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "hello\n" {
		t.Errorf("expected raw content, got %q", got)
	}

	if _, err := env.ReadFile("missing.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLocalEnvironmentListDirectory(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalEnvironment(dir)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := env.ListDirectory("")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		switch e.Name {
		case "sub":
			if !e.IsDir {
				t.Error("sub should be a directory")
			}
		case "a.txt":
			if e.Size != 3 {
				t.Errorf("a.txt size = %d, want 3", e.Size)
			}
		default:
			t.Errorf("unexpected entry %q", e.Name)
		}
	}
}

func TestLocalEnvironmentExecCommand(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	ctx := context.Background()

	result, err := env.ExecCommand(ctx, "echo out; echo err >&2; exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("ExecCommand: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("unexpected output: %+v", result)
	}
}

func TestLocalEnvironmentExecTimeout(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "sleep 5", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecCommand: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected timeout")
	}
}

func TestLocalEnvironmentExecCancelled(t *testing.T) {
	env := NewLocalEnvironment(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := env.ExecCommand(ctx, "sleep 5", 0); err == nil {
		t.Error("expected error on cancellation")
	}
}

func TestFilterEnvironment(t *testing.T) {
	in := []string{"PATH=/bin", "OPENAI_API_KEY=sk", "GITHUB_TOKEN=x", "EDITOR=vi", "malformed"}
	got := filterEnvironment(in)
	want := []string{"PATH=/bin", "EDITOR=vi"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("filterEnvironment() = %v, want %v", got, want)
	}
}

func TestLocalEnvironmentGlob(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalEnvironment(dir)
	for _, p := range []string{"a.go", "pkg/b.go", "pkg/c.txt"} {
		if err := env.WriteFile(p, "x"); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := env.Glob("**/*.go", "")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
	for _, m := range matches {
		if filepath.IsAbs(m) {
			t.Errorf("expected relative path, got %q", m)
		}
	}
}

func TestLocalEnvironmentGlobPatterns(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalEnvironment(dir)
	for _, p := range []string{"main.go", "src/test_a.go", "src/x/y/test_b.go", "lib/test_c.go", ".git/hooks/test_d.go"} {
		if err := env.WriteFile(p, "x"); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		pattern string
		path    string
		want    []string
	}{
		{"*.go", "", []string{"main.go"}},
		{"src/**/test_*.go", "", []string{"src/test_a.go", "src/x/y/test_b.go"}},
		{"**/test_*.go", "", []string{"lib/test_c.go", "src/test_a.go", "src/x/y/test_b.go"}},
		{"**/*.go", "src/x", []string{"src/x/y/test_b.go"}},
		{"**/*.txt", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"@"+tt.path, func(t *testing.T) {
			got, err := env.Glob(tt.pattern, tt.path)
			if err != nil {
				t.Fatalf("Glob: %v", err)
			}
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Glob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}
