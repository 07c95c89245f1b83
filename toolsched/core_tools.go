package toolsched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ShellLimits bounds the shell tool's command timeout.
type ShellLimits struct {
	Default time.Duration
	Max     time.Duration
}

// DefaultShellLimits matches what interactive sessions expect.
var DefaultShellLimits = ShellLimits{Default: 2 * time.Minute, Max: 10 * time.Minute}

const defaultReadLimit = 2000

// RegisterCoreTools registers the built-in filesystem and shell tools.
func RegisterCoreTools(reg *Registry, shell ShellLimits) {
	if shell.Default <= 0 {
		shell.Default = DefaultShellLimits.Default
	}
	if shell.Max < shell.Default {
		shell.Max = shell.Default
	}
	reg.Register(listDirectoryTool())
	reg.Register(readFileTool())
	reg.Register(writeFileTool())
	reg.Register(editFileTool())
	reg.Register(shellTool(shell))
	reg.Register(grepTool())
	reg.Register(globTool())
}

type param struct {
	name, typ, desc string
}

func schema(required []string, params ...param) map[string]any {
	props := make(map[string]any, len(params))
	for _, p := range params {
		props[p.name] = map[string]any{"type": p.typ, "description": p.desc}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func requireString(args map[string]any, key string) (string, error) {
	s, ok := StringArg(args, key)
	if !ok || s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func listDirectoryTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "list_directory",
			Description: "List the entries of a directory. Directories are marked with a trailing slash.",
			Parameters: schema(nil,
				param{"path", "string", "Directory to list. Default: working directory."},
			),
		},
		Kind: KindRead,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			path, _ := StringArg(args, "path")
			entries, err := env.ListDirectory(path)
			if err != nil {
				return nil, err
			}
			if len(entries) == 0 {
				return "Directory is empty.", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
		Describe: func(args map[string]any) string {
			path, _ := StringArg(args, "path")
			if path == "" {
				path = "."
			}
			return "List " + path
		},
	}
}

func readFileTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file from the filesystem. Returns line-numbered content.",
			Parameters: schema([]string{"file_path"},
				param{"file_path", "string", "Path to the file to read."},
				param{"offset", "integer", "1-based line number to start reading from."},
				param{"limit", "integer", "Maximum number of lines to read. Default: 2000."},
			),
		},
		Kind: KindRead,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			path, err := requireString(args, "file_path")
			if err != nil {
				return nil, err
			}
			offset, _ := IntArg(args, "offset")
			limit, _ := IntArg(args, "limit")
			content, err := env.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return numberLines(content, offset, limit), nil
		},
		Describe: func(args map[string]any) string {
			path, _ := StringArg(args, "file_path")
			return "Read " + path
		},
	}
}

// numberLines formats content as "N | line", starting at the 1-based offset.
func numberLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}
	start := offset - 1
	if start >= len(lines) {
		return ""
	}
	end := min(start+limit, len(lines))

	width := len(fmt.Sprint(end))
	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%*d | %s\n", width, i+1, lines[i])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeFileTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "write_file",
			Description: "Write content to a file. Creates the file and parent directories if needed.",
			Parameters: schema([]string{"file_path", "content"},
				param{"file_path", "string", "Path to write to."},
				param{"content", "string", "The full file content to write."},
			),
		},
		Kind: KindEdit,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			path, err := requireString(args, "file_path")
			if err != nil {
				return nil, err
			}
			content, ok := StringArg(args, "content")
			if !ok {
				return nil, errors.New("content is required")
			}
			if err := env.WriteFile(path, content); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
		Describe: func(args map[string]any) string {
			path, _ := StringArg(args, "file_path")
			content, _ := StringArg(args, "content")
			return fmt.Sprintf("Write %d bytes to %s", len(content), path)
		},
	}
}

func editFileTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "edit_file",
			Description: "Replace an exact string in a file. old_string must be unique unless replace_all is true.",
			Parameters: schema([]string{"file_path", "old_string", "new_string"},
				param{"file_path", "string", "Path to the file to edit."},
				param{"old_string", "string", "Exact text to find."},
				param{"new_string", "string", "Replacement text."},
				param{"replace_all", "boolean", "Replace every occurrence. Default: false."},
			),
		},
		Kind: KindEdit,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			path, err := requireString(args, "file_path")
			if err != nil {
				return nil, err
			}
			oldString, err := requireString(args, "old_string")
			if err != nil {
				return nil, err
			}
			newString, _ := StringArg(args, "new_string")
			replaceAll, _ := BoolArg(args, "replace_all")

			content, err := env.ReadFile(path)
			if err != nil {
				return nil, err
			}
			count := strings.Count(content, oldString)
			switch {
			case count == 0:
				return nil, fmt.Errorf("old_string not found in %s", path)
			case count > 1 && !replaceAll:
				return nil, fmt.Errorf("old_string found %d times in %s; add context or set replace_all", count, path)
			}
			n := 1
			if replaceAll {
				n = -1
			}
			if err := env.WriteFile(path, strings.Replace(content, oldString, newString, n)); err != nil {
				return nil, err
			}
			if !replaceAll {
				count = 1
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path), nil
		},
		Describe: func(args map[string]any) string {
			path, _ := StringArg(args, "file_path")
			return "Edit " + path
		},
	}
}

func shellTool(limits ShellLimits) Tool {
	return Tool{
		Definition: Definition{
			Name:        "shell",
			Description: "Execute a shell command in the working directory. Returns stdout, stderr and the exit code.",
			Parameters: schema([]string{"command"},
				param{"command", "string", "The command to run."},
				param{"timeout_ms", "integer", "Override the default timeout in milliseconds."},
				param{"description", "string", "What the command does, shown to the user."},
			),
		},
		Kind: KindExecute,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			command, err := requireString(args, "command")
			if err != nil {
				return nil, err
			}
			timeout := limits.Default
			if ms, ok := IntArg(args, "timeout_ms"); ok && ms > 0 {
				timeout = min(time.Duration(ms)*time.Millisecond, limits.Max)
			}

			result, err := env.ExecCommand(ctx, command, timeout)
			if err != nil {
				return nil, err
			}
			var sb strings.Builder
			sb.WriteString(result.Output())
			if result.TimedOut {
				fmt.Fprintf(&sb, "\n\n[Command timed out after %s. Partial output is shown above.]", timeout)
			} else if result.ExitCode != 0 {
				fmt.Fprintf(&sb, "\n\n[Exit code: %d]", result.ExitCode)
			}
			return sb.String(), nil
		},
		Describe: func(args map[string]any) string {
			command, _ := StringArg(args, "command")
			if desc, ok := StringArg(args, "description"); ok && desc != "" {
				return fmt.Sprintf("%s\n$ %s", desc, command)
			}
			return "$ " + command
		},
	}
}

func grepTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "grep",
			Description: "Search file contents with a regex. Returns matching lines with paths and line numbers.",
			Parameters: schema([]string{"pattern"},
				param{"pattern", "string", "Regex pattern to search for."},
				param{"path", "string", "Directory or file to search. Default: working directory."},
				param{"glob_filter", "string", "File pattern filter, e.g. \"*.go\"."},
				param{"case_insensitive", "boolean", "Case insensitive search."},
				param{"max_results", "integer", "Maximum matches per file. Default: 100."},
			),
		},
		Kind: KindRead,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			pattern, err := requireString(args, "pattern")
			if err != nil {
				return nil, err
			}
			path, _ := StringArg(args, "path")
			opts := GrepOptions{MaxResults: 100}
			opts.GlobFilter, _ = StringArg(args, "glob_filter")
			opts.CaseInsensitive, _ = BoolArg(args, "case_insensitive")
			if n, ok := IntArg(args, "max_results"); ok && n > 0 {
				opts.MaxResults = n
			}
			out, err := env.Grep(ctx, pattern, path, opts)
			if err != nil {
				return nil, err
			}
			if out == "" {
				return "No matches found.", nil
			}
			return out, nil
		},
		Describe: func(args map[string]any) string {
			pattern, _ := StringArg(args, "pattern")
			return "Search for " + pattern
		},
	}
}

func globTool() Tool {
	return Tool{
		Definition: Definition{
			Name:        "glob",
			Description: "Find files matching a glob pattern, newest first.",
			Parameters: schema([]string{"pattern"},
				param{"pattern", "string", "Glob pattern, e.g. \"**/*.go\"."},
				param{"path", "string", "Base directory. Default: working directory."},
			),
		},
		Kind: KindRead,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			pattern, err := requireString(args, "pattern")
			if err != nil {
				return nil, err
			}
			path, _ := StringArg(args, "path")
			matches, err := env.Glob(pattern, path)
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return "No files matched the pattern.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
		Describe: func(args map[string]any) string {
			pattern, _ := StringArg(args, "pattern")
			return "Find " + pattern
		},
	}
}
