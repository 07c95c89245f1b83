package toolsched

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/toolloop/unifiedllm"
)

// Kind groups tools by the effect they have, which drives approval.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindExecute Kind = "execute"
	KindFetch   Kind = "fetch"
	KindMCP     Kind = "mcp"
)

// Executor runs a tool. The returned value is shown to the observer; its
// string form (truncated) is what the model sees.
type Executor func(ctx context.Context, args map[string]any, env Environment) (any, error)

// Definition describes a tool for the LLM.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool pairs a definition with its executor.
type Tool struct {
	Definition Definition
	Kind       Kind
	Server     string // MCP server providing the tool, if any
	Executor   Executor

	// Describe renders the confirmation prompt for a call. Optional.
	Describe func(args map[string]any) string
}

// Registry manages tool registration and lookup.
type Registry struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the sorted names of all tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolDefs returns the definitions in the shape the LLM client expects,
// sorted by name.
func (r *Registry) ToolDefs() []unifiedllm.ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(names))
	for _, name := range names {
		d := r.tools[name].Definition
		defs = append(defs, unifiedllm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return defs
}

// validateArgs checks the "required" list of the tool's JSON schema.
func (t *Tool) validateArgs(args map[string]any) error {
	required, _ := t.Definition.Parameters["required"].([]string)
	for _, key := range required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%s: missing required argument %q", t.Definition.Name, key)
		}
	}
	return nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument.
func IntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
