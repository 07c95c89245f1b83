package toolsched

import (
	"encoding/json"
	"testing"
)

func TestRegistryToolDefsSorted(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreTools(reg, ShellLimits{})

	defs := reg.ToolDefs()
	want := []string{"edit_file", "glob", "grep", "list_directory", "read_file", "shell", "write_file"}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d]: expected %q, got %q", i, name, defs[i].Name)
		}
	}

	reg.Unregister("shell")
	if reg.Get("shell") != nil {
		t.Error("shell should be gone after Unregister")
	}
}

func TestToolValidateArgs(t *testing.T) {
	tool := editFileTool()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"all present", map[string]any{"file_path": "a", "old_string": "x", "new_string": "y"}, false},
		{"missing one", map[string]any{"file_path": "a", "old_string": "x"}, true},
		{"empty", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.validateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
		ok   bool
	}{
		{"float", float64(12), 12, true},
		{"int", 7, 7, true},
		{"json number", json.Number("42"), 42, true},
		{"string", "3", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IntArg(map[string]any{"n": tt.v}, "n")
			if got != tt.want || ok != tt.ok {
				t.Errorf("IntArg() = %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
	if _, ok := IntArg(map[string]any{}, "n"); ok {
		t.Error("missing key should not be ok")
	}
}
