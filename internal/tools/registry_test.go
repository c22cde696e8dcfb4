package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/sheetpilot/sheetpilot/pkg/types"
)

func stubTool(name string) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: "test tool",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sheetName": map[string]any{"type": "string"},
					"count":     map[string]any{"type": "integer"},
					"enabled":   map[string]any{"type": "boolean"},
				},
				"required": []any{"sheetName"},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) { return "ok", nil },
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubTool("view_cells")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, ok := reg.Lookup("view_cells"); !ok {
		t.Error("Lookup(view_cells) = false after registration")
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup(missing) = true, want false")
	}
}

func TestRegisterRejections(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubTool("dup")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name string
		tool Tool
	}{
		{"duplicate name", stubTool("dup")},
		{"empty name", stubTool("")},
		{"nil handler", Tool{Definition: types.ToolDefinition{Name: "broken"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.tool); err == nil {
				t.Error("Register() = nil, want error")
			}
		})
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(stubTool(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	defs := reg.Definitions()
	want := []string{"alpha", "mid", "zeta"}
	if len(defs) != len(want) {
		t.Fatalf("Definitions() returned %d defs, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("defs[%d].Name = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestValidateInput(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubTool("edit")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name string
		args string
		want string // substring of the expected error, empty for success
	}{
		{"valid", `{"sheetName":"Sheet1","count":3,"enabled":true}`, ""},
		{"extra property passes", `{"sheetName":"Sheet1","unknown":1}`, ""},
		{"not an object", `[1,2,3]`, "not a JSON object"},
		{"malformed json", `{"sheetName":`, "not a JSON object"},
		{"missing required", `{"count":3}`, "missing required property"},
		{"wrong type", `{"sheetName":42}`, "expected string"},
		{"float for integer", `{"sheetName":"s","count":1.5}`, "expected integer"},
		{"string for boolean", `{"sheetName":"s","enabled":"yes"}`, "expected boolean"},
		{"empty args fails required", ``, "missing required property"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateInput("edit", tt.args)
			if tt.want == "" {
				if err != nil {
					t.Errorf("ValidateInput() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateInput() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateInputUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if err := reg.ValidateInput("ghost", "{}"); err == nil {
		t.Error("ValidateInput(ghost) = nil, want error")
	}
}
