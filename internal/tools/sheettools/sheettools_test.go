package sheettools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sheetpilot/sheetpilot/internal/sheet"
	"github.com/sheetpilot/sheetpilot/internal/tools"
)

func newRegistry(t *testing.T, wb *sheet.Workbook) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.RegisterAll(Tools(wb)); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	return reg
}

func callTool(t *testing.T, reg *tools.Registry, name, args string) (string, error) {
	t.Helper()
	tool, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}
	return tool.Handler(context.Background(), args)
}

func TestToolsRegistersAllThree(t *testing.T) {
	reg := newRegistry(t, sheet.NewWorkbook())

	for _, name := range []string{"view_cells", "edit_cells", "copy_cells"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("Lookup(%q) = false, want registered", name)
		}
	}
	if got := reg.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestViewCells(t *testing.T) {
	wb := sheet.NewWorkbook()
	seedValue := func(addr string, v any) sheet.Patch { return sheet.Patch{Value: &v} }
	err := wb.Write(context.Background(), "Sheet1", map[string]sheet.Patch{
		"A1": seedValue("A1", 1.0),
		"B2": seedValue("B2", "hello"),
	})
	if err != nil {
		t.Fatalf("seed workbook: %v", err)
	}
	reg := newRegistry(t, wb)

	out, err := callTool(t, reg, "view_cells", `{"sheetName":"Sheet1","cells":"A1:B2"}`)
	if err != nil {
		t.Fatalf("view_cells error = %v", err)
	}

	var data sheet.RangeData
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("view_cells output is not JSON: %v", err)
	}
	if data.Address != "A1:B2" {
		t.Errorf("Address = %q, want %q", data.Address, "A1:B2")
	}
	if got := data.Cells[0][0].Value; got != 1.0 {
		t.Errorf("A1 value = %v, want 1", got)
	}
	if got := data.Cells[1][1].Value; got != "hello" {
		t.Errorf("B2 value = %v, want hello", got)
	}
	if got := data.Cells[0][1].Value; got != nil {
		t.Errorf("B1 value = %v, want empty", got)
	}
}

func TestViewCellsMissingArgs(t *testing.T) {
	reg := newRegistry(t, sheet.NewWorkbook())

	if _, err := callTool(t, reg, "view_cells", `{"cells":"A1"}`); err == nil {
		t.Error("view_cells without sheetName: want error, got nil")
	}
}

func TestEditCells(t *testing.T) {
	wb := sheet.NewWorkbook()
	reg := newRegistry(t, wb)

	args := `{"sheetName":"Sheet1","data":"{\"A1\":{\"value\":5},\"B1\":{\"formula\":\"=A1*2\"}}"}`
	out, err := callTool(t, reg, "edit_cells", args)
	if err != nil {
		t.Fatalf("edit_cells error = %v", err)
	}
	want := "Successfully updated cells A1, B1 on sheet Sheet1"
	if out != want {
		t.Errorf("edit_cells result = %q, want %q", out, want)
	}

	data, err := wb.Read(context.Background(), "Sheet1", "A1:B1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := data.Cells[0][0].Value; got != 5.0 {
		t.Errorf("A1 value = %v, want 5", got)
	}
	if got := data.Cells[0][1].Formula; got != "=A1*2" {
		t.Errorf("B1 formula = %q, want =A1*2", got)
	}
}

func TestEditCellsBadData(t *testing.T) {
	reg := newRegistry(t, sheet.NewWorkbook())

	tests := []struct {
		name string
		args string
	}{
		{"data not JSON", `{"sheetName":"Sheet1","data":"not json"}`},
		{"data empty object", `{"sheetName":"Sheet1","data":"{}"}`},
		{"missing data", `{"sheetName":"Sheet1"}`},
		{"bad address", `{"sheetName":"Sheet1","data":"{\"nope\":{\"value\":1}}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := callTool(t, reg, "edit_cells", tt.args); err == nil {
				t.Error("want error, got nil")
			}
		})
	}
}

func TestCopyCells(t *testing.T) {
	wb := sheet.NewWorkbook()
	v1, v2 := any(1.0), any(2.0)
	f := "=A1+A2"
	err := wb.Write(context.Background(), "Sheet1", map[string]sheet.Patch{
		"A1": {Value: &v1},
		"A2": {Value: &v2},
		"A3": {Formula: &f},
	})
	if err != nil {
		t.Fatalf("seed workbook: %v", err)
	}
	reg := newRegistry(t, wb)

	out, err := callTool(t, reg, "copy_cells", `{"sheetName":"Sheet1","from":"A1:A3","to":"C1"}`)
	if err != nil {
		t.Fatalf("copy_cells error = %v", err)
	}
	if !strings.Contains(out, "C1:C3") {
		t.Errorf("copy_cells result = %q, want mention of C1:C3", out)
	}

	data, err := wb.Read(context.Background(), "Sheet1", "C1:C3")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := data.Cells[0][0].Value; got != 1.0 {
		t.Errorf("C1 value = %v, want 1", got)
	}
	if got := data.Cells[2][0].Formula; got != "=A1+A2" {
		t.Errorf("C3 formula = %q, want =A1+A2", got)
	}
}

func TestCopyCellsBadRange(t *testing.T) {
	reg := newRegistry(t, sheet.NewWorkbook())

	if _, err := callTool(t, reg, "copy_cells", `{"sheetName":"Sheet1","from":"junk","to":"C1"}`); err == nil {
		t.Error("copy_cells with bad source range: want error, got nil")
	}
}
