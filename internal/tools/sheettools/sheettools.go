// Package sheettools provides the built-in spreadsheet tools offered to the
// model: reading a cell range, editing cells, and copying a range.
//
// Three tools are exported via [Tools]:
//   - "view_cells" — returns values and formulas of an A1 range.
//   - "edit_cells" — applies partial cell patches keyed by A1 address.
//   - "copy_cells" — copies a rectangular range to a new anchor.
//
// All handlers are safe for concurrent use as long as the backing
// [sheet.CellAccessor] is.
package sheettools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sheetpilot/sheetpilot/internal/sheet"
	"github.com/sheetpilot/sheetpilot/internal/tools"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// viewArgs is the JSON-decoded input for the "view_cells" tool.
type viewArgs struct {
	// SheetName is the worksheet to read from.
	SheetName string `json:"sheetName"`

	// Cells is the range to read, in A1 notation (e.g. "A1:C2").
	Cells string `json:"cells"`
}

// editArgs is the JSON-decoded input for the "edit_cells" tool.
type editArgs struct {
	// SheetName is the worksheet to edit.
	SheetName string `json:"sheetName"`

	// Data is a JSON-encoded object mapping A1 addresses to partial cell
	// patches, e.g. `{"A1":{"value":5},"B1":{"formula":"=A1*2"}}`.
	Data string `json:"data"`
}

// copyArgs is the JSON-decoded input for the "copy_cells" tool.
type copyArgs struct {
	// SheetName is the worksheet to copy within.
	SheetName string `json:"sheetName"`

	// From is the source range in A1 notation.
	From string `json:"from"`

	// To is the top-left anchor cell of the destination.
	To string `json:"to"`
}

// Tools returns the built-in sheet tools backed by accessor, ready for
// registration.
func Tools(accessor sheet.CellAccessor) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "view_cells",
				Description: "Read the values and formulas of a cell range. Use this to inspect spreadsheet content before answering or editing; never guess cell contents.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sheetName": map[string]any{
							"type":        "string",
							"description": "Name of the worksheet to read from, e.g. \"Sheet1\".",
						},
						"cells": map[string]any{
							"type":        "string",
							"description": "Cell range to read in A1 notation, e.g. \"A1:C2\".",
						},
					},
					"required": []any{"sheetName", "cells"},
				},
			},
			Handler: viewHandler(accessor),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "edit_cells",
				Description: "Edit spreadsheet cells. Accepts a JSON object mapping A1 addresses to partial cell patches; only the specified properties (value, formula, format) change.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sheetName": map[string]any{
							"type":        "string",
							"description": "Name of the worksheet to edit, e.g. \"Sheet1\".",
						},
						"data": map[string]any{
							"type":        "string",
							"description": "JSON-encoded object mapping A1 addresses to cell patches, e.g. \"{\\\"A1\\\":{\\\"value\\\":5}}\".",
						},
					},
					"required": []any{"sheetName", "data"},
				},
			},
			Handler: editHandler(accessor),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "copy_cells",
				Description: "Copy a rectangular cell range to a new location on the same worksheet, preserving values, formulas, and formatting.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sheetName": map[string]any{
							"type":        "string",
							"description": "Name of the worksheet to copy within.",
						},
						"from": map[string]any{
							"type":        "string",
							"description": "Source range in A1 notation, e.g. \"A1:C5\".",
						},
						"to": map[string]any{
							"type":        "string",
							"description": "Top-left anchor cell of the destination, e.g. \"E1\".",
						},
					},
					"required": []any{"sheetName", "from", "to"},
				},
			},
			Handler: copyHandler(accessor),
		},
	}
}

// viewHandler reads the requested range and returns it as JSON.
func viewHandler(accessor sheet.CellAccessor) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a viewArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("sheettools: parse view_cells arguments: %w", err)
		}
		if a.SheetName == "" || a.Cells == "" {
			return "", fmt.Errorf("sheettools: view_cells requires sheetName and cells")
		}

		data, err := accessor.Read(ctx, a.SheetName, a.Cells)
		if err != nil {
			return "", fmt.Errorf("sheettools: read %s!%s: %w", a.SheetName, a.Cells, err)
		}

		out, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("sheettools: encode range data: %w", err)
		}
		return string(out), nil
	}
}

// editHandler applies the patch map and reports which addresses changed.
func editHandler(accessor sheet.CellAccessor) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a editArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("sheettools: parse edit_cells arguments: %w", err)
		}
		if a.SheetName == "" || a.Data == "" {
			return "", fmt.Errorf("sheettools: edit_cells requires sheetName and data")
		}

		var edits map[string]sheet.Patch
		if err := json.Unmarshal([]byte(a.Data), &edits); err != nil {
			return "", fmt.Errorf("sheettools: edit_cells data is not a JSON object of cell patches: %w", err)
		}
		if len(edits) == 0 {
			return "", fmt.Errorf("sheettools: edit_cells data contains no edits")
		}

		if err := accessor.Write(ctx, a.SheetName, edits); err != nil {
			return "", fmt.Errorf("sheettools: write to sheet %q: %w", a.SheetName, err)
		}

		addrs := make([]string, 0, len(edits))
		for addr := range edits {
			addrs = append(addrs, strings.ToUpper(addr))
		}
		sort.Strings(addrs)
		return fmt.Sprintf("Successfully updated cells %s on sheet %s", strings.Join(addrs, ", "), a.SheetName), nil
	}
}

// copyHandler reads the source range and writes it at the destination anchor.
func copyHandler(accessor sheet.CellAccessor) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a copyArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("sheettools: parse copy_cells arguments: %w", err)
		}
		if a.SheetName == "" || a.From == "" || a.To == "" {
			return "", fmt.Errorf("sheettools: copy_cells requires sheetName, from, and to")
		}

		src, err := sheet.ParseRange(a.From)
		if err != nil {
			return "", fmt.Errorf("sheettools: copy_cells source: %w", err)
		}
		anchor, err := sheet.ParseCell(a.To)
		if err != nil {
			return "", fmt.Errorf("sheettools: copy_cells destination: %w", err)
		}

		data, err := accessor.Read(ctx, a.SheetName, a.From)
		if err != nil {
			return "", fmt.Errorf("sheettools: read source range: %w", err)
		}

		edits := make(map[string]sheet.Patch)
		for r, row := range data.Cells {
			for c, cell := range row {
				dst := sheet.CellRef{Row: anchor.Row + r, Col: anchor.Col + c}
				value := cell.Value
				formula := cell.Formula
				edits[dst.A1()] = sheet.Patch{
					Value:   &value,
					Formula: &formula,
					Format:  cell.Format,
				}
			}
		}

		if err := accessor.Write(ctx, a.SheetName, edits); err != nil {
			return "", fmt.Errorf("sheettools: write destination range: %w", err)
		}

		dstRange := sheet.RangeRef{
			Start: anchor,
			End:   sheet.CellRef{Row: anchor.Row + src.Rows() - 1, Col: anchor.Col + src.Cols() - 1},
		}
		return fmt.Sprintf("Copied %s to %s on sheet %s", src.A1(), dstRange.A1(), a.SheetName), nil
	}
}
