// Package sheet defines the cell-access boundary between SheetPilot's tools
// and the spreadsheet that owns the data.
//
// The spreadsheet itself is an external collaborator — in the reference
// deployment it lives inside the user's spreadsheet application and tool
// calls are executed client-side. [CellAccessor] captures the contract the
// tools rely on; [Workbook] is an in-memory implementation used for
// server-side execution and tests.
package sheet

import "context"

// Cell holds the full addressable state of one spreadsheet cell.
type Cell struct {
	// Value is the computed or literal cell value. Numbers are float64,
	// booleans bool, everything else string. Nil means empty.
	Value any `json:"value"`

	// Formula is the cell's formula including the leading "=", or empty when
	// the cell holds a literal value.
	Formula string `json:"formula,omitempty"`

	// Format is an opaque formatting descriptor (font colour, fill, number
	// format). SheetPilot passes it through without interpreting it.
	Format map[string]any `json:"format,omitempty"`
}

// Patch is a partial update to a single cell. Only non-nil fields are
// applied; unspecified properties keep their current state.
type Patch struct {
	Value   *any            `json:"value,omitempty"`
	Formula *string         `json:"formula,omitempty"`
	Format  map[string]any  `json:"format,omitempty"`
}

// RangeData is the outcome of reading an A1 range.
type RangeData struct {
	// Sheet is the worksheet name the range was read from.
	Sheet string `json:"sheet"`

	// Address is the normalised A1 address of the range (e.g. "A1:C2").
	Address string `json:"address"`

	// Cells holds the range contents in row-major order, indexed
	// [row][column] relative to the range's top-left corner.
	Cells [][]Cell `json:"cells"`
}

// CellAccessor performs reads and writes against a spreadsheet document.
//
// Implementations must tolerate partial patches (only the specified
// properties change) and are assumed single-writer per document; callers
// serialise conflicting edits.
type CellAccessor interface {
	// Read returns the contents of rangeA1 (e.g. "A1", "B2:D5") on the named
	// sheet. Reading a range that extends past populated cells returns empty
	// cells, not an error.
	Read(ctx context.Context, sheetName, rangeA1 string) (*RangeData, error)

	// Write applies edits, a map from A1 cell address to partial patch, to
	// the named sheet. All-or-nothing is not guaranteed across addresses;
	// within one cell a patch is applied atomically.
	Write(ctx context.Context, sheetName string, edits map[string]Patch) error
}
