package sheet

import (
	"context"
	"fmt"
	"sync"
)

// Workbook is an in-memory [CellAccessor]. Sheets are created on first write;
// reads from unknown sheets return empty cells. Safe for concurrent use.
//
// The zero value is NOT usable; create instances with [NewWorkbook].
type Workbook struct {
	mu     sync.RWMutex
	sheets map[string]map[CellRef]Cell
}

// Compile-time check: Workbook must implement CellAccessor.
var _ CellAccessor = (*Workbook)(nil)

// NewWorkbook creates an empty workbook.
func NewWorkbook() *Workbook {
	return &Workbook{sheets: make(map[string]map[CellRef]Cell)}
}

// Read implements [CellAccessor].
func (w *Workbook) Read(ctx context.Context, sheetName, rangeA1 string) (*RangeData, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sheet: %w", err)
	}
	if sheetName == "" {
		return nil, fmt.Errorf("sheet: sheet name must not be empty")
	}
	rng, err := ParseRange(rangeA1)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	grid := w.sheets[sheetName] // nil map reads as empty cells

	cells := make([][]Cell, rng.Rows())
	for r := 0; r < rng.Rows(); r++ {
		cells[r] = make([]Cell, rng.Cols())
		for c := 0; c < rng.Cols(); c++ {
			ref := CellRef{Row: rng.Start.Row + r, Col: rng.Start.Col + c}
			cells[r][c] = grid[ref]
		}
	}

	return &RangeData{Sheet: sheetName, Address: rng.A1(), Cells: cells}, nil
}

// Write implements [CellAccessor]. Each entry in edits patches a single cell;
// only the patch's non-nil fields change. Unknown sheets are created.
func (w *Workbook) Write(ctx context.Context, sheetName string, edits map[string]Patch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sheet: %w", err)
	}
	if sheetName == "" {
		return fmt.Errorf("sheet: sheet name must not be empty")
	}

	// Validate all addresses before applying anything, so a malformed edit
	// map does not leave a half-applied write behind.
	refs := make(map[string]CellRef, len(edits))
	for addr := range edits {
		ref, err := ParseCell(addr)
		if err != nil {
			return err
		}
		refs[addr] = ref
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	grid, ok := w.sheets[sheetName]
	if !ok {
		grid = make(map[CellRef]Cell)
		w.sheets[sheetName] = grid
	}

	for addr, patch := range edits {
		ref := refs[addr]
		cell := grid[ref]
		if patch.Value != nil {
			cell.Value = *patch.Value
			// A literal value displaces any previous formula unless the same
			// patch also sets one.
			if patch.Formula == nil {
				cell.Formula = ""
			}
		}
		if patch.Formula != nil {
			cell.Formula = *patch.Formula
		}
		if patch.Format != nil {
			if cell.Format == nil {
				cell.Format = make(map[string]any, len(patch.Format))
			}
			for k, v := range patch.Format {
				cell.Format[k] = v
			}
		}
		grid[ref] = cell
	}

	return nil
}

// SheetNames returns the names of all sheets that have received at least one
// write, in unspecified order.
func (w *Workbook) SheetNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.sheets))
	for name := range w.sheets {
		names = append(names, name)
	}
	return names
}
