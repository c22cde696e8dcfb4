package sheet

import (
	"fmt"
	"strings"
)

// CellRef is a zero-based (row, column) cell coordinate.
type CellRef struct {
	Row int
	Col int
}

// A1 renders the reference back to A1 notation (e.g. {0,0} → "A1").
func (r CellRef) A1() string {
	return colName(r.Col) + fmt.Sprint(r.Row+1)
}

// RangeRef is an inclusive rectangular range of cells.
type RangeRef struct {
	Start CellRef // top-left
	End   CellRef // bottom-right
}

// A1 renders the range in A1 notation, collapsing single-cell ranges.
func (r RangeRef) A1() string {
	if r.Start == r.End {
		return r.Start.A1()
	}
	return r.Start.A1() + ":" + r.End.A1()
}

// Rows returns the number of rows covered by the range.
func (r RangeRef) Rows() int { return r.End.Row - r.Start.Row + 1 }

// Cols returns the number of columns covered by the range.
func (r RangeRef) Cols() int { return r.End.Col - r.Start.Col + 1 }

// ParseCell parses a single A1 cell address like "A1" or "BC23".
func ParseCell(addr string) (CellRef, error) {
	s := strings.ToUpper(strings.TrimSpace(addr))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) {
		return CellRef{}, fmt.Errorf("sheet: invalid cell address %q", addr)
	}

	col := 0
	for _, c := range s[:i] {
		col = col*26 + int(c-'A'+1)
	}

	row := 0
	for _, c := range s[i:] {
		if c < '0' || c > '9' {
			return CellRef{}, fmt.Errorf("sheet: invalid cell address %q", addr)
		}
		row = row*10 + int(c-'0')
	}
	if row == 0 {
		return CellRef{}, fmt.Errorf("sheet: invalid cell address %q: row numbers start at 1", addr)
	}

	return CellRef{Row: row - 1, Col: col - 1}, nil
}

// ParseRange parses an A1 range like "A1:C3". A bare cell address is accepted
// as a one-cell range. Reversed corners ("C3:A1") are normalised.
func ParseRange(rangeA1 string) (RangeRef, error) {
	s := strings.TrimSpace(rangeA1)
	if s == "" {
		return RangeRef{}, fmt.Errorf("sheet: empty range")
	}

	start, end, found := strings.Cut(s, ":")
	a, err := ParseCell(start)
	if err != nil {
		return RangeRef{}, err
	}
	if !found {
		return RangeRef{Start: a, End: a}, nil
	}
	b, err := ParseCell(end)
	if err != nil {
		return RangeRef{}, err
	}

	if b.Row < a.Row {
		a.Row, b.Row = b.Row, a.Row
	}
	if b.Col < a.Col {
		a.Col, b.Col = b.Col, a.Col
	}
	return RangeRef{Start: a, End: b}, nil
}

// colName converts a zero-based column index to its letter name
// (0 → "A", 25 → "Z", 26 → "AA").
func colName(col int) string {
	name := ""
	n := col + 1
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}
