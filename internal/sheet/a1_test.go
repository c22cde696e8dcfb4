package sheet

import "testing"

func TestParseCell(t *testing.T) {
	tests := []struct {
		in   string
		row  int
		col  int
		a1   string
		fail bool
	}{
		{in: "A1", row: 0, col: 0, a1: "A1"},
		{in: "B2", row: 1, col: 1, a1: "B2"},
		{in: "Z10", row: 9, col: 25, a1: "Z10"},
		{in: "AA1", row: 0, col: 26, a1: "AA1"},
		{in: "AB70", row: 69, col: 27, a1: "AB70"},
		{in: "a1", row: 0, col: 0, a1: "A1"},

		{in: "", fail: true},
		{in: "1A", fail: true},
		{in: "A0", fail: true},
		{in: "A", fail: true},
		{in: "12", fail: true},
		{in: "A1:B2", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseCell(tt.in)
			if tt.fail {
				if err == nil {
					t.Fatalf("ParseCell(%q) = %+v, want error", tt.in, ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCell(%q) error = %v", tt.in, err)
			}
			if ref.Row != tt.row || ref.Col != tt.col {
				t.Errorf("ParseCell(%q) = (%d,%d), want (%d,%d)", tt.in, ref.Row, ref.Col, tt.row, tt.col)
			}
			if got := ref.A1(); got != tt.a1 {
				t.Errorf("A1() = %q, want %q", got, tt.a1)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	rng, err := ParseRange("A1:C3")
	if err != nil {
		t.Fatalf("ParseRange() error = %v", err)
	}
	if rng.Rows() != 3 || rng.Cols() != 3 {
		t.Errorf("range = %dx%d, want 3x3", rng.Rows(), rng.Cols())
	}
	if got := rng.A1(); got != "A1:C3" {
		t.Errorf("A1() = %q, want A1:C3", got)
	}
}

func TestParseRangeSingleCell(t *testing.T) {
	rng, err := ParseRange("B2")
	if err != nil {
		t.Fatalf("ParseRange() error = %v", err)
	}
	if rng.Rows() != 1 || rng.Cols() != 1 {
		t.Errorf("range = %dx%d, want 1x1", rng.Rows(), rng.Cols())
	}
	if got := rng.A1(); got != "B2" {
		t.Errorf("A1() = %q, want B2", got)
	}
}

func TestParseRangeNormalisesReversedCorners(t *testing.T) {
	rng, err := ParseRange("C3:A1")
	if err != nil {
		t.Fatalf("ParseRange() error = %v", err)
	}
	if got := rng.A1(); got != "A1:C3" {
		t.Errorf("A1() = %q, want normalised A1:C3", got)
	}
}

func TestParseRangeInvalid(t *testing.T) {
	for _, in := range []string{"", ":", "A1:", ":B2", "A1:B2:C3", "A1:XX"} {
		if _, err := ParseRange(in); err == nil {
			t.Errorf("ParseRange(%q): want error, got nil", in)
		}
	}
}
