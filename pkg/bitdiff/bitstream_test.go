package bitdiff

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadBits(t *testing.T) {
	input := `# baseline
0 3 5
0 3 6   # trailing comment

12 0 1
`
	b, err := ReadBits(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 bits, got %d", b.Len())
	}
	for _, p := range []BitPos{pos(0, 3, 5), pos(0, 3, 6), pos(12, 0, 1)} {
		if !b.Get(p) {
			t.Errorf("bit %s not set", p)
		}
	}
}

func TestReadBitsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "0 1\n"},
		{"not a number", "0 x 1\n"},
		{"negative", "0 -1 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadBits(strings.NewReader(tt.input)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestWriteBitsSorted(t *testing.T) {
	b := NewBitstream(pos(1, 0, 0), pos(0, 2, 1), pos(0, 2, 0))
	var buf bytes.Buffer
	if err := WriteBits(&buf, b); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	want := "0 2 0\n0 2 1\n1 0 0\n"
	if buf.String() != want {
		t.Errorf("WriteBits = %q, want %q", buf.String(), want)
	}
}
