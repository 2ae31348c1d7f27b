package bitdiff

import (
	"cmp"
	"fmt"
	"slices"
)

// BitPos identifies one physical configuration bit.
type BitPos struct {
	Tile  int `json:"tile"`
	Frame int `json:"frame"`
	Bit   int `json:"bit"`
}

// Compare orders positions by tile, then frame, then bit.
func (p BitPos) Compare(q BitPos) int {
	if c := cmp.Compare(p.Tile, q.Tile); c != 0 {
		return c
	}
	if c := cmp.Compare(p.Frame, q.Frame); c != 0 {
		return c
	}
	return cmp.Compare(p.Bit, q.Bit)
}

// Less reports whether p sorts before q.
func (p BitPos) Less(q BitPos) bool {
	return p.Compare(q) < 0
}

func (p BitPos) String() string {
	return fmt.Sprintf("T%d:F%d:B%d", p.Tile, p.Frame, p.Bit)
}

// ParseBitPos parses the form produced by BitPos.String.
func ParseBitPos(s string) (BitPos, error) {
	var p BitPos
	if _, err := fmt.Sscanf(s, "T%d:F%d:B%d", &p.Tile, &p.Frame, &p.Bit); err != nil {
		return BitPos{}, fmt.Errorf("bitdiff: invalid bit position %q: %w", s, err)
	}
	return p, nil
}

// SortPositions sorts ps in place and returns it.
func SortPositions(ps []BitPos) []BitPos {
	slices.SortFunc(ps, BitPos.Compare)
	return ps
}

// PolBit is a bit position with a polarity. The physical value of the bit
// is the logical value XOR Inv.
type PolBit struct {
	Pos BitPos `json:"pos"`
	Inv bool   `json:"inv,omitempty"`
}

// Physical returns the bit value stored in the bitstream for logical value v.
func (b PolBit) Physical(v bool) bool {
	return v != b.Inv
}

func (b PolBit) String() string {
	if b.Inv {
		return "!" + b.Pos.String()
	}
	return b.Pos.String()
}

// ComparePolBits orders by position, then non-inverted first.
func ComparePolBits(a, b PolBit) int {
	if c := a.Pos.Compare(b.Pos); c != 0 {
		return c
	}
	switch {
	case a.Inv == b.Inv:
		return 0
	case !a.Inv:
		return -1
	default:
		return 1
	}
}
