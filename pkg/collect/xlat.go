package collect

import (
	"maps"
	"math/bits"
	"slices"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// LabeledDiff is the diff measured for one value of an attribute.
type LabeledDiff struct {
	Label string
	Diff  bitdiff.Diff
}

// VecDiff is the diff measured for one bit-vector value, least significant
// bit first.
type VecDiff struct {
	Value []bool
	Diff  bitdiff.Diff
}

// IntDiff is the diff measured for one integer value.
type IntDiff struct {
	Value uint64
	Diff  bitdiff.Diff
}

// XlatBit reduces a diff that must flip exactly one bit. The polarity is
// chosen so that logical true is the value the diff sets.
func XlatBit(d bitdiff.Diff) (bitdiff.PolBit, error) {
	if d.Len() != 1 {
		return bitdiff.PolBit{}, bitdiff.Inconsistent("XlatBit", d, "expected exactly one bit, got %d", d.Len())
	}
	return d.Entries()[0], nil
}

// XlatBitVec reduces one single-bit diff per vector bit. Every vector bit
// must land on its own position.
func XlatBitVec(diffs []bitdiff.Diff) ([]bitdiff.PolBit, error) {
	out := make([]bitdiff.PolBit, len(diffs))
	owner := make(map[bitdiff.BitPos]int, len(diffs))
	for i, d := range diffs {
		b, err := XlatBit(d)
		if err != nil {
			return nil, err
		}
		if j, ok := owner[b.Pos]; ok {
			return nil, bitdiff.Inconsistent("XlatBitVec", d, "bits %d and %d both resolve to %s", j, i, b.Pos)
		}
		owner[b.Pos] = i
		out[i] = b
	}
	return out, nil
}

// XlatBitWide reduces a diff whose bits all switch together, such as a
// replicated flag. Every bit must move in the same direction.
func XlatBitWide(d bitdiff.Diff) ([]bitdiff.PolBit, error) {
	if d.IsEmpty() {
		return nil, bitdiff.Inconsistent("XlatBitWide", d, "empty diff")
	}
	out := d.Entries()
	for _, b := range out[1:] {
		if b.Inv != out[0].Inv {
			return nil, bitdiff.Inconsistent("XlatBitWide", d, "bits move in different directions")
		}
	}
	return out, nil
}

// XlatBitBi reduces a boolean measured in both directions from its default.
// Exactly one of d0 (setting false) and d1 (setting true) must be empty;
// the empty one names the default.
func XlatBitBi(d0, d1 bitdiff.Diff) (bit bitdiff.PolBit, def bool, err error) {
	if d0.IsEmpty() {
		bit, err = XlatBit(d1)
		return bit, false, err
	}
	if !d1.IsEmpty() {
		return bitdiff.PolBit{}, false, bitdiff.Inconsistent("XlatBitBi", d1, "both directions changed bits")
	}
	bit, err = XlatBit(d0.Invert())
	return bit, true, err
}

func oneHot(v []bool) (int, bool) {
	idx := -1
	for i, b := range v {
		if !b {
			continue
		}
		if idx >= 0 {
			return -1, false
		}
		idx = i
	}
	return idx, idx >= 0
}

func xorBits(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] != b[i]
	}
	return out
}

// XlatBitVecSparse recovers a bit vector from diffs measured at arbitrary
// values. The value whose diff is empty is the baseline. Values one bit
// away from the baseline identify bits directly; known bits are then peeled
// off the remaining diffs until every bit is found. When no value is one
// bit away, two measured values one bit apart are subtracted instead.
func XlatBitVecSparse(diffs []VecDiff) ([]bitdiff.PolBit, error) {
	if len(diffs) == 0 {
		return nil, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{}, "no values")
	}
	width := len(diffs[0].Value)
	base := make([]bool, width)
	for _, vd := range diffs {
		if len(vd.Value) != width {
			return nil, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{},
				"value width %d, want %d", len(vd.Value), width)
		}
		if vd.Diff.IsEmpty() {
			base = slices.Clone(vd.Value)
		}
	}
	found := make([]*bitdiff.PolBit, width)

	strip := func(vd VecDiff) ([]bool, bitdiff.Diff, error) {
		val := slices.Clone(vd.Value)
		d := vd.Diff.Clone()
		for i, b := range found {
			if b == nil || val[i] == base[i] {
				continue
			}
			if err := d.ApplyBitDiff(*b, val[i], base[i]); err != nil {
				return nil, bitdiff.Diff{}, err
			}
			val[i] = base[i]
		}
		return val, d, nil
	}

	for {
		progress, done := false, true
		for _, vd := range diffs {
			val, d, err := strip(vd)
			if err != nil {
				return nil, err
			}
			delta := xorBits(val, base)
			if !slices.Contains(delta, true) {
				if err := d.AssertEmpty(); err != nil {
					return nil, err
				}
				continue
			}
			idx, ok := oneHot(delta)
			if !ok {
				done = false
				continue
			}
			b, err := XlatBit(d)
			if err != nil {
				return nil, err
			}
			b.Inv = b.Inv != base[idx]
			found[idx] = &b
			progress = true
		}
		if done {
			break
		}
		if !progress {
			var err error
			progress, err = sparsePair(diffs, found, strip)
			if err != nil {
				return nil, err
			}
		}
		if !progress {
			return nil, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{}, "no progress; values do not determine all bits")
		}
	}

	out := make([]bitdiff.PolBit, width)
	owner := make(map[bitdiff.BitPos]int, width)
	for i, b := range found {
		if b == nil {
			return nil, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{}, "bit %d never varied", i)
		}
		if j, ok := owner[b.Pos]; ok {
			return nil, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{},
				"bits %d and %d both resolve to %s", j, i, b.Pos)
		}
		owner[b.Pos] = i
		out[i] = *b
	}
	return out, nil
}

func sparsePair(diffs []VecDiff, found []*bitdiff.PolBit, strip func(VecDiff) ([]bool, bitdiff.Diff, error)) (bool, error) {
	for _, a := range diffs {
		va, da, err := strip(a)
		if err != nil {
			return false, err
		}
		for _, b := range diffs {
			vb, db, err := strip(b)
			if err != nil {
				return false, err
			}
			idx, ok := oneHot(xorBits(va, vb))
			if !ok {
				continue
			}
			if found[idx] != nil {
				return false, bitdiff.Inconsistent("XlatBitVecSparse", bitdiff.Diff{}, "bit %d found twice", idx)
			}
			from, to := da, db
			if !vb[idx] {
				from, to = db, da
			}
			d, err := to.CombineChecked(from.Invert())
			if err != nil {
				return false, err
			}
			bit, err := XlatBit(d)
			if err != nil {
				return false, err
			}
			found[idx] = &bit
			return true, nil
		}
	}
	return false, nil
}

// XlatBitVecInt is XlatBitVecSparse over integer values. The width is the
// bit length of the largest value.
func XlatBitVecInt(diffs []IntDiff) ([]bitdiff.PolBit, error) {
	width := 0
	for _, d := range diffs {
		width = max(width, bits.Len64(d.Value))
	}
	vd := make([]VecDiff, len(diffs))
	for i, d := range diffs {
		vd[i] = VecDiff{Value: bitdiff.UintBits(d.Value, width), Diff: d.Diff}
	}
	return XlatBitVecSparse(vd)
}

// XlatEnumRaw assigns every label a pattern over the union of positions
// its diffs touch. A position must move in the same direction in every
// diff; patterns hold physical values, with untouched positions at their
// baseline. Distinct labels must end up with distinct patterns, and a label
// that appears twice must get the same pattern both times.
func XlatEnumRaw(diffs []LabeledDiff, ocd OCD) ([]bitdiff.BitPos, map[string]bitdb.Pattern, error) {
	pol := make(map[bitdiff.BitPos]bool)
	for _, ld := range diffs {
		for p, v := range ld.Diff.All() {
			if cur, ok := pol[p]; ok && cur != v {
				return nil, nil, bitdiff.Inconsistent("XlatEnumRaw", ld.Diff,
					"%q moves %s the other way", ld.Label, p)
			}
			pol[p] = v
		}
	}
	positions := slices.SortedFunc(maps.Keys(pol), bitdiff.BitPos.Compare)
	value := func(p bitdiff.BitPos, d bitdiff.Diff) bool {
		return pol[p] != !d.Has(p)
	}

	switch ocd.mode {
	case ocdFixedOrder:
		if len(ocd.fixed) != len(positions) {
			return nil, nil, bitdiff.Inconsistent("XlatEnumRaw", bitdiff.Diff{},
				"fixed order has %d positions, diffs touch %d", len(ocd.fixed), len(positions))
		}
		for _, p := range ocd.fixed {
			if _, ok := pol[p]; !ok {
				return nil, nil, bitdiff.Inconsistent("XlatEnumRaw", bitdiff.Diff{}, "fixed position %s never changes", p)
			}
		}
		positions = slices.Clone(ocd.fixed)
	case ocdBitOrder:
	default:
		slices.SortStableFunc(positions, func(a, b bitdiff.BitPos) int {
			for _, ld := range diffs {
				va, vb := value(a, ld.Diff), value(b, ld.Diff)
				if va != vb {
					if va {
						return -1
					}
					return 1
				}
			}
			return 0
		})
	}
	switch ocd.mode {
	case ocdBitMajorOrder:
		slices.SortFunc(positions, func(a, b bitdiff.BitPos) int {
			if a.Tile != b.Tile {
				return a.Tile - b.Tile
			}
			if a.Bit != b.Bit {
				return a.Bit - b.Bit
			}
			return a.Frame - b.Frame
		})
	case ocdMux:
		var err error
		positions, err = muxOrder(positions, diffs, value)
		if err != nil {
			return nil, nil, err
		}
	}

	values := make(map[string]bitdb.Pattern, len(diffs))
	for _, ld := range diffs {
		pat := make(bitdb.Pattern, len(positions))
		for i, p := range positions {
			pat[i] = value(p, ld.Diff)
		}
		if cur, ok := values[ld.Label]; ok {
			if !slices.Equal(cur, pat) {
				return nil, nil, bitdiff.Inconsistent("XlatEnumRaw", ld.Diff,
					"%q measured twice with patterns %s and %s", ld.Label, cur, pat)
			}
			continue
		}
		values[ld.Label] = pat
	}

	owner := make(map[string]string, len(values))
	for _, label := range slices.Sorted(maps.Keys(values)) {
		key := values[label].String()
		if prev, ok := owner[key]; ok {
			return nil, nil, bitdiff.Inconsistent("XlatEnumRaw", bitdiff.Diff{},
				"%q and %q are indistinguishable (pattern %s)", prev, label, values[label])
		}
		owner[key] = label
	}
	return positions, values, nil
}

// muxOrder groups positions that are never set together (one-hot groups)
// and that cover every non-empty value. Single-position groups are enable
// bits and go first, then groups from largest to smallest, then the rest.
func muxOrder(positions []bitdiff.BitPos, diffs []LabeledDiff, value func(bitdiff.BitPos, bitdiff.Diff) bool) ([]bitdiff.BitPos, error) {
	vals := make([][]bool, len(diffs))
	for i, ld := range diffs {
		vals[i] = make([]bool, len(positions))
		for j, p := range positions {
			vals[i][j] = value(p, ld.Diff)
		}
	}

	taken := make([]bool, len(positions))
	var enables []int
	var groups [][]int
	for s := range positions {
		if taken[s] {
			continue
		}
		group := []int{s}
		for n := s + 1; n < len(positions); n++ {
			if taken[n] {
				continue
			}
			disjoint := true
			for _, c := range group {
				for _, v := range vals {
					if v[n] && v[c] {
						disjoint = false
					}
				}
			}
			if disjoint {
				group = append(group, n)
			}
		}
		full := true
		for i, v := range vals {
			cnt := 0
			for _, b := range group {
				if v[b] {
					cnt++
				}
			}
			if cnt > 1 {
				return nil, bitdiff.Inconsistent("XlatEnumRaw", diffs[i].Diff,
					"%q sets %d bits of a one-hot group", diffs[i].Label, cnt)
			}
			if cnt == 0 && slices.Contains(v, true) {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		for _, b := range group {
			taken[b] = true
		}
		if len(group) == 1 {
			enables = append(enables, group[0])
		} else {
			groups = append(groups, group)
		}
	}
	slices.SortStableFunc(groups, func(a, b []int) int { return len(b) - len(a) })

	out := make([]bitdiff.BitPos, 0, len(positions))
	for _, i := range enables {
		out = append(out, positions[i])
	}
	for _, g := range groups {
		for _, i := range g {
			out = append(out, positions[i])
		}
	}
	for i, p := range positions {
		if !taken[i] {
			out = append(out, p)
		}
	}
	return out, nil
}
