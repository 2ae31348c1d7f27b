package bitdiff

import (
	"encoding/json"
	"iter"
	"maps"
	"slices"
	"strings"
)

// Diff maps a bit position to its new value. A position is only present if
// the two bitstreams it was derived from disagree there, so an empty Diff
// means "identical".
//
// The zero value is an empty Diff ready to use. Copies of a Diff share
// storage; use Clone for an independent copy.
type Diff struct {
	bits map[BitPos]bool
}

// NewDiff returns a Diff holding the given entries.
func NewDiff(entries map[BitPos]bool) Diff {
	d := Diff{bits: make(map[BitPos]bool, len(entries))}
	for p, v := range entries {
		d.bits[p] = v
	}
	return d
}

// DiffOf builds a Diff in which every given position became set.
func DiffOf(ps ...BitPos) Diff {
	d := Diff{bits: make(map[BitPos]bool, len(ps))}
	for _, p := range ps {
		d.bits[p] = true
	}
	return d
}

func (d *Diff) init() {
	if d.bits == nil {
		d.bits = make(map[BitPos]bool)
	}
}

// Len returns the number of differing positions.
func (d Diff) Len() int { return len(d.bits) }

// IsEmpty reports whether the diff holds no positions.
func (d Diff) IsEmpty() bool { return len(d.bits) == 0 }

// Get returns the new value at p and whether p is present.
func (d Diff) Get(p BitPos) (value, ok bool) {
	value, ok = d.bits[p]
	return value, ok
}

// Has reports whether p is present.
func (d Diff) Has(p BitPos) bool {
	_, ok := d.bits[p]
	return ok
}

// Set records p with value v.
func (d *Diff) Set(p BitPos, v bool) {
	d.init()
	d.bits[p] = v
}

// Delete removes p.
func (d *Diff) Delete(p BitPos) {
	delete(d.bits, p)
}

// All iterates over the entries in no particular order.
func (d Diff) All() iter.Seq2[BitPos, bool] {
	return maps.All(d.bits)
}

// Positions returns the positions in sorted order.
func (d Diff) Positions() []BitPos {
	return SortPositions(slices.Collect(maps.Keys(d.bits)))
}

// Entries returns the diff as polarity bits in position order. A cleared bit
// is reported as inverted.
func (d Diff) Entries() []PolBit {
	out := make([]PolBit, 0, len(d.bits))
	for _, p := range d.Positions() {
		out = append(out, PolBit{Pos: p, Inv: !d.bits[p]})
	}
	return out
}

// Clone returns an independent copy.
func (d Diff) Clone() Diff {
	if d.bits == nil {
		return Diff{}
	}
	return Diff{bits: maps.Clone(d.bits)}
}

// Equal reports whether both diffs hold the same positions and values.
func (d Diff) Equal(o Diff) bool {
	return maps.Equal(d.bits, o.bits)
}

// Combine overlays o on top of d. Positions present in only one side are
// kept. Positions present in both with opposite values cancel, since o
// reverts what d did. Positions present in both with the same value keep
// o's value.
func (d Diff) Combine(o Diff) Diff {
	res := d.Clone()
	res.init()
	for p, v := range o.bits {
		if cur, ok := res.bits[p]; ok && cur != v {
			delete(res.bits, p)
			continue
		}
		res.bits[p] = v
	}
	return res
}

// Invert negates every stored value.
func (d Diff) Invert() Diff {
	res := Diff{bits: make(map[BitPos]bool, len(d.bits))}
	for p, v := range d.bits {
		res.bits[p] = !v
	}
	return res
}

// CombineChecked is Combine for two diffs taken against the same base,
// where o undoes or extends d. A position present in both must have
// opposite values and cancels; equal values mean the bit moved the same
// way twice and are reported as an inconsistency.
func (d Diff) CombineChecked(o Diff) (Diff, error) {
	for p, v := range o.bits {
		if cur, ok := d.bits[p]; ok && cur == v {
			return Diff{}, Inconsistent("CombineChecked", o, "bit %s set to %t on both sides", p, v)
		}
	}
	return d.Combine(o), nil
}

// Split factors two diffs with a shared cause. Positions present in both
// go to common and are removed from r1 and r2. A position present in both
// with different values contradicts the shared cause and is reported as an
// inconsistency.
func Split(d1, d2 Diff) (r1, r2, common Diff, err error) {
	r1, r2 = d1.Clone(), d2.Clone()
	common = Diff{bits: make(map[BitPos]bool)}
	for _, p := range d1.Positions() {
		v := d1.bits[p]
		v2, ok := d2.bits[p]
		if !ok {
			continue
		}
		if v2 != v {
			return Diff{}, Diff{}, Diff{}, Inconsistent("Split", d1, "bit %s is %t in one diff and %t in the other", p, v, v2)
		}
		common.bits[p] = v
		delete(r1.bits, p)
		delete(r2.bits, p)
	}
	return r1, r2, common, nil
}

// ExtractCommon returns the positions on which every diff agrees (same
// position, same value) and removes them from each input in place.
// An empty intersection means the experiment did not have the shared cause
// the caller assumed, and is reported as an inconsistency.
func ExtractCommon(diffs []Diff) (Diff, error) {
	if len(diffs) == 0 {
		return Diff{}, Inconsistent("ExtractCommon", Diff{}, "no diffs")
	}
	common := diffs[0].Clone()
	common.init()
	for _, d := range diffs[1:] {
		for p, v := range common.bits {
			if dv, ok := d.bits[p]; !ok || dv != v {
				delete(common.bits, p)
			}
		}
	}
	if common.IsEmpty() {
		return common, Inconsistent("ExtractCommon", diffs[0], "no common bits across %d diffs", len(diffs))
	}
	for i := range diffs {
		for p := range common.bits {
			delete(diffs[i].bits, p)
		}
	}
	return common, nil
}

// SplitBy moves every position matching keep into a new diff.
func (d *Diff) SplitBy(keep func(BitPos) bool) Diff {
	res := Diff{bits: make(map[BitPos]bool)}
	for p, v := range d.bits {
		if keep(p) {
			res.bits[p] = v
			delete(d.bits, p)
		}
	}
	return res
}

// SplitBits moves the given positions into a new diff.
func (d *Diff) SplitBits(ps []BitPos) Diff {
	set := make(map[BitPos]struct{}, len(ps))
	for _, p := range ps {
		set[p] = struct{}{}
	}
	return d.SplitBy(func(p BitPos) bool {
		_, ok := set[p]
		return ok
	})
}

// Discard removes positions without checking their values.
func (d *Diff) Discard(ps ...BitPos) {
	for _, p := range ps {
		delete(d.bits, p)
	}
}

// DiscardPolBits removes the positions of bits without checking values.
func (d *Diff) DiscardPolBits(bits []PolBit) {
	for _, b := range bits {
		delete(d.bits, b.Pos)
	}
}

// AssertEmpty fails if anything is left in d.
func (d Diff) AssertEmpty() error {
	if d.IsEmpty() {
		return nil
	}
	return Inconsistent("AssertEmpty", d, "%d unexplained bits", d.Len())
}

// ApplyBitDiff combines d with a known bit moving from logical value from to
// to. If the bit is present it must currently hold the from state and is
// removed; otherwise the new state is recorded. To peel off a side effect
// that went a->b in a measured diff, apply b->a.
func (d *Diff) ApplyBitDiff(bit PolBit, from, to bool) error {
	return d.ApplyBitVecDiff([]PolBit{bit}, []bool{from}, []bool{to})
}

// ApplyBitVecDiff is ApplyBitDiff over a bit vector.
func (d *Diff) ApplyBitVecDiff(bits []PolBit, from, to []bool) error {
	if len(from) != len(bits) || len(to) != len(bits) {
		return Inconsistent("ApplyBitVecDiff", Diff{}, "width mismatch: %d bits, from %d, to %d",
			len(bits), len(from), len(to))
	}
	d.init()
	for i, b := range bits {
		if from[i] == to[i] {
			continue
		}
		if cur, ok := d.bits[b.Pos]; ok {
			if cur != b.Physical(from[i]) {
				return Inconsistent("ApplyBitVecDiff", *d, "bit %s already at %t", b, cur)
			}
			delete(d.bits, b.Pos)
			continue
		}
		d.bits[b.Pos] = b.Physical(to[i])
	}
	return nil
}

// ApplyBitVecDiffInt is ApplyBitVecDiff with integer endpoints, bit i of the
// value mapping to bits[i].
func (d *Diff) ApplyBitVecDiffInt(bits []PolBit, from, to uint64) error {
	return d.ApplyBitVecDiff(bits, UintBits(from, len(bits)), UintBits(to, len(bits)))
}

// ApplyEnumDiff is ApplyBitVecDiff for raw enum patterns, which are stored
// as physical values.
func (d *Diff) ApplyEnumDiff(bits []BitPos, from, to []bool) error {
	if len(from) != len(bits) || len(to) != len(bits) {
		return Inconsistent("ApplyEnumDiff", Diff{}, "width mismatch: %d bits, from %d, to %d",
			len(bits), len(from), len(to))
	}
	d.init()
	for i, p := range bits {
		if from[i] == to[i] {
			continue
		}
		if cur, ok := d.bits[p]; ok {
			if cur != from[i] {
				return Inconsistent("ApplyEnumDiff", *d, "bit %s already at %t", p, cur)
			}
			delete(d.bits, p)
			continue
		}
		d.bits[p] = to[i]
	}
	return nil
}

// UintBits expands the low width bits of v, least significant first.
func UintBits(v uint64, width int) []bool {
	out := make([]bool, width)
	for i := 0; i < width && i < 64; i++ {
		out[i] = v&(1<<uint(i)) != 0
	}
	return out
}

func (d Diff) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range d.Positions() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
		if d.bits[p] {
			sb.WriteString(":1")
		} else {
			sb.WriteString(":0")
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

type diffEntry struct {
	BitPos
	Value bool `json:"value"`
}

// MarshalJSON writes the diff as a sorted list of entries.
func (d Diff) MarshalJSON() ([]byte, error) {
	entries := make([]diffEntry, 0, len(d.bits))
	for _, p := range d.Positions() {
		entries = append(entries, diffEntry{BitPos: p, Value: d.bits[p]})
	}
	return json.Marshal(entries)
}

func (d *Diff) UnmarshalJSON(data []byte) error {
	var entries []diffEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	d.bits = make(map[BitPos]bool, len(entries))
	for _, e := range entries {
		d.bits[e.BitPos] = e.Value
	}
	return nil
}
