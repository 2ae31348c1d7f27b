package bitdb

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// ItemKind selects which fields of a TileItem are meaningful.
type ItemKind int

const (
	KindBitVec ItemKind = iota
	KindEnum
	KindMux
)

func (k ItemKind) String() string {
	switch k {
	case KindBitVec:
		return "bitvec"
	case KindEnum:
		return "enum"
	case KindMux:
		return "mux"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

func (k ItemKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ItemKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bitvec":
		*k = KindBitVec
	case "enum":
		*k = KindEnum
	case "mux":
		*k = KindMux
	default:
		return fmt.Errorf("bitdb: unknown item kind %q", b)
	}
	return nil
}

// Encoding is how an integer maps onto a bit vector.
type Encoding string

const (
	Binary Encoding = "binary"
	Gray   Encoding = "gray"
)

// Pattern is a fixed bit pattern over an item's positions, stored as
// physical values. It serializes as a string of '0' and '1', position 0
// first.
type Pattern []bool

func (p Pattern) String() string {
	var sb strings.Builder
	for _, v := range p {
		if v {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParsePattern parses the form produced by Pattern.String.
func ParsePattern(s string) (Pattern, error) {
	p := make(Pattern, len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			p[i] = true
		default:
			return nil, fmt.Errorf("bitdb: invalid pattern %q", s)
		}
	}
	return p, nil
}

func (p Pattern) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Pattern) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePattern(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TileItem is the collected encoding of one Key. A bit vector uses Bits and
// Encoding; an enum uses Positions and Values; a mux additionally uses None
// for the pattern with no source selected, or nil if that state is illegal.
type TileItem struct {
	Kind      ItemKind           `json:"kind"`
	Bits      []bitdiff.PolBit   `json:"bits,omitempty"`
	Encoding  Encoding           `json:"encoding,omitempty"`
	Positions []bitdiff.BitPos   `json:"positions,omitempty"`
	Values    map[string]Pattern `json:"values,omitempty"`
	None      Pattern            `json:"none,omitempty"`
}

// NewBitVec returns a bit-vector item. Bit i of a value maps to bits[i].
func NewBitVec(bits []bitdiff.PolBit, enc Encoding) TileItem {
	if enc == "" {
		enc = Binary
	}
	return TileItem{Kind: KindBitVec, Bits: slices.Clone(bits), Encoding: enc}
}

// NewBool returns a single-bit item.
func NewBool(bit bitdiff.PolBit) TileItem {
	return NewBitVec([]bitdiff.PolBit{bit}, Binary)
}

// NewEnum returns an enumerated item.
func NewEnum(positions []bitdiff.BitPos, values map[string]Pattern) TileItem {
	return TileItem{Kind: KindEnum, Positions: slices.Clone(positions), Values: maps.Clone(values)}
}

// NewMux returns a mux source table. none may be nil.
func NewMux(positions []bitdiff.BitPos, sources map[string]Pattern, none Pattern) TileItem {
	return TileItem{
		Kind:      KindMux,
		Positions: slices.Clone(positions),
		Values:    maps.Clone(sources),
		None:      slices.Clone(none),
	}
}

// Width returns the number of positions the item covers.
func (it TileItem) Width() int {
	if it.Kind == KindBitVec {
		return len(it.Bits)
	}
	return len(it.Positions)
}

// AllPositions returns every position the item covers, in item order.
func (it TileItem) AllPositions() []bitdiff.BitPos {
	if it.Kind != KindBitVec {
		return slices.Clone(it.Positions)
	}
	out := make([]bitdiff.BitPos, len(it.Bits))
	for i, b := range it.Bits {
		out[i] = b.Pos
	}
	return out
}

// Labels returns the enum labels or mux sources in sorted order.
func (it TileItem) Labels() []string {
	return slices.Sorted(maps.Keys(it.Values))
}

// Validate checks the structural invariants of the item: widths agree,
// positions are unique, and every enum or mux pattern is distinct.
func (it TileItem) Validate() error {
	seen := make(map[bitdiff.BitPos]bool)
	for _, p := range it.AllPositions() {
		if seen[p] {
			return fmt.Errorf("bitdb: position %s used twice", p)
		}
		seen[p] = true
	}
	switch it.Kind {
	case KindBitVec:
		if len(it.Bits) == 0 {
			return fmt.Errorf("bitdb: empty bit vector")
		}
		if it.Encoding != Binary && it.Encoding != Gray {
			return fmt.Errorf("bitdb: unknown encoding %q", it.Encoding)
		}
		return nil
	case KindEnum, KindMux:
		owner := make(map[string]string)
		for _, label := range it.Labels() {
			pat := it.Values[label]
			if len(pat) != len(it.Positions) {
				return fmt.Errorf("bitdb: value %q has width %d, want %d", label, len(pat), len(it.Positions))
			}
			if prev, ok := owner[pat.String()]; ok {
				return fmt.Errorf("bitdb: values %q and %q share pattern %s", prev, label, pat)
			}
			owner[pat.String()] = label
		}
		if it.None != nil {
			if len(it.None) != len(it.Positions) {
				return fmt.Errorf("bitdb: none pattern has width %d, want %d", len(it.None), len(it.Positions))
			}
			if prev, ok := owner[it.None.String()]; ok {
				return fmt.Errorf("bitdb: source %q shares the none pattern %s", prev, it.None)
			}
		}
		return nil
	default:
		return fmt.Errorf("bitdb: unknown item kind %d", it.Kind)
	}
}

// Equal reports whether two items describe the same encoding.
func (it TileItem) Equal(o TileItem) bool {
	if it.Kind != o.Kind || it.Encoding != o.Encoding {
		return false
	}
	if !slices.Equal(it.Bits, o.Bits) || !slices.Equal(it.Positions, o.Positions) {
		return false
	}
	if !slices.Equal(it.None, o.None) {
		return false
	}
	return maps.EqualFunc(it.Values, o.Values, func(a, b Pattern) bool { return slices.Equal(a, b) })
}

// EncodeInt returns the physical values of the bits for integer v.
func (it TileItem) EncodeInt(v uint64) ([]bool, error) {
	if it.Kind != KindBitVec {
		return nil, fmt.Errorf("bitdb: EncodeInt on %s item", it.Kind)
	}
	if len(it.Bits) < 64 && v>>uint(len(it.Bits)) != 0 {
		return nil, fmt.Errorf("bitdb: value %d does not fit in %d bits", v, len(it.Bits))
	}
	if it.Encoding == Gray {
		v ^= v >> 1
	}
	logical := bitdiff.UintBits(v, len(it.Bits))
	out := make([]bool, len(it.Bits))
	for i, b := range it.Bits {
		out[i] = b.Physical(logical[i])
	}
	return out, nil
}

// DecodeInt reverses EncodeInt.
func (it TileItem) DecodeInt(physical []bool) (uint64, error) {
	if it.Kind != KindBitVec {
		return 0, fmt.Errorf("bitdb: DecodeInt on %s item", it.Kind)
	}
	if len(physical) != len(it.Bits) {
		return 0, fmt.Errorf("bitdb: got %d bits, want %d", len(physical), len(it.Bits))
	}
	var v uint64
	for i, b := range it.Bits {
		if physical[i] != b.Inv {
			v |= 1 << uint(i)
		}
	}
	if it.Encoding == Gray {
		for shift := v >> 1; shift != 0; shift >>= 1 {
			v ^= shift
		}
	}
	return v, nil
}

// Pattern returns the pattern for label. For a mux the empty label selects
// the none pattern.
func (it TileItem) Pattern(label string) (Pattern, error) {
	if it.Kind == KindBitVec {
		return nil, fmt.Errorf("bitdb: Pattern on %s item", it.Kind)
	}
	if it.Kind == KindMux && label == "" {
		if it.None == nil {
			return nil, fmt.Errorf("bitdb: mux has no disconnected state")
		}
		return it.None, nil
	}
	p, ok := it.Values[label]
	if !ok {
		return nil, fmt.Errorf("bitdb: unknown value %q", label)
	}
	return p, nil
}

// Match returns the label whose pattern equals physical. For a mux the none
// pattern matches as the empty label.
func (it TileItem) Match(physical []bool) (string, error) {
	if it.Kind == KindMux && it.None != nil && slices.Equal(Pattern(physical), it.None) {
		return "", nil
	}
	for _, label := range it.Labels() {
		if slices.Equal(it.Values[label], Pattern(physical)) {
			return label, nil
		}
	}
	return "", fmt.Errorf("bitdb: pattern %s matches no value", Pattern(physical))
}

// Read extracts the item's physical bits from a tile bitstream.
func (it TileItem) Read(bs *bitdiff.Bitstream) []bool {
	ps := it.AllPositions()
	out := make([]bool, len(ps))
	for i, p := range ps {
		out[i] = bs.Get(p)
	}
	return out
}

// Write stores physical bits into a tile bitstream.
func (it TileItem) Write(bs *bitdiff.Bitstream, physical []bool) error {
	ps := it.AllPositions()
	if len(physical) != len(ps) {
		return fmt.Errorf("bitdb: got %d bits, want %d", len(physical), len(ps))
	}
	for i, p := range ps {
		bs.Set(p, physical[i])
	}
	return nil
}
