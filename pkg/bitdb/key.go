package bitdb

import (
	"fmt"
	"strings"
)

// Key identifies the thing being learned. It carries no bits. The set of
// implementations is closed: MuxKey, FieldKey, AttrKey, InvKey and BufKey.
type Key interface {
	// TileKind is the kind of tile the key belongs to.
	TileKind() string
	String() string
	isKey()
}

// MuxKey names the routing multiplexer driving wire Dst.
type MuxKey struct {
	Tile string
	Dst  string
}

// FieldKey names a multi-bit numeric field on a block.
type FieldKey struct {
	Tile  string
	Block string
	Field string
}

// AttrKey names a boolean or enumerated attribute on a block.
type AttrKey struct {
	Tile  string
	Block string
	Attr  string
}

// InvKey names the polarity inverter on an input pin of a block.
type InvKey struct {
	Tile  string
	Block string
	Pin   string
}

// BufKey names a programmable buffer from Src to Dst.
type BufKey struct {
	Tile string
	Dst  string
	Src  string
}

func (k MuxKey) TileKind() string   { return k.Tile }
func (k FieldKey) TileKind() string { return k.Tile }
func (k AttrKey) TileKind() string  { return k.Tile }
func (k InvKey) TileKind() string   { return k.Tile }
func (k BufKey) TileKind() string   { return k.Tile }

func (k MuxKey) String() string   { return joinKey("mux", k.Tile, k.Dst) }
func (k FieldKey) String() string { return joinKey("field", k.Tile, k.Block, k.Field) }
func (k AttrKey) String() string  { return joinKey("attr", k.Tile, k.Block, k.Attr) }
func (k InvKey) String() string   { return joinKey("inv", k.Tile, k.Block, k.Pin) }
func (k BufKey) String() string   { return joinKey("buf", k.Tile, k.Dst, k.Src) }

func (MuxKey) isKey()   {}
func (FieldKey) isKey() {}
func (AttrKey) isKey()  {}
func (InvKey) isKey()   {}
func (BufKey) isKey()   {}

func joinKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// CheckKey reports whether k survives a round trip through its string form.
// Components must be non-empty and must not contain ':'.
func CheckKey(k Key) error {
	parsed, err := ParseKey(k.String())
	if err != nil {
		return err
	}
	if parsed != k {
		return fmt.Errorf("bitdb: invalid key %q: component contains ':'", k.String())
	}
	return nil
}

// ParseKey parses the form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("bitdb: invalid key %q: empty component", s)
		}
	}
	want := map[string]int{"mux": 3, "field": 4, "attr": 4, "inv": 4, "buf": 4}
	n, ok := want[parts[0]]
	if !ok {
		return nil, fmt.Errorf("bitdb: invalid key %q: unknown kind %q", s, parts[0])
	}
	if len(parts) != n {
		return nil, fmt.Errorf("bitdb: invalid key %q: expected %d components", s, n)
	}
	switch parts[0] {
	case "mux":
		return MuxKey{Tile: parts[1], Dst: parts[2]}, nil
	case "field":
		return FieldKey{Tile: parts[1], Block: parts[2], Field: parts[3]}, nil
	case "attr":
		return AttrKey{Tile: parts[1], Block: parts[2], Attr: parts[3]}, nil
	case "inv":
		return InvKey{Tile: parts[1], Block: parts[2], Pin: parts[3]}, nil
	default:
		return BufKey{Tile: parts[1], Dst: parts[2], Src: parts[3]}, nil
	}
}
