// Package topology describes the physical layout of a device: its tiles,
// the wires and pips inside each tile, which wires form one electrical
// node, and the connections and naming groups a verifier should check.
//
// Topologies are read from s-expression files:
//
//	(topology "xc2064"
//	  (tile CLB_R1C1 (kind CLB) (at 1 1) (bits 0)
//	    (wires A B X)
//	    (pip X A) (pip X B))
//	  (node CLB_R1C1.X CLB_R1C2.W)
//	  (driven CLB_R1C1.X)
//	  (connect CLB_R1C1.X CLB_R2C1.A)
//	  (group spine CLB_R1C1.K CLB_R2C1.K))
//
// A pip is written destination first.
package topology

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// Pip is a programmable connection inside a tile.
type Pip struct {
	Dst string
	Src string
}

func (p Pip) String() string { return p.Dst + " <- " + p.Src }

// Tile is one tile instance.
type Tile struct {
	Name string
	Kind string
	X, Y int
	// Bits lists the bitstream tiles the instance occupies; position i
	// is tile-relative index i in the database.
	Bits  []int
	Wires []string
	Pips  []Pip

	wires map[string]bool
	pips  map[Pip]bool
}

// HasWire reports whether the tile declares wire.
func (t *Tile) HasWire(wire string) bool { return t.wires[wire] }

// HasPip reports whether the tile has the pip dst <- src.
func (t *Tile) HasPip(dst, src string) bool { return t.pips[Pip{Dst: dst, Src: src}] }

// Extract copies the tile's bits out of a device bitstream, renumbered to
// tile-relative indices.
func (t *Tile) Extract(bs *bitdiff.Bitstream) *bitdiff.Bitstream {
	rel := make(map[int]int, len(t.Bits))
	for i, b := range t.Bits {
		rel[b] = i
	}
	out := bitdiff.NewBitstream()
	for _, p := range bs.Positions() {
		if i, ok := rel[p.Tile]; ok {
			out.Set(bitdiff.BitPos{Tile: i, Frame: p.Frame, Bit: p.Bit}, true)
		}
	}
	return out
}

// Connection is a declared pin-to-pin connection.
type Connection struct {
	A, B WireRef
}

// Group is a set of wires a naming rule says must be one node, such as a
// clock spine, a carry chain or a shared edge resource.
type Group struct {
	Kind    string
	Members []WireRef
}

// Topology is one device's layout.
type Topology struct {
	Device      string
	Tiles       []*Tile
	Driven      []WireRef // wires that must be driven exactly once
	Connections []Connection
	Groups      []Group

	byName map[string]*Tile
	nodes  *Nodes
}

// New returns an empty topology for device.
func New(device string) *Topology {
	return &Topology{Device: device, byName: make(map[string]*Tile), nodes: NewNodes()}
}

// AddTile registers a tile and its wires and pips.
func (t *Topology) AddTile(tile *Tile) error {
	if tile.Name == "" || strings.Contains(tile.Name, ".") {
		return fmt.Errorf("topology: invalid tile name %q", tile.Name)
	}
	if _, ok := t.byName[tile.Name]; ok {
		return fmt.Errorf("topology: duplicate tile %s", tile.Name)
	}
	tile.wires = make(map[string]bool, len(tile.Wires))
	for _, w := range tile.Wires {
		tile.wires[w] = true
		t.nodes.Add(WireRef{Tile: tile.Name, Wire: w})
	}
	tile.pips = make(map[Pip]bool, len(tile.Pips))
	for _, p := range tile.Pips {
		if !tile.wires[p.Dst] || !tile.wires[p.Src] {
			return fmt.Errorf("topology: tile %s: pip %s uses an undeclared wire", tile.Name, p)
		}
		tile.pips[p] = true
	}
	t.Tiles = append(t.Tiles, tile)
	t.byName[tile.Name] = tile
	return nil
}

// Join declares that wires form one node.
func (t *Topology) Join(ws ...WireRef) error {
	for _, w := range ws {
		if !t.HasWire(w) {
			return fmt.Errorf("topology: node names unknown wire %s", w)
		}
	}
	for _, w := range ws[min(1, len(ws)):] {
		t.nodes.Connect(ws[0], w)
	}
	return nil
}

// Tile returns the tile named name.
func (t *Topology) Tile(name string) (*Tile, bool) {
	tile, ok := t.byName[name]
	return tile, ok
}

// TilesOfKind returns the tiles of one kind, in declaration order.
func (t *Topology) TilesOfKind(kind string) []*Tile {
	var out []*Tile
	for _, tile := range t.Tiles {
		if tile.Kind == kind {
			out = append(out, tile)
		}
	}
	return out
}

// Kinds returns the distinct tile kinds, sorted.
func (t *Topology) Kinds() []string {
	var kinds []string
	for _, tile := range t.Tiles {
		kinds = append(kinds, tile.Kind)
	}
	slices.Sort(kinds)
	return slices.Compact(kinds)
}

// HasWire reports whether w exists.
func (t *Topology) HasWire(w WireRef) bool {
	tile, ok := t.byName[w.Tile]
	return ok && tile.HasWire(w.Wire)
}

// Node returns the representative wire of w's node.
func (t *Topology) Node(w WireRef) WireRef {
	return t.nodes.Find(w)
}

// Nodes returns every multi-wire node.
func (t *Topology) Nodes() [][]WireRef {
	return t.nodes.Groups()
}

// Parse reads a topology file.
func Parse(r io.Reader) (*Topology, error) {
	exprs, err := ReadExprs(r)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	if len(exprs) != 1 {
		return nil, fmt.Errorf("topology: expected one (topology ...) form, got %d", len(exprs))
	}
	root, ok := exprs[0].(*List)
	if !ok || root.Head() != "topology" {
		return nil, fmt.Errorf("topology: expected (topology ...)")
	}
	atoms := root.Atoms()
	if len(atoms) != 1 {
		return nil, fmt.Errorf("topology: line %d: expected a device name", root.Line)
	}
	t := New(atoms[0])

	// Tiles first, so the other forms may refer to any of them.
	for _, l := range root.Lists() {
		if l.Head() != "tile" {
			continue
		}
		tile, err := parseTile(l)
		if err != nil {
			return nil, err
		}
		if err := t.AddTile(tile); err != nil {
			return nil, fmt.Errorf("%w (line %d)", err, l.Line)
		}
	}
	for _, l := range root.Lists() {
		if err := t.parseForm(l); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Topology) parseForm(l *List) error {
	head := l.Head()
	if head == "tile" {
		return nil
	}
	args := l.Atoms()
	var refs []WireRef
	start := 0
	if head == "group" {
		if len(args) == 0 {
			return fmt.Errorf("topology: line %d: group needs a kind", l.Line)
		}
		start = 1
	}
	for _, a := range args[start:] {
		w, ok := ParseWireRef(a)
		if !ok {
			return fmt.Errorf("topology: line %d: invalid wire %q", l.Line, a)
		}
		refs = append(refs, w)
	}

	switch head {
	case "node":
		if err := t.Join(refs...); err != nil {
			return fmt.Errorf("%w (line %d)", err, l.Line)
		}
	case "driven":
		t.Driven = append(t.Driven, refs...)
	case "connect":
		if len(refs) != 2 {
			return fmt.Errorf("topology: line %d: connect takes two wires", l.Line)
		}
		t.Connections = append(t.Connections, Connection{A: refs[0], B: refs[1]})
	case "group":
		t.Groups = append(t.Groups, Group{Kind: args[0], Members: refs})
	default:
		return fmt.Errorf("topology: line %d: unknown form %q", l.Line, head)
	}
	return nil
}

func parseTile(l *List) (*Tile, error) {
	atoms := l.Atoms()
	if len(atoms) != 1 {
		return nil, fmt.Errorf("topology: line %d: tile needs a name", l.Line)
	}
	tile := &Tile{Name: atoms[0]}
	for _, sub := range l.Lists() {
		args := sub.Atoms()
		switch sub.Head() {
		case "kind":
			if len(args) != 1 {
				return nil, fmt.Errorf("topology: line %d: kind takes one name", sub.Line)
			}
			tile.Kind = args[0]
		case "at":
			nums, err := atoi(sub, args)
			if err != nil {
				return nil, err
			}
			if len(nums) != 2 {
				return nil, fmt.Errorf("topology: line %d: at takes x and y", sub.Line)
			}
			tile.X, tile.Y = nums[0], nums[1]
		case "bits":
			nums, err := atoi(sub, args)
			if err != nil {
				return nil, err
			}
			tile.Bits = append(tile.Bits, nums...)
		case "wires":
			tile.Wires = append(tile.Wires, args...)
		case "pip":
			if len(args) != 2 {
				return nil, fmt.Errorf("topology: line %d: pip takes dst and src", sub.Line)
			}
			tile.Pips = append(tile.Pips, Pip{Dst: args[0], Src: args[1]})
		default:
			return nil, fmt.Errorf("topology: line %d: unknown tile form %q", sub.Line, sub.Head())
		}
	}
	if tile.Kind == "" {
		return nil, fmt.Errorf("topology: line %d: tile %s has no kind", l.Line, tile.Name)
	}
	return tile, nil
}

func atoi(l *List, args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("topology: line %d: invalid number %q", l.Line, a)
		}
		out[i] = n
	}
	return out, nil
}

// ParseString parses a topology from a string.
func ParseString(s string) (*Topology, error) {
	return Parse(strings.NewReader(s))
}

// LoadFile reads a topology file from disk.
func LoadFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
