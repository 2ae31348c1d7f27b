package topology

import (
	"slices"
	"strings"
)

// WireRef names one wire of one tile.
type WireRef struct {
	Tile string
	Wire string
}

// ParseWireRef parses "TILE.WIRE". The tile name ends at the first dot.
func ParseWireRef(s string) (WireRef, bool) {
	tile, wire, ok := strings.Cut(s, ".")
	if !ok || tile == "" || wire == "" {
		return WireRef{}, false
	}
	return WireRef{Tile: tile, Wire: wire}, true
}

func (w WireRef) String() string {
	return w.Tile + "." + w.Wire
}

func compareWireRefs(a, b WireRef) int {
	if c := strings.Compare(a.Tile, b.Tile); c != 0 {
		return c
	}
	return strings.Compare(a.Wire, b.Wire)
}

// Nodes groups wires into electrical nodes with a union-find structure.
// Every added wire starts as its own node.
type Nodes struct {
	parent map[WireRef]WireRef
	rank   map[WireRef]int
}

// NewNodes returns an empty structure.
func NewNodes() *Nodes {
	return &Nodes{
		parent: make(map[WireRef]WireRef),
		rank:   make(map[WireRef]int),
	}
}

// Add registers w as a node of its own, if not present.
func (n *Nodes) Add(w WireRef) {
	if _, ok := n.parent[w]; !ok {
		n.parent[w] = w
	}
}

// Has reports whether w was added.
func (n *Nodes) Has(w WireRef) bool {
	_, ok := n.parent[w]
	return ok
}

// Connect merges the nodes of a and b. Both must have been added.
func (n *Nodes) Connect(a, b WireRef) {
	ra, rb := n.Find(a), n.Find(b)
	if ra == rb {
		return
	}
	switch {
	case n.rank[ra] < n.rank[rb]:
		n.parent[ra] = rb
	case n.rank[ra] > n.rank[rb]:
		n.parent[rb] = ra
	default:
		n.parent[rb] = ra
		n.rank[ra]++
	}
}

// Find returns the representative wire of w's node, compressing the path.
// An unknown wire is its own representative.
func (n *Nodes) Find(w WireRef) WireRef {
	root := w
	for {
		p, ok := n.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	for cur := w; cur != root; {
		next := n.parent[cur]
		n.parent[cur] = root
		cur = next
	}
	return root
}

// Same reports whether a and b are on one node.
func (n *Nodes) Same(a, b WireRef) bool {
	return n.Find(a) == n.Find(b)
}

// Groups returns every node with two or more wires, each sorted, ordered
// by first wire.
func (n *Nodes) Groups() [][]WireRef {
	byRoot := make(map[WireRef][]WireRef)
	for w := range n.parent {
		r := n.Find(w)
		byRoot[r] = append(byRoot[r], w)
	}
	var out [][]WireRef
	for _, ws := range byRoot {
		if len(ws) < 2 {
			continue
		}
		slices.SortFunc(ws, compareWireRefs)
		out = append(out, ws)
	}
	slices.SortFunc(out, func(a, b []WireRef) int { return compareWireRefs(a[0], b[0]) })
	return out
}
