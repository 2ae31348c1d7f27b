// Package verify checks a collected bit database against a device
// topology. It never derives bits; it only looks for routing claims and
// naming that cannot all be true at once.
//
// The checks, in order:
//
//   - every mux source and buffer in the database claims a pip of each
//     tile of its kind; the pip and its wires must exist, and no pip may
//     be claimed twice
//   - every wire the topology declares driven has exactly one driver on
//     its node
//   - every declared connection joins one node
//   - every naming group (clock spine, carry chain, edge resource)
//     resolves to one node
//   - optionally, no bit is used by two keys of one tile kind
//   - optionally, every topology pip has been claimed
package verify

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/topology"
)

// Options controls optional checks.
type Options struct {
	SkipResidual    bool // do not report unclaimed topology pips
	CheckSharedBits bool // report bits used by two keys of one tile kind
	Logger          *zap.Logger
}

// Report is the result of a verification.
type Report struct {
	Device    string
	Tiles     int
	Claimed   int // pips claimed
	Conflicts []Conflict
}

// Count returns the number of conflicts of one kind.
func (r *Report) Count(k Kind) int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// Err combines every conflict into one error, or returns nil. Each
// conflict matches bitdiff.ErrInconsistent.
func (r *Report) Err() error {
	var err error
	for _, c := range r.Conflicts {
		err = multierr.Append(err, &ConflictError{Conflict: c})
	}
	return err
}

type pipRef struct {
	Tile string
	Pip  topology.Pip
}

type verifier struct {
	db   *bitdb.Database
	topo *topology.Topology
	opts Options
	log  *zap.Logger

	claims  map[pipRef]string
	drivers map[topology.WireRef][]string // node -> driver names
	rep     *Report
}

// Verify checks db against topo. The returned error is Report.Err.
func Verify(db *bitdb.Database, topo *topology.Topology, opts Options) (*Report, error) {
	if db.Device != topo.Device {
		return nil, fmt.Errorf("verify: database is for %q, topology for %q", db.Device, topo.Device)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := &verifier{
		db:      db,
		topo:    topo,
		opts:    opts,
		log:     log,
		claims:  make(map[pipRef]string),
		drivers: make(map[topology.WireRef][]string),
		rep:     &Report{Device: db.Device, Tiles: len(topo.Tiles)},
	}

	v.checkKinds()
	for _, tile := range topo.Tiles {
		v.claimTile(tile)
	}
	v.checkDrivers()
	v.checkConnections()
	v.checkGroups()
	if opts.CheckSharedBits {
		v.checkSharedBits()
	}
	if !opts.SkipResidual {
		v.checkResidual()
	}

	slices.SortFunc(v.rep.Conflicts, compareConflicts)
	v.rep.Conflicts = slices.Compact(v.rep.Conflicts)
	log.Info("verified",
		zap.String("device", db.Device),
		zap.Int("tiles", v.rep.Tiles),
		zap.Int("claimed_pips", v.rep.Claimed),
		zap.Int("conflicts", len(v.rep.Conflicts)))
	return v.rep, v.rep.Err()
}

func (v *verifier) report(k Kind, tile, subject, format string, args ...any) {
	c := Conflict{Kind: k, Tile: tile, Subject: subject, Detail: fmt.Sprintf(format, args...)}
	v.log.Debug("conflict", zap.Stringer("conflict", c))
	v.rep.Conflicts = append(v.rep.Conflicts, c)
}

// checkKinds warns about database tile kinds the topology never places.
func (v *verifier) checkKinds() {
	placed := v.topo.Kinds()
	for _, kind := range v.db.TileKinds() {
		if _, ok := slices.BinarySearch(placed, kind); !ok {
			v.log.Warn("tile kind not in topology", zap.String("kind", kind))
		}
	}
}

func (v *verifier) claimTile(tile *topology.Tile) {
	for _, e := range v.db.Tile(tile.Kind) {
		switch k := e.Key.(type) {
		case bitdb.MuxKey:
			if !v.checkPipWire(tile, k.Dst, k) {
				continue
			}
			ok := false
			for _, src := range e.Item.Labels() {
				if v.claimPip(tile, k.Dst, src, k) {
					ok = true
				}
			}
			if ok {
				v.addDriver(tile, k.Dst, k)
			}
		case bitdb.BufKey:
			if !v.checkPipWire(tile, k.Dst, k) {
				continue
			}
			if v.claimPip(tile, k.Dst, k.Src, k) {
				v.addDriver(tile, k.Dst, k)
			}
		}
	}
}

func (v *verifier) checkPipWire(tile *topology.Tile, wire string, key bitdb.Key) bool {
	if tile.HasWire(wire) {
		return true
	}
	v.report(MissingPipWire, tile.Name, wire, "claimed by %s", key)
	return false
}

func (v *verifier) claimPip(tile *topology.Tile, dst, src string, key bitdb.Key) bool {
	if !v.checkPipWire(tile, src, key) {
		return false
	}
	pip := topology.Pip{Dst: dst, Src: src}
	if !tile.HasPip(dst, src) {
		v.report(MissingPip, tile.Name, pip.String(), "claimed by %s", key)
		return false
	}
	ref := pipRef{Tile: tile.Name, Pip: pip}
	if prev, ok := v.claims[ref]; ok {
		v.report(DoubleClaimedPip, tile.Name, pip.String(), "claimed by %s and %s", prev, key)
		return true
	}
	v.claims[ref] = key.String()
	v.rep.Claimed++
	return true
}

func (v *verifier) addDriver(tile *topology.Tile, wire string, key bitdb.Key) {
	node := v.topo.Node(topology.WireRef{Tile: tile.Name, Wire: wire})
	v.drivers[node] = append(v.drivers[node], tile.Name+" "+key.String())
}

func (v *verifier) checkDrivers() {
	seen := make(map[topology.WireRef]bool)
	for _, w := range v.topo.Driven {
		if !v.topo.HasWire(w) {
			v.report(MissingWire, w.Tile, w.Wire, "declared driven")
			continue
		}
		node := v.topo.Node(w)
		if seen[node] {
			continue
		}
		seen[node] = true
		ds := slices.Clone(v.drivers[node])
		slices.Sort(ds)
		switch len(ds) {
		case 0:
			v.report(Undriven, w.Tile, w.Wire, "no driver on node %s", node)
		case 1:
		default:
			v.report(MultipleDrivers, w.Tile, w.Wire, "%d drivers: %s", len(ds), strings.Join(ds, ", "))
		}
	}
}

func (v *verifier) checkConnections() {
	for _, c := range v.topo.Connections {
		missing := false
		for _, w := range []topology.WireRef{c.A, c.B} {
			if !v.topo.HasWire(w) {
				v.report(MissingWire, w.Tile, w.Wire, "in connection %s - %s", c.A, c.B)
				missing = true
			}
		}
		if missing {
			continue
		}
		if na, nb := v.topo.Node(c.A), v.topo.Node(c.B); na != nb {
			v.report(NodeMismatch, c.A.Tile, c.A.Wire, "node %s != node %s of %s", na, nb, c.B)
		}
	}
}

func (v *verifier) checkGroups() {
	for _, g := range v.topo.Groups {
		var nodes []topology.WireRef
		for _, w := range g.Members {
			if !v.topo.HasWire(w) {
				v.report(MissingWire, w.Tile, w.Wire, "in %s group", g.Kind)
				continue
			}
			n := v.topo.Node(w)
			if !slices.Contains(nodes, n) {
				nodes = append(nodes, n)
			}
		}
		if len(nodes) > 1 {
			names := make([]string, len(nodes))
			for i, n := range nodes {
				names[i] = n.String()
			}
			slices.Sort(names)
			first := g.Members[0]
			v.report(AmbiguousNaming, first.Tile, first.Wire, "%s group resolves to %d nodes: %s",
				g.Kind, len(nodes), strings.Join(names, ", "))
		}
	}
}

func (v *verifier) checkSharedBits() {
	for _, kind := range v.db.TileKinds() {
		owner := make(map[bitdiff.BitPos]string)
		for _, e := range v.db.Tile(kind) {
			for _, p := range e.Item.AllPositions() {
				key := e.Key.String()
				if prev, ok := owner[p]; ok && prev != key {
					v.report(SharedBit, kind, p.String(), "used by %s and %s", prev, key)
					continue
				}
				owner[p] = key
			}
		}
	}
}

func (v *verifier) checkResidual() {
	for _, tile := range v.topo.Tiles {
		for _, p := range tile.Pips {
			if _, ok := v.claims[pipRef{Tile: tile.Name, Pip: p}]; !ok {
				v.report(UnclaimedPip, tile.Name, p.String(), "")
			}
		}
	}
}
