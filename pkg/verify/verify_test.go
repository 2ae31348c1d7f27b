package verify

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/topology"
)

const routing = `(topology "dev"
  (tile T1 (kind CLB) (bits 0) (wires A B W K) (pip W A) (pip W B))
  (tile T2 (kind IOB) (bits 1) (wires C V) (pip V C))
  (node T1.W T2.V)
  (driven T1.W))
`

func pos(frame, bit int) bitdiff.BitPos {
	return bitdiff.BitPos{Frame: frame, Bit: bit}
}

// mux builds a one-hot source table over frame 0.
func mux(srcs ...string) bitdb.TileItem {
	ps := make([]bitdiff.BitPos, len(srcs))
	values := make(map[string]bitdb.Pattern, len(srcs))
	for i, s := range srcs {
		ps[i] = pos(0, i)
		p := make(bitdb.Pattern, len(srcs))
		p[i] = true
		values[s] = p
	}
	return bitdb.NewMux(ps, values, make(bitdb.Pattern, len(srcs)))
}

type entry struct {
	key  bitdb.Key
	item bitdb.TileItem
}

func buildDB(t *testing.T, entries ...entry) *bitdb.Database {
	t.Helper()
	db := bitdb.NewDatabase("dev")
	for _, e := range entries {
		if err := db.Insert(e.key, e.item); err != nil {
			t.Fatalf("Insert(%s): %v", e.key, err)
		}
	}
	return db
}

func mustTopology(t *testing.T, s string) *topology.Topology {
	t.Helper()
	topo, err := topology.ParseString(s)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return topo
}

func kinds(r *Report) []Kind {
	var out []Kind
	for _, c := range r.Conflicts {
		out = append(out, c.Kind)
	}
	return out
}

func TestVerifyClaims(t *testing.T) {
	muxW := bitdb.MuxKey{Tile: "CLB", Dst: "W"}
	tests := []struct {
		name    string
		entries []entry
		want    []Kind
	}{
		{
			name:    "clean",
			entries: []entry{{muxW, mux("A", "B")}},
		},
		{
			name: "second driver through joined node",
			entries: []entry{
				{muxW, mux("A", "B")},
				{bitdb.MuxKey{Tile: "IOB", Dst: "V"}, mux("C")},
			},
			want: []Kind{MultipleDrivers},
		},
		{
			name: "undriven",
			entries: []entry{
				{bitdb.AttrKey{Tile: "CLB", Block: "LUT", Attr: "X"}, bitdb.NewBool(bitdiff.PolBit{Pos: pos(1, 0)})},
			},
			want: []Kind{Undriven},
		},
		{
			name:    "pip not in topology",
			entries: []entry{{muxW, mux("A", "K")}},
			want:    []Kind{MissingPip},
		},
		{
			name:    "unknown source wire",
			entries: []entry{{muxW, mux("A", "Z")}},
			want:    []Kind{MissingPipWire},
		},
		{
			name:    "unknown destination wire",
			entries: []entry{{bitdb.MuxKey{Tile: "CLB", Dst: "Q"}, mux("A")}},
			want:    []Kind{MissingPipWire, Undriven},
		},
		{
			name: "pip claimed by mux and buffer",
			entries: []entry{
				{muxW, mux("A", "B")},
				{bitdb.BufKey{Tile: "CLB", Dst: "W", Src: "A"}, bitdb.NewBool(bitdiff.PolBit{Pos: pos(1, 0)})},
			},
			want: []Kind{DoubleClaimedPip, MultipleDrivers},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := buildDB(t, tt.entries...)
			rep, err := Verify(db, mustTopology(t, routing), Options{SkipResidual: true})
			if d := cmp.Diff(tt.want, kinds(rep)); d != "" {
				t.Fatalf("conflicts mismatch (-want +got):\n%s\n%v", d, rep.Conflicts)
			}
			if len(tt.want) == 0 && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if len(tt.want) > 0 && !errors.Is(err, bitdiff.ErrInconsistent) {
				t.Errorf("error %v must wrap ErrInconsistent", err)
			}
		})
	}
}

func TestVerifyDoubleDriverNamesBoth(t *testing.T) {
	db := buildDB(t,
		entry{bitdb.MuxKey{Tile: "CLB", Dst: "W"}, mux("A")},
		entry{bitdb.MuxKey{Tile: "IOB", Dst: "V"}, mux("C")},
	)
	rep, err := Verify(db, mustTopology(t, routing), Options{SkipResidual: true})
	if err == nil {
		t.Fatal("two drivers on one wire must fail verification")
	}
	if rep.Count(MultipleDrivers) != 1 {
		t.Fatalf("conflicts: %v", rep.Conflicts)
	}
	c := rep.Conflicts[0]
	if c.Tile != "T1" || c.Subject != "W" {
		t.Errorf("conflict on %s.%s, want T1.W", c.Tile, c.Subject)
	}
	for _, driver := range []string{"T1 mux", "T2 mux"} {
		if !strings.Contains(c.Detail, driver) {
			t.Errorf("detail %q does not name %q", c.Detail, driver)
		}
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Conflict != c {
		t.Errorf("error does not carry the conflict: %v", err)
	}
}

func TestVerifyResidual(t *testing.T) {
	db := buildDB(t, entry{bitdb.MuxKey{Tile: "CLB", Dst: "W"}, mux("A")})
	rep, _ := Verify(db, mustTopology(t, routing), Options{})
	want := []Conflict{
		{Kind: UnclaimedPip, Tile: "T1", Subject: "W <- B"},
		{Kind: UnclaimedPip, Tile: "T2", Subject: "V <- C"},
	}
	if d := cmp.Diff(want, rep.Conflicts); d != "" {
		t.Errorf("conflicts mismatch (-want +got):\n%s", d)
	}
	if rep.Claimed != 1 || rep.Tiles != 2 {
		t.Errorf("claimed %d pips in %d tiles", rep.Claimed, rep.Tiles)
	}
}

func TestVerifySharedBits(t *testing.T) {
	entries := []entry{
		{bitdb.MuxKey{Tile: "CLB", Dst: "W"}, mux("A", "B")},
		{bitdb.AttrKey{Tile: "CLB", Block: "LUT", Attr: "X"}, bitdb.NewBool(bitdiff.PolBit{Pos: pos(0, 0)})},
	}
	rep, _ := Verify(buildDB(t, entries...), mustTopology(t, routing), Options{SkipResidual: true})
	if len(rep.Conflicts) != 0 {
		t.Fatalf("shared bits reported without CheckSharedBits: %v", rep.Conflicts)
	}

	rep, err := Verify(buildDB(t, entries...), mustTopology(t, routing), Options{SkipResidual: true, CheckSharedBits: true})
	if rep.Count(SharedBit) != 1 || !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("conflicts: %v, err %v", rep.Conflicts, err)
	}
	if c := rep.Conflicts[0]; c.Tile != "CLB" || c.Subject != pos(0, 0).String() {
		t.Errorf("unexpected conflict %v", c)
	}
}

func TestVerifyNaming(t *testing.T) {
	topo := mustTopology(t, `(topology "dev"
  (tile T1 (kind CLB) (wires K X))
  (tile T2 (kind CLB) (wires K Y))
  (tile T3 (kind CLB) (wires K))
  (node T1.K T2.K)
  (connect T1.X T2.Y)
  (connect T1.K T2.K)
  (connect T1.X T9.Z)
  (group spine T1.K T2.K T3.K)
  (group carry T1.K T2.K)
  (group edge T1.K T3.Q))`)
	rep, err := Verify(bitdb.NewDatabase("dev"), topo, Options{})
	if !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	want := []Kind{NodeMismatch, MissingWire, MissingWire, AmbiguousNaming}
	if d := cmp.Diff(want, kinds(rep)); d != "" {
		t.Fatalf("conflicts mismatch (-want +got):\n%s\n%v", d, rep.Conflicts)
	}
	amb := rep.Conflicts[3]
	if !strings.Contains(amb.Detail, "spine group resolves to 2 nodes") {
		t.Errorf("detail = %q", amb.Detail)
	}
}

func TestVerifyDeviceMismatch(t *testing.T) {
	_, err := Verify(bitdb.NewDatabase("other"), mustTopology(t, routing), Options{})
	if err == nil || errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected a plain device mismatch error, got %v", err)
	}
}

func TestConflictString(t *testing.T) {
	c := Conflict{Kind: DoubleClaimedPip, Tile: "T1", Subject: "W <- A", Detail: "claimed by x and y"}
	if got, want := c.String(), "double-claimed-pip T1 W <- A: claimed by x and y"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if Kind(99).String() != "Kind(99)" {
		t.Error("unknown kind name")
	}
}
