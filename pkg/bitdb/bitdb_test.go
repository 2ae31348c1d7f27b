package bitdb

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

func pos(tile, frame, bit int) bitdiff.BitPos {
	return bitdiff.BitPos{Tile: tile, Frame: frame, Bit: bit}
}

func TestParseKey(t *testing.T) {
	keys := []Key{
		MuxKey{Tile: "INT", Dst: "IMUX.A0"},
		FieldKey{Tile: "CLB", Block: "SLICE0", Field: "INIT"},
		AttrKey{Tile: "CLB", Block: "SLICE0", Attr: "FFMODE"},
		InvKey{Tile: "CLB", Block: "SLICE0", Pin: "CLK"},
		BufKey{Tile: "INT", Dst: "LH0", Src: "OMUX2"},
	}
	for _, k := range keys {
		got, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", k, err)
		}
		if got != k {
			t.Errorf("ParseKey(%q) = %#v", k, got)
		}
	}

	for _, bad := range []string{"", "mux:INT", "what:a:b", "attr:CLB::X"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q): expected error", bad)
		}
	}
}

func TestBitVecEncodeDecode(t *testing.T) {
	bits := []bitdiff.PolBit{
		{Pos: pos(0, 0, 0)},
		{Pos: pos(0, 0, 1), Inv: true},
		{Pos: pos(0, 1, 0)},
		{Pos: pos(0, 1, 1), Inv: true},
	}
	for _, enc := range []Encoding{Binary, Gray} {
		item := NewBitVec(bits, enc)
		for v := uint64(0); v < 16; v++ {
			phys, err := item.EncodeInt(v)
			if err != nil {
				t.Fatalf("%s EncodeInt(%d): %v", enc, v, err)
			}
			got, err := item.DecodeInt(phys)
			if err != nil {
				t.Fatalf("%s DecodeInt: %v", enc, err)
			}
			if got != v {
				t.Errorf("%s round trip %d -> %d", enc, v, got)
			}
		}
		if _, err := item.EncodeInt(16); err == nil {
			t.Errorf("%s: expected overflow error", enc)
		}
	}
}

func TestGrayAdjacentValuesDifferByOneBit(t *testing.T) {
	item := NewBitVec([]bitdiff.PolBit{{Pos: pos(0, 0, 0)}, {Pos: pos(0, 0, 1)}, {Pos: pos(0, 0, 2)}}, Gray)
	prev, _ := item.EncodeInt(0)
	for v := uint64(1); v < 8; v++ {
		cur, _ := item.EncodeInt(v)
		changed := 0
		for i := range cur {
			if cur[i] != prev[i] {
				changed++
			}
		}
		if changed != 1 {
			t.Errorf("%d -> %d changes %d bits", v-1, v, changed)
		}
		prev = cur
	}
}

func TestEnumMatch(t *testing.T) {
	item := NewEnum([]bitdiff.BitPos{pos(1, 0, 0), pos(1, 0, 1)}, map[string]Pattern{
		"NONE":  {false, false},
		"FF":    {true, false},
		"LATCH": {true, true},
	})
	if err := item.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	label, err := item.Match([]bool{true, true})
	if err != nil || label != "LATCH" {
		t.Errorf("Match = %q, %v; want LATCH", label, err)
	}
	if _, err := item.Match([]bool{false, true}); err == nil {
		t.Errorf("expected error for unknown pattern")
	}
}

func TestValidateRejectsSharedPattern(t *testing.T) {
	item := NewEnum([]bitdiff.BitPos{pos(1, 0, 0)}, map[string]Pattern{
		"A": {true},
		"B": {true},
	})
	if err := item.Validate(); err == nil {
		t.Fatalf("expected error for shared pattern")
	}

	mux := NewMux([]bitdiff.BitPos{pos(1, 0, 0)}, map[string]Pattern{"A": {false}}, Pattern{false})
	if err := mux.Validate(); err == nil {
		t.Fatalf("expected error for source sharing the none pattern")
	}
}

func TestInsertConflict(t *testing.T) {
	db := NewDatabase("xc-test")
	key := AttrKey{Tile: "CLB", Block: "SLICE0", Attr: "SYNC"}

	if err := db.Insert(key, NewBool(bitdiff.PolBit{Pos: pos(0, 1, 2)})); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Insert(key, NewBool(bitdiff.PolBit{Pos: pos(0, 1, 2)})); err != nil {
		t.Fatalf("re-Insert of equal item: %v", err)
	}
	err := db.Insert(key, NewBool(bitdiff.PolBit{Pos: pos(0, 1, 3)}))
	if !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	if db.Len() != 1 {
		t.Errorf("Len = %d, want 1", db.Len())
	}
}

func TestInsertRejectsAmbiguousKey(t *testing.T) {
	db := NewDatabase("xc-test")
	item := NewBool(bitdiff.PolBit{Pos: pos(0, 1, 2)})

	tests := []Key{
		AttrKey{Tile: "CLB", Block: "A:B", Attr: "C"},
		AttrKey{Tile: "CLB", Block: "A", Attr: "B:C"},
		MuxKey{Tile: "INT", Dst: "W:E"},
		BufKey{Tile: "INT", Dst: "", Src: "N0"},
	}
	for _, key := range tests {
		if err := db.Insert(key, item); err == nil {
			t.Errorf("Insert(%#v) succeeded, want error", key)
		}
	}
	if db.Len() != 0 {
		t.Errorf("Len = %d, want 0", db.Len())
	}

	if err := db.Insert(AttrKey{Tile: "CLB", Block: "A", Attr: "C"}, item); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase("xc-test")
	mustInsert := func(k Key, it TileItem) {
		if err := db.Insert(k, it); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}
	mustInsert(FieldKey{Tile: "CLB", Block: "SLICE0", Field: "DELAY"},
		NewBitVec([]bitdiff.PolBit{{Pos: pos(0, 3, 5)}, {Pos: pos(0, 3, 6)}}, Binary))
	mustInsert(AttrKey{Tile: "CLB", Block: "SLICE0", Attr: "MODE"},
		NewEnum([]bitdiff.BitPos{pos(0, 4, 0), pos(0, 4, 1)}, map[string]Pattern{
			"OFF": {false, false}, "FF": {true, false}, "LATCH": {false, true},
		}))
	mustInsert(MuxKey{Tile: "INT", Dst: "IMUX0"},
		NewMux([]bitdiff.BitPos{pos(0, 0, 0), pos(0, 0, 1)}, map[string]Pattern{
			"N0": {true, false}, "E0": {false, true},
		}, Pattern{false, false}))
	return db
}

func TestDecodeEncode(t *testing.T) {
	db := newTestDB(t)
	bs := bitdiff.NewBitstream()
	settings := []Setting{
		{Key: AttrKey{Tile: "CLB", Block: "SLICE0", Attr: "MODE"}, Value: "LATCH"},
		{Key: FieldKey{Tile: "CLB", Block: "SLICE0", Field: "DELAY"}, Value: "2"},
	}
	for _, s := range settings {
		if err := db.Encode(bs, s); err != nil {
			t.Fatalf("Encode %s: %v", s.Key, err)
		}
	}
	bs.Set(pos(0, 9, 9), true)

	got, residue, err := db.Decode("CLB", bs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []Setting{settings[0], settings[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bitdiff.BitPos{pos(0, 9, 9)}, residue); diff != "" {
		t.Errorf("residue mismatch (-want +got):\n%s", diff)
	}

	mux, _, err := db.Decode("INT", bitdiff.NewBitstream())
	if err != nil {
		t.Fatalf("Decode INT: %v", err)
	}
	if len(mux) != 1 || mux[0].Value != "" {
		t.Errorf("empty mux decoded as %+v, want disconnected", mux)
	}
}

func TestSaveLoadFile(t *testing.T) {
	db := newTestDB(t)
	for _, name := range []string{"db.json", "db.json.zst"} {
		path := filepath.Join(t.TempDir(), name)
		if err := db.SaveFile(path); err != nil {
			t.Fatalf("SaveFile %s: %v", name, err)
		}
		loaded, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile %s: %v", name, err)
		}
		if loaded.Device != db.Device || loaded.Len() != db.Len() {
			t.Fatalf("%s: loaded %q with %d items", name, loaded.Device, loaded.Len())
		}
		for _, e := range db.Entries() {
			it, ok := loaded.Get(e.Key)
			if !ok || !it.Equal(e.Item) {
				t.Errorf("%s: item %s did not survive", name, e.Key)
			}
		}
	}
}

func TestExportSexp(t *testing.T) {
	out := newTestDB(t).ExportSexp()
	for _, want := range []string{
		"(bitdb (version 1.0)",
		"(tile CLB",
		`(bitvec "field:CLB:SLICE0:DELAY" (encoding binary) (bits T0:F3:B5 T0:F3:B6))`,
		`(value "LATCH" 01)`,
		"(none 00)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ExportSexp missing %q\nGot:\n%s", want, out)
		}
	}
}
