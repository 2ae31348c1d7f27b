package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCollector() *Collector {
	return New(trial.NewResults(), bitdb.NewDatabase("dev"), nil)
}

func put(t *testing.T, c *Collector, f trial.Feature, diffs ...bitdiff.Diff) {
	t.Helper()
	if err := c.Results.Put(f, diffs); err != nil {
		t.Fatalf("Put %s: %v", f, err)
	}
}

// Background X sets an unrelated bit; attribute A takes 0, 1 or 2 and is
// encoded in bits 5 and 6 of frame 3.
func TestEndToEndTwoBitField(t *testing.T) {
	realize := func(a int) *bitdiff.Bitstream {
		bs := bitdiff.NewBitstream(pos(0, 0, 0)) // background X
		if a >= 0 {
			bs.Set(pos(0, 3, 5), a&1 != 0)
			bs.Set(pos(0, 3, 6), a&2 != 0)
		}
		return bs
	}
	base := realize(-1)
	c := newCollector()
	for a, name := range []string{"0", "1", "2"} {
		put(t, c, ValueFeature("CLB", "SLICE", "A", name), bitdiff.Subtract(base, realize(a)))
	}

	if err := c.Apply(IntRule{Tile: "CLB", Block: "SLICE", Field: "A", Values: []uint64{0, 1, 2}}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	item, ok := c.DB.Get(bitdb.FieldKey{Tile: "CLB", Block: "SLICE", Field: "A"})
	if !ok {
		t.Fatal("item not inserted")
	}
	want := bitdb.NewBitVec([]bitdiff.PolBit{{Pos: pos(0, 3, 5)}, {Pos: pos(0, 3, 6)}}, bitdb.Binary)
	if diff := cmp.Diff(want, item); diff != "" {
		t.Errorf("item (-want +got):\n%s", diff)
	}
}

func TestCollectIntGray(t *testing.T) {
	gray := func(v uint64) uint64 { return v ^ v>>1 }
	c := newCollector()
	values := []uint64{1, 2, 3, 4, 5, 6, 7}
	for _, v := range values {
		var ps []bitdiff.BitPos
		for i := 0; i < 3; i++ {
			if gray(v)>>uint(i)&1 != 0 {
				ps = append(ps, pos(1, 0, i))
			}
		}
		put(t, c, ValueFeature("IOB", "DLY", "TAP", itoa(v)), set(ps...))
	}
	if err := c.CollectInt("IOB", "DLY", "TAP", values, 0, bitdb.Gray); err != nil {
		t.Fatal(err)
	}
	item, _ := c.DB.Get(bitdb.FieldKey{Tile: "IOB", Block: "DLY", Field: "TAP"})
	for v := uint64(0); v < 8; v++ {
		phys, err := item.EncodeInt(v)
		if err != nil {
			t.Fatal(err)
		}
		for i := range phys {
			if phys[i] != (gray(v)>>uint(i)&1 != 0) {
				t.Errorf("value %d bit %d = %v", v, i, phys[i])
			}
		}
	}
}

func itoa(v uint64) string {
	return string(rune('0' + v))
}

func TestCollectEnumDefault(t *testing.T) {
	c := newCollector()
	put(t, c, ValueFeature("CLB", "FF", "MODE", "LATCH"), set(pos(0, 1, 0)))
	put(t, c, ValueFeature("CLB", "FF", "MODE", "SYNC"), set(pos(0, 1, 1)))
	put(t, c, ValueFeature("CLB", "FF", "MODE", "BOTH"), set(pos(0, 1, 0), pos(0, 1, 1)))
	rule := EnumRule{Tile: "CLB", Block: "FF", Attr: "MODE", Values: []string{"LATCH", "SYNC", "BOTH"}, Default: "ASYNC", OCD: ValueOrder}
	if err := c.Apply(rule); err != nil {
		t.Fatal(err)
	}
	item, _ := c.DB.Get(bitdb.AttrKey{Tile: "CLB", Block: "FF", Attr: "MODE"})
	if got := item.Labels(); len(got) != 4 {
		t.Fatalf("labels = %v", got)
	}
	bs := bitdiff.NewBitstream(pos(0, 1, 1))
	if got, err := item.Match(item.Read(bs)); err != nil || got != "SYNC" {
		t.Errorf("Match = %q, %v", got, err)
	}
}

func TestCollectEnumWithEnable(t *testing.T) {
	en := pos(2, 0, 7)
	c := newCollector()
	put(t, c, ValueFeature("IO", "IOB", "STD", "LVTTL"), set(en))
	put(t, c, ValueFeature("IO", "IOB", "STD", "LVCMOS"), set(en, pos(2, 0, 1)))
	put(t, c, ValueFeature("IO", "IOB", "STD", "SSTL"), set(en, pos(2, 0, 2)))
	rule := EnumRule{Tile: "IO", Block: "IOB", Attr: "STD", Values: []string{"LVTTL", "LVCMOS", "SSTL"}, Enable: "ENABLE", OCD: ValueOrder}
	if err := c.Apply(rule); err != nil {
		t.Fatal(err)
	}
	enable, ok := c.DB.Get(bitdb.AttrKey{Tile: "IO", Block: "IOB", Attr: "ENABLE"})
	if !ok || len(enable.Bits) != 1 || enable.Bits[0].Pos != en {
		t.Fatalf("enable = %+v", enable)
	}
	item, _ := c.DB.Get(bitdb.AttrKey{Tile: "IO", Block: "IOB", Attr: "STD"})
	if diff := cmp.Diff([]bitdiff.BitPos{pos(2, 0, 1), pos(2, 0, 2)}, item.Positions); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
	if got := item.Values["LVTTL"].String(); got != "00" {
		t.Errorf("LVTTL = %s", got)
	}
}

func TestCollectEnumWithEnableNoCommonBits(t *testing.T) {
	c := newCollector()
	put(t, c, ValueFeature("IO", "IOB", "STD", "A"), set(pos(2, 0, 1)))
	put(t, c, ValueFeature("IO", "IOB", "STD", "B"), set(pos(2, 0, 2)))
	err := c.CollectEnumWithEnable("IO", "IOB", "STD", []string{"A", "B"}, "ENABLE", ValueOrder)
	if !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestCollectMux(t *testing.T) {
	c := newCollector()
	put(t, c, MuxFeature("INT", "E2", "W2"), set(pos(0, 4, 0), pos(0, 4, 1)))
	put(t, c, MuxFeature("INT", "E2", "N2"), set(pos(0, 4, 0), pos(0, 4, 2)))
	if err := c.Apply(MuxRule{Tile: "INT", Dst: "E2", Sources: []string{"W2", "N2"}, OCD: Mux}); err != nil {
		t.Fatal(err)
	}
	item, _ := c.DB.Get(bitdb.MuxKey{Tile: "INT", Dst: "E2"})
	if item.None.String() != "000" {
		t.Errorf("none = %s", item.None)
	}
	if got, err := item.Match(item.Read(bitdiff.NewBitstream(pos(0, 4, 0), pos(0, 4, 2)))); err != nil || got != "N2" {
		t.Errorf("Match = %q, %v", got, err)
	}
}

func TestCollectMuxDefaultSource(t *testing.T) {
	c := newCollector()
	put(t, c, MuxFeature("INT", "E2", "W2"), bitdiff.Diff{})
	put(t, c, MuxFeature("INT", "E2", "N2"), set(pos(0, 4, 0)))
	if err := c.CollectMux("INT", "E2", []string{"W2", "N2"}, Mux); err != nil {
		t.Fatal(err)
	}
	item, _ := c.DB.Get(bitdb.MuxKey{Tile: "INT", Dst: "E2"})
	if item.None != nil {
		t.Errorf("mux with a default source has no disconnected state, got %s", item.None)
	}
}

func TestCollectBiPass(t *testing.T) {
	c := newCollector()
	put(t, c, BufFeature("INT", "A", "B"), set(pos(0, 0, 3)))
	put(t, c, BufFeature("INT", "B", "A"), set(pos(0, 0, 3)))
	if err := c.Apply(BiPassRule{Tile: "INT", A: "A", B: "B"}); err != nil {
		t.Fatal(err)
	}

	put(t, c, BufFeature("INT", "C", "D"), set(pos(0, 0, 4)))
	put(t, c, BufFeature("INT", "D", "C"), set(pos(0, 0, 5)))
	if err := c.Apply(BiPassRule{Tile: "INT", A: "C", B: "D"}); !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}

	// Same bit, opposite directions.
	put(t, c, BufFeature("INT", "E", "F"), set(pos(0, 0, 6)))
	put(t, c, BufFeature("INT", "F", "E"), cleared(pos(0, 0, 6)))
	if err := c.Apply(BiPassRule{Tile: "INT", A: "E", B: "F"}); !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestCollectReinsert(t *testing.T) {
	c := newCollector()
	put(t, c, InvFeature("CLB", "FF", "CLK"), set(pos(0, 0, 1)))
	if err := c.CollectInputInv("CLB", "FF", "CLK"); err != nil {
		t.Fatal(err)
	}
	put(t, c, InvFeature("CLB", "FF", "CLK"), set(pos(0, 0, 1)))
	if err := c.CollectInputInv("CLB", "FF", "CLK"); err != nil {
		t.Fatalf("identical re-insert: %v", err)
	}
	put(t, c, InvFeature("CLB", "FF", "CLK"), set(pos(0, 0, 2)))
	if err := c.CollectInputInv("CLB", "FF", "CLK"); !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("conflicting re-insert: expected ErrInconsistent, got %v", err)
	}
}

func TestPeel(t *testing.T) {
	c := newCollector()
	put(t, c, ValueFeature("CLB", "LUT", "MODE", "RAM"), set(pos(0, 0, 1)))
	put(t, c, ValueFeature("CLB", "LUT", "MODE", "SHIFT"), set(pos(0, 0, 2)))
	if err := c.CollectEnumDefault("CLB", "LUT", "MODE", []string{"RAM", "SHIFT"}, "LOGIC", ValueOrder); err != nil {
		t.Fatal(err)
	}
	// A later fuzz also switched MODE from LOGIC to RAM.
	d := set(pos(0, 0, 1), pos(0, 9, 9))
	if err := c.Peel(&d, bitdb.AttrKey{Tile: "CLB", Block: "LUT", Attr: "MODE"}, "LOGIC", "RAM"); err != nil {
		t.Fatal(err)
	}
	if !d.Equal(set(pos(0, 9, 9))) {
		t.Errorf("after peel: %v", d)
	}
}

func TestFinishReportsLeftovers(t *testing.T) {
	c := newCollector()
	put(t, c, BoolFeature("CLB", "FF", "INIT"), set(pos(0, 0, 1)))
	if err := c.Finish(); !errors.Is(err, bitdiff.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	if err := c.Apply(BoolRule{Tile: "CLB", Block: "FF", Attr: "INIT"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestCollectAll(t *testing.T) {
	c := newCollector()
	var rules []Rule
	for i, dst := range []string{"A", "B", "C", "D", "E", "F"} {
		put(t, c, BufFeature("INT", dst, "X"), set(pos(0, 1, i)))
		rules = append(rules, BufRule{Tile: "INT", Dst: dst, Src: "X"})
	}
	if err := c.CollectAll(context.Background(), rules, 3); err != nil {
		t.Fatal(err)
	}
	if c.DB.Len() != 6 {
		t.Errorf("db has %d items", c.DB.Len())
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}

	err := c.CollectAll(context.Background(), []Rule{BoolRule{Tile: "CLB", Block: "FF", Attr: "MISSING"}}, 2)
	if !errors.Is(err, trial.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestFeaturesMatchApply(t *testing.T) {
	rules := []Rule{
		BoolRule{Tile: "T", Block: "B", Attr: "F"},
		BoolBiRule{Tile: "T", Block: "B", Attr: "G"},
		IntRule{Tile: "T", Block: "B", Field: "N", Values: []uint64{1, 2}},
		EnumRule{Tile: "T", Block: "B", Attr: "E", Values: []string{"X", "Y"}, Default: "Z"},
		MuxRule{Tile: "T", Dst: "D", Sources: []string{"S"}},
		BiPassRule{Tile: "T", A: "P", B: "Q"},
		DelayRule{Tile: "T", Wire: "W", Taps: 3},
	}
	want := []int{1, 2, 2, 2, 1, 2, 3}
	for i, r := range rules {
		if got := len(Features(r)); got != want[i] {
			t.Errorf("%s: %d features, want %d", r, got, want[i])
		}
	}
}

func TestFeatureNames(t *testing.T) {
	tests := []struct {
		name string
		got  trial.Feature
		want trial.Feature
	}{
		{"bool", BoolFeature("CLB", "FF", "SYNC"), trial.Feature{Tile: "CLB", Block: "FF", Attr: "SYNC", Value: "1"}},
		{"value", ValueFeature("CLB", "FF", "MODE", "LATCH"), trial.Feature{Tile: "CLB", Block: "FF", Attr: "MODE", Value: "LATCH"}},
		{"bitvec", BitVecFeature("CLB", "LUT", "INIT"), trial.Feature{Tile: "CLB", Block: "LUT", Attr: "INIT", Value: "*"}},
		{"mux", MuxFeature("INT", "IMUX0", "N0"), trial.Feature{Tile: "INT", Block: "MUX", Attr: "IMUX0", Value: "N0"}},
		{"buf", BufFeature("INT", "E2", "W2"), trial.Feature{Tile: "INT", Block: "BUF", Attr: "E2", Value: "W2"}},
		{"inv", InvFeature("CLB", "FF", "CLK"), trial.Feature{Tile: "CLB", Block: "FF", Attr: "INV.CLK", Value: "1"}},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, tt.got, tt.want)
		}
	}
	if BoolFeature("CLB", "FF", "SYNC") == ValueFeature("CLB", "FF", "SYNC", "0") {
		t.Errorf("bool feature must differ from the value-0 feature")
	}
}
