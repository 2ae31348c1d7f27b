package design

import (
	"path/filepath"
	"testing"
)

func TestHashIgnoresConstructionOrder(t *testing.T) {
	a := New("xc-test")
	a.Place("S0", "SLICE", "X0Y0")
	a.SetAttr("S0", "FFMODE", "LATCH")
	a.AddPip("INT_X0Y0", "IMUX0", "N0")
	a.AddPip("INT_X0Y0", "IMUX1", "E0")

	b := New("xc-test")
	b.AddPip("INT_X0Y0", "IMUX1", "E0")
	b.SetAttr("S0", "FFMODE", "LATCH")
	b.AddPip("INT_X0Y0", "IMUX0", "N0")
	b.Place("S0", "SLICE", "X0Y0")
	b.AddPip("INT_X0Y0", "IMUX0", "N0")

	if a.Hash() != b.Hash() {
		t.Errorf("hashes differ: %s vs %s", a.HashString(), b.HashString())
	}
	if len(b.Pips) != 2 {
		t.Errorf("duplicate pip stored: %v", b.Pips)
	}

	b.SetAttr("S0", "FFMODE", "FF")
	if a.Hash() == b.Hash() {
		t.Errorf("hash did not change with attribute value")
	}
}

func TestValidate(t *testing.T) {
	d := New("xc-test")
	d.SetAttr("S0", "FFMODE", "LATCH")
	if err := d.Validate(); err == nil {
		t.Fatalf("expected error for instance without kind")
	}
	d.Place("S0", "SLICE", "")
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	d := New("xc-test")
	d.SetOption("STARTUPCLK", "CCLK")
	d.Place("S0", "SLICE", "X1Y2")
	d.Connect("S0", "CLK", "clk")
	path := filepath.Join(t.TempDir(), "design.json")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Hash() != d.Hash() {
		t.Errorf("loaded design hash differs")
	}
}
