package plan

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/collect"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

func (t Target) key() (trial.Key, error) {
	needName := func() error {
		if t.Name == "" {
			return fmt.Errorf("%s %s: missing name", t.Kind, t.Scope)
		}
		return nil
	}
	switch t.Kind {
	case "inst":
		return trial.Inst(t.Scope), nil
	case "option":
		return trial.Option(t.Scope), nil
	case "attr":
		return trial.Attr(t.Scope, t.Name), needName()
	case "pin":
		return trial.Pin(t.Scope, t.Name), needName()
	case "pip":
		return trial.Pip(t.Scope, t.Name), needName()
	default:
		return trial.Key{}, fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

func (d *FuzzerDecl) fuzzer() (*trial.Fuzzer, error) {
	feat := trial.Feature{Tile: d.Feature.Tile, Block: d.Feature.Block, Attr: d.Feature.Attr, Value: d.Feature.Value}
	f := trial.NewFuzzer(feat, d.Tiles...)
	for _, e := range d.Entries {
		if e.Mutex != nil {
			f.Mutex(e.Mutex.Resource, e.Mutex.Holder)
			continue
		}
		var target Target
		switch {
		case e.Base != nil:
			target = e.Base.Target
		case e.Any != nil:
			target = e.Any.Target
		case e.Fuzz != nil:
			target = e.Fuzz.Target
		case e.Multi != nil:
			target = e.Multi.Target
		}
		k, err := target.key()
		if err != nil {
			return nil, fmt.Errorf("plan: %s: %w", e.Pos, err)
		}
		switch {
		case e.Base != nil:
			f.Base(k, e.Base.Value)
		case e.Any != nil:
			f.BaseAny(k, e.Any.Values...)
		case e.Fuzz != nil:
			f.Fuzz(k, e.Fuzz.From, e.Fuzz.To)
		case e.Multi != nil:
			format := trial.MultiFormat(e.Multi.Format)
			if format == "" {
				format = trial.MultiBin
			}
			f.FuzzMulti(k, e.Multi.Width, format)
		}
	}
	if err := f.Err(); err != nil {
		return nil, fmt.Errorf("plan: %s: %w", d.Pos, err)
	}
	return f, nil
}

// Fuzzers builds the fuzzers the plan declares. The first invalid fuzzer
// stops the build.
func (f *File) Fuzzers() ([]*trial.Fuzzer, error) {
	var out []*trial.Fuzzer
	for _, s := range f.Stmts {
		if s.Fuzzer == nil {
			continue
		}
		fz, err := s.Fuzzer.fuzzer()
		if err != nil {
			return nil, err
		}
		out = append(out, fz)
	}
	return out, nil
}

func (d *CollectDecl) rule() (collect.Rule, error) {
	switch {
	case d.Bool != nil:
		return collect.BoolRule{Tile: d.Bool.Tile, Block: d.Bool.Block, Attr: d.Bool.Attr}, nil
	case d.BoolBi != nil:
		return collect.BoolBiRule{Tile: d.BoolBi.Tile, Block: d.BoolBi.Block, Attr: d.BoolBi.Attr}, nil
	case d.BitVec != nil:
		return collect.BitVecRule{Tile: d.BitVec.Tile, Block: d.BitVec.Block, Field: d.BitVec.Attr}, nil
	case d.Int != nil:
		enc := bitdb.Binary
		if d.Int.Gray {
			enc = bitdb.Gray
		}
		return collect.IntRule{
			Tile: d.Int.Ref.Tile, Block: d.Int.Ref.Block, Field: d.Int.Ref.Attr,
			Values: d.Int.Values, Base: d.Int.Base, Encoding: enc,
		}, nil
	case d.Enum != nil:
		ocd, err := collect.ParseOCD(d.Enum.OCD)
		if err != nil {
			return nil, err
		}
		if d.Enum.Default != "" && d.Enum.Enable != "" {
			return nil, fmt.Errorf("enum %s:%s:%s: default and enable are exclusive", d.Enum.Ref.Tile, d.Enum.Ref.Block, d.Enum.Ref.Attr)
		}
		return collect.EnumRule{
			Tile: d.Enum.Ref.Tile, Block: d.Enum.Ref.Block, Attr: d.Enum.Ref.Attr,
			Values: d.Enum.Values, Default: d.Enum.Default, Enable: d.Enum.Enable, OCD: ocd,
		}, nil
	case d.Mux != nil:
		mode := d.Mux.OCD
		if mode == "" {
			mode = "mux"
		}
		ocd, err := collect.ParseOCD(mode)
		if err != nil {
			return nil, err
		}
		return collect.MuxRule{Tile: d.Mux.Tile, Dst: d.Mux.Dst, Sources: d.Mux.Sources, OCD: ocd}, nil
	case d.Inv != nil:
		return collect.InvRule{Tile: d.Inv.Tile, Block: d.Inv.Block, Pin: d.Inv.Attr}, nil
	case d.Buf != nil:
		return collect.BufRule{Tile: d.Buf.Tile, Dst: d.Buf.Block, Src: d.Buf.Attr}, nil
	case d.BiPass != nil:
		return collect.BiPassRule{Tile: d.BiPass.Tile, A: d.BiPass.Block, B: d.BiPass.Attr}, nil
	case d.Delay != nil:
		return collect.DelayRule{Tile: d.Delay.Tile, Wire: d.Delay.Wire, Taps: d.Delay.Taps}, nil
	default:
		return nil, fmt.Errorf("empty collect statement")
	}
}

// Rules builds the collect rules the plan declares, in file order.
func (f *File) Rules() ([]collect.Rule, error) {
	var out []collect.Rule
	for _, s := range f.Stmts {
		if s.Collect == nil {
			continue
		}
		r, err := s.Collect.rule()
		if err != nil {
			return nil, fmt.Errorf("plan: %s: %w", s.Collect.Pos, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Uncovered returns, for every rule, the features it consumes that no
// fuzzer in the plan measures.
func (f *File) Uncovered() (map[string][]trial.Feature, error) {
	fuzzers, err := f.Fuzzers()
	if err != nil {
		return nil, err
	}
	rules, err := f.Rules()
	if err != nil {
		return nil, err
	}
	measured := make(map[trial.Feature]bool, len(fuzzers))
	for _, fz := range fuzzers {
		measured[fz.Feature] = true
	}
	out := make(map[string][]trial.Feature)
	for _, r := range rules {
		for _, feat := range collect.Features(r) {
			if !measured[feat] {
				out[r.String()] = append(out[r.String()], feat)
			}
		}
	}
	return out, nil
}
