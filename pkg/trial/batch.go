package trial

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"slices"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

type slot struct {
	value  Value
	fuzzer int // owning fuzzer for ValueFuzz and ValueMulti
}

type bitRef struct {
	Fuzzer int
	Bit    int
}

// Batch is a set of fuzzers realized together. Width is the number of
// variant runs; a batch needs Width+1 toolchain invocations in total.
type Batch struct {
	ID      int
	Fuzzers []*Fuzzer
	Width   int

	kv     map[Key]slot
	base   map[Key]string
	code   map[bitRef]uint64
	byCode map[uint64]bitRef
}

func newBatch(id int) *Batch {
	return &Batch{ID: id, kv: make(map[Key]slot)}
}

// install adds f if all of its requirements are compatible with the batch.
func (b *Batch) install(f *Fuzzer) bool {
	fid := len(b.Fuzzers)
	updates := make(map[Key]slot)
	for _, k := range f.order {
		v := f.kv[k]
		cur, ok := b.kv[k]
		if !ok {
			updates[k] = slot{value: v, fuzzer: fid}
			continue
		}
		cv := cur.value
		switch {
		case cv.Kind == ValueBase && v.Kind == ValueBase:
			if cv.Base != v.Base {
				return false
			}
		case cv.Kind == ValueBase && v.Kind == ValueBaseAny:
			if !v.allows(cv.Base) {
				return false
			}
		case cv.Kind == ValueBaseAny && v.Kind == ValueBase:
			if !cv.allows(v.Base) {
				return false
			}
			updates[k] = slot{value: v}
		case cv.Kind == ValueBaseAny && v.Kind == ValueBaseAny:
			var both []string
			for _, s := range cv.Any {
				if v.allows(s) {
					both = append(both, s)
				}
			}
			if len(both) == 0 {
				return false
			}
			if len(both) != len(cv.Any) {
				updates[k] = slot{value: AnyValue(both...)}
			}
		case cv.Kind == ValueBaseAny && v.Kind == ValueFuzz:
			if !cv.allows(v.A) || !cv.allows(v.B) {
				return false
			}
			updates[k] = slot{value: v, fuzzer: fid}
		case cv.Kind == ValueFuzz && v.Kind == ValueBaseAny:
			if !v.allows(cv.A) || !v.allows(cv.B) {
				return false
			}
		default:
			return false
		}
	}
	for k, s := range updates {
		b.kv[k] = s
	}
	b.Fuzzers = append(b.Fuzzers, f)
	return true
}

// prepare assigns codewords to every fuzz bit and fixes the baseline
// values. Every codeword has popcount (width+1)/2, so no codeword is a
// subset of another and a changed bit's run signature identifies its
// fuzz bit.
func (b *Batch) prepare(rng *rand.Rand) error {
	var refs []bitRef
	for fid, f := range b.Fuzzers {
		for i := 0; i < f.Bits(); i++ {
			refs = append(refs, bitRef{Fuzzer: fid, Bit: i})
		}
	}
	rng.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })

	width := 1
	for {
		code := make(map[bitRef]uint64, len(refs))
		hw := (width + 1) / 2
		var cw uint64
		fits := true
		for _, r := range refs {
			for cw < 1<<uint(width) && bits.OnesCount64(cw) != hw {
				cw++
			}
			if cw >= 1<<uint(width) {
				fits = false
				break
			}
			code[r] = cw
			cw++
		}
		if fits {
			b.code = code
			break
		}
		width++
		if width >= 64 {
			return fmt.Errorf("trial: batch %d: %d fuzz bits do not fit a codeword", b.ID, len(refs))
		}
	}
	b.Width = width
	b.byCode = make(map[uint64]bitRef, len(b.code))
	for r, cw := range b.code {
		b.byCode[cw] = r
	}

	keys := b.keys()
	b.base = make(map[Key]string)
	for _, k := range keys {
		s := b.kv[k]
		switch s.value.Kind {
		case ValueBase:
			b.base[k] = s.value.Base
		case ValueBaseAny:
			b.base[k] = s.value.Any[rng.IntN(len(s.value.Any))]
		}
	}
	return nil
}

func (b *Batch) keys() []Key {
	keys := make([]Key, 0, len(b.kv))
	for k := range b.kv {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Runs returns the number of toolchain invocations the batch needs.
func (b *Batch) Runs() int {
	return b.Width + 1
}

// Codeword returns the codeword of one fuzz bit.
func (b *Batch) Codeword(fuzzer, bit int) (uint64, bool) {
	cw, ok := b.code[bitRef{Fuzzer: fuzzer, Bit: bit}]
	return cw, ok
}

func (b *Batch) fuzzBit(fuzzer, bit, run int) bool {
	if run == 0 {
		return false
	}
	return b.code[bitRef{Fuzzer: fuzzer, Bit: bit}]>>uint(run-1)&1 != 0
}

// Assignment returns the concrete key values of one run. Run 0 is the
// baseline; run i>0 sets every fuzz bit whose codeword has bit i-1 set.
func (b *Batch) Assignment(run int) (map[Key]string, error) {
	if b.base == nil {
		return nil, fmt.Errorf("trial: batch %d not prepared", b.ID)
	}
	if run < 0 || run > b.Width {
		return nil, fmt.Errorf("trial: batch %d has no run %d", b.ID, run)
	}
	kv := make(map[Key]string, len(b.kv))
	for k, s := range b.kv {
		switch s.value.Kind {
		case ValueBase, ValueBaseAny:
			kv[k] = b.base[k]
		case ValueFuzz:
			if b.fuzzBit(s.fuzzer, 0, run) {
				kv[k] = s.value.B
			} else {
				kv[k] = s.value.A
			}
		case ValueMulti:
			vals := make([]bool, s.value.Width)
			for i := range vals {
				vals[i] = b.fuzzBit(s.fuzzer, i, run)
			}
			v, err := s.value.Format.Assemble(vals)
			if err != nil {
				return nil, err
			}
			kv[k] = v
		}
	}
	return kv, nil
}

// Design builds the toolchain input of one run.
func (b *Batch) Design(device string, run int) (*design.Design, error) {
	kv, err := b.Assignment(run)
	if err != nil {
		return nil, err
	}
	d, err := BuildDesign(device, kv)
	if err != nil {
		return nil, fmt.Errorf("trial: batch %d run %d: %w", b.ID, run, err)
	}
	return d, nil
}

// Attribute splits the changes of every variant run against the baseline
// into one diff per fuzz bit, in device-global coordinates. The result is
// indexed by fuzzer, then by fuzz bit.
func (b *Batch) Attribute(base *bitdiff.Bitstream, runs []*bitdiff.Bitstream) ([][]bitdiff.Diff, error) {
	if len(runs) != b.Width {
		return nil, fmt.Errorf("trial: batch %d: got %d runs, want %d", b.ID, len(runs), b.Width)
	}
	type signature struct {
		value bool
		mask  uint64
	}
	sigs := make(map[bitdiff.BitPos]signature)
	for i, bs := range runs {
		d := bitdiff.Subtract(base, bs)
		for p, v := range d.All() {
			s, ok := sigs[p]
			if ok && s.value != v {
				return nil, bitdiff.Inconsistent("Attribute", bitdiff.Diff{},
					"batch %d: bit %s changes direction between runs", b.ID, p)
			}
			sigs[p] = signature{value: v, mask: s.mask | 1<<uint(i)}
		}
	}

	out := make([][]bitdiff.Diff, len(b.Fuzzers))
	for fid, f := range b.Fuzzers {
		out[fid] = make([]bitdiff.Diff, f.Bits())
	}
	for p, s := range sigs {
		r, ok := b.byCode[s.mask]
		if !ok {
			return nil, bitdiff.Inconsistent("Attribute", bitdiff.Diff{},
				"batch %d: bit %s has run signature %b matching no fuzz bit (interference)", b.ID, p, s.mask)
		}
		out[r.Fuzzer][r.Bit].Set(p, s.value)
	}
	return out, nil
}
