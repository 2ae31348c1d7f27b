package trial

import (
	"fmt"
	"slices"
)

// Fuzzer is one measurement: the requirements on the background
// configuration plus the keys toggled to produce the Feature's diff.
// Methods chain; the first problem is kept and reported by Err.
type Fuzzer struct {
	Feature Feature
	// Tiles maps device tiles to the feature's relative tile numbering:
	// Tiles[i] is the global tile index that becomes tile i in the diff.
	Tiles []int

	kv    map[Key]Value
	order []Key
	err   error
}

// NewFuzzer starts a fuzzer for feat whose bits live in the given tiles.
func NewFuzzer(feat Feature, tiles ...int) *Fuzzer {
	return &Fuzzer{
		Feature: feat,
		Tiles:   slices.Clone(tiles),
		kv:      make(map[Key]Value),
	}
}

func (f *Fuzzer) set(k Key, v Value) *Fuzzer {
	if f.err != nil {
		return f
	}
	if cur, ok := f.kv[k]; ok {
		if !cur.Equal(v) {
			f.err = &ConflictError{Feature: f.Feature, Key: k, Existing: cur, Requested: v}
		}
		return f
	}
	f.kv[k] = v
	f.order = append(f.order, k)
	return f
}

// Base requires k to hold v.
func (f *Fuzzer) Base(k Key, v string) *Fuzzer { return f.set(k, BaseValue(v)) }

// BaseAny requires k to hold one of vs.
func (f *Fuzzer) BaseAny(k Key, vs ...string) *Fuzzer {
	if len(vs) == 0 {
		if f.err == nil {
			f.err = fmt.Errorf("trial: %s: empty value set for %s", f.Feature, k)
		}
		return f
	}
	return f.set(k, AnyValue(vs...))
}

// Fuzz toggles k from a to b.
func (f *Fuzzer) Fuzz(k Key, a, b string) *Fuzzer {
	if a == b && f.err == nil {
		f.err = fmt.Errorf("trial: %s: fuzz of %s does not change its value", f.Feature, k)
		return f
	}
	return f.set(k, FuzzValue(a, b))
}

// FuzzMulti fuzzes the width bits of k independently.
func (f *Fuzzer) FuzzMulti(k Key, width int, format MultiFormat) *Fuzzer {
	if (width < 1 || width > 64) && f.err == nil {
		f.err = fmt.Errorf("trial: %s: invalid multi width %d", f.Feature, width)
		return f
	}
	return f.set(k, MultiValue(width, format))
}

// Mutex claims a design-time resource for holder. Fuzzers that claim the
// same resource for different holders never share a batch.
func (f *Fuzzer) Mutex(resource, holder string) *Fuzzer {
	return f.Base(MutexKey(resource), holder)
}

// Err returns the first specification problem, if any.
func (f *Fuzzer) Err() error {
	if f.err != nil {
		return f.err
	}
	multi, fuzz := 0, 0
	for _, v := range f.kv {
		switch v.Kind {
		case ValueFuzz:
			fuzz++
		case ValueMulti:
			multi++
		}
	}
	switch {
	case multi == 0 && fuzz == 0:
		return fmt.Errorf("trial: %s: fuzzer toggles nothing", f.Feature)
	case multi > 1 || (multi == 1 && fuzz > 0):
		return fmt.Errorf("trial: %s: a multi fuzz must be the only fuzzed key", f.Feature)
	}
	return nil
}

// Bits returns how many independent fuzz bits the fuzzer has.
func (f *Fuzzer) Bits() int {
	for _, v := range f.kv {
		if v.Kind == ValueMulti {
			return v.Width
		}
	}
	return 1
}

// Requirements returns the fuzzer's keys in the order they were added.
func (f *Fuzzer) Requirements() []Key {
	return slices.Clone(f.order)
}

// Value returns the requirement on k.
func (f *Fuzzer) Value(k Key) (Value, bool) {
	v, ok := f.kv[k]
	return v, ok
}

func (f *Fuzzer) String() string {
	return f.Feature.String()
}
