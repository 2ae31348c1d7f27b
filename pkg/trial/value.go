package trial

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValueKind is the role a key plays in a fuzzer.
type ValueKind int

const (
	ValueBase    ValueKind = iota // fixed background value
	ValueBaseAny                  // background value, any of a set
	ValueFuzz                     // toggled between A and B
	ValueMulti                    // multi-bit value assembled from fuzz bits
)

// MultiFormat renders the bits of a multi-bit fuzz value.
type MultiFormat string

const (
	MultiBin MultiFormat = "bin" // most significant bit first
	MultiHex MultiFormat = "hex"
	MultiDec MultiFormat = "dec"
)

// Assemble renders bits, least significant first, in the format.
func (f MultiFormat) Assemble(bits []bool) (string, error) {
	switch f {
	case MultiBin:
		var sb strings.Builder
		for i := len(bits) - 1; i >= 0; i-- {
			if bits[i] {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		return sb.String(), nil
	case MultiHex, MultiDec:
		if len(bits) > 64 {
			return "", fmt.Errorf("trial: %d bits do not fit a %s value", len(bits), f)
		}
		var v uint64
		for i, b := range bits {
			if b {
				v |= 1 << uint(i)
			}
		}
		if f == MultiDec {
			return strconv.FormatUint(v, 10), nil
		}
		digits := (len(bits) + 3) / 4
		return fmt.Sprintf("%0*X", digits, v), nil
	default:
		return "", fmt.Errorf("trial: unknown multi format %q", f)
	}
}

// Value is the requirement a fuzzer places on one key.
type Value struct {
	Kind   ValueKind
	Base   string      // ValueBase
	Any    []string    // ValueBaseAny, sorted and deduplicated
	A, B   string      // ValueFuzz: baseline and variant
	Width  int         // ValueMulti
	Format MultiFormat // ValueMulti
}

// BaseValue requires v.
func BaseValue(v string) Value { return Value{Kind: ValueBase, Base: v} }

// AnyValue requires one of vs; the planner picks.
func AnyValue(vs ...string) Value {
	set := slices.Clone(vs)
	slices.Sort(set)
	return Value{Kind: ValueBaseAny, Any: slices.Compact(set)}
}

// FuzzValue toggles between a (baseline) and b.
func FuzzValue(a, b string) Value { return Value{Kind: ValueFuzz, A: a, B: b} }

// MultiValue fuzzes every bit of a width-bit value independently.
func MultiValue(width int, format MultiFormat) Value {
	return Value{Kind: ValueMulti, Width: width, Format: format}
}

func (v Value) allows(s string) bool {
	_, found := slices.BinarySearch(v.Any, s)
	return found
}

// Equal reports whether two requirements are identical.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Base == o.Base && slices.Equal(v.Any, o.Any) &&
		v.A == o.A && v.B == o.B && v.Width == o.Width && v.Format == o.Format
}

func (v Value) String() string {
	switch v.Kind {
	case ValueBase:
		return strconv.Quote(v.Base)
	case ValueBaseAny:
		return "any(" + strings.Join(v.Any, ",") + ")"
	case ValueFuzz:
		return strconv.Quote(v.A) + "->" + strconv.Quote(v.B)
	case ValueMulti:
		return fmt.Sprintf("multi(%d,%s)", v.Width, v.Format)
	default:
		return fmt.Sprintf("Value(%d)", int(v.Kind))
	}
}
