package collect

import (
	"fmt"
	"slices"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

type ocdMode int

const (
	ocdBitOrder ocdMode = iota
	ocdBitMajorOrder
	ocdValueOrder
	ocdMux
	ocdFixedOrder
)

// OCD is the tie-break policy that orders the positions of an enum or mux
// when the measurements alone admit several orderings. It is always chosen
// by the caller; the reductions never infer it.
type OCD struct {
	mode  ocdMode
	fixed []bitdiff.BitPos
}

var (
	// BitOrder keeps positions in (tile, frame, bit) order.
	BitOrder = OCD{mode: ocdBitOrder}
	// BitMajorOrder orders positions by tile, then bit, then frame.
	BitMajorOrder = OCD{mode: ocdBitMajorOrder}
	// ValueOrder orders positions by the values that set them, in input
	// order: positions set by earlier values come first.
	ValueOrder = OCD{mode: ocdValueOrder}
	// Mux is ValueOrder followed by grouping: enable bits first, then
	// one-hot groups from largest to smallest, then everything else.
	Mux = OCD{mode: ocdMux}
)

// FixedOrder uses exactly the given positions in the given order.
func FixedOrder(ps ...bitdiff.BitPos) OCD {
	return OCD{mode: ocdFixedOrder, fixed: slices.Clone(ps)}
}

func (o OCD) String() string {
	switch o.mode {
	case ocdBitOrder:
		return "bit"
	case ocdBitMajorOrder:
		return "bitmajor"
	case ocdValueOrder:
		return "value"
	case ocdMux:
		return "mux"
	case ocdFixedOrder:
		return fmt.Sprintf("fixed%v", o.fixed)
	default:
		return "unknown"
	}
}

// ParseOCD maps a policy name to its OCD. Fixed orders have no name.
func ParseOCD(name string) (OCD, error) {
	switch name {
	case "bit":
		return BitOrder, nil
	case "bitmajor":
		return BitMajorOrder, nil
	case "", "value":
		return ValueOrder, nil
	case "mux":
		return Mux, nil
	default:
		return OCD{}, fmt.Errorf("collect: unknown ocd mode %q", name)
	}
}
