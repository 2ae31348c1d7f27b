package verify

import (
	"cmp"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// Kind classifies a conflict.
type Kind int

const (
	MissingPipWire   Kind = iota // a collected pip names a wire the tile does not have
	DoubleClaimedPip             // two database items claim one pip
	MissingPip                   // a collected pip does not exist in the topology
	MultipleDrivers              // a single-driver node is claimed by more than one driver
	Undriven                     // a single-driver node has no driver
	NodeMismatch                 // a declared connection joins two different nodes
	MissingWire                  // a declared connection or group names an unknown wire
	AmbiguousNaming              // a naming group spans more than one node
	SharedBit                    // two keys of one tile kind use the same bit
	UnclaimedPip                 // a topology pip no database item explains
)

var kindNames = [...]string{
	"missing-pip-wire",
	"double-claimed-pip",
	"missing-pip",
	"multiple-drivers",
	"undriven",
	"node-mismatch",
	"missing-wire",
	"ambiguous-naming",
	"shared-bit",
	"unclaimed-pip",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Conflict is one verification finding. Tile is a tile instance name,
// except for SharedBit where it is a tile kind.
type Conflict struct {
	Kind    Kind
	Tile    string
	Subject string
	Detail  string
}

func (c Conflict) String() string {
	s := c.Kind.String() + " " + c.Tile
	if c.Subject != "" {
		s += " " + c.Subject
	}
	if c.Detail != "" {
		s += ": " + c.Detail
	}
	return s
}

func compareConflicts(a, b Conflict) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Tile, b.Tile),
		cmp.Compare(a.Subject, b.Subject),
		cmp.Compare(a.Detail, b.Detail),
	)
}

// ConflictError reports one conflict as an error. It matches
// bitdiff.ErrInconsistent.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: verify: %s", bitdiff.ErrInconsistent, e.Conflict)
}

func (e *ConflictError) Unwrap() error {
	return bitdiff.ErrInconsistent
}
