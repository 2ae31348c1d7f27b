package toolchain

import (
	"fmt"
	"maps"
	"slices"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

// Placement is a block kind at a site.
type Placement struct {
	Kind string
	Site string
}

// Setting is an attribute value, or a pin connection, at a site.
type Setting struct {
	Site  string
	Name  string
	Value string
}

// Model is a synthetic device. Realizing a design starts from Base and
// flips the bits listed for every placement, attribute, pin, pip and option
// the design uses. Flipping a bit that Base sets clears it, which models
// active-low configuration bits.
type Model struct {
	Device     string
	Base       *bitdiff.Bitstream
	Placements map[Placement][]bitdiff.BitPos
	Attrs      map[Setting][]bitdiff.BitPos
	// Pins match on Value == "" for "connected to anything".
	Pins    map[Setting][]bitdiff.BitPos
	Pips    map[design.Pip][]bitdiff.BitPos
	Options map[Setting][]bitdiff.BitPos // Site is unused

	// Reject, when set, fails designs it returns an error for.
	Reject func(d *design.Design) error
}

// NewModel returns an empty model for device.
func NewModel(device string) *Model {
	return &Model{
		Device:     device,
		Base:       bitdiff.NewBitstream(),
		Placements: make(map[Placement][]bitdiff.BitPos),
		Attrs:      make(map[Setting][]bitdiff.BitPos),
		Pins:       make(map[Setting][]bitdiff.BitPos),
		Pips:       make(map[design.Pip][]bitdiff.BitPos),
		Options:    make(map[Setting][]bitdiff.BitPos),
	}
}

// Realize computes the bitstream of d.
func (m *Model) Realize(d *design.Design) (*bitdiff.Bitstream, error) {
	if m.Device != "" && d.Device != m.Device {
		return nil, &Error{Batch: -1, Run: -1, Design: d.HashString(),
			Err: fmt.Errorf("device %q, model is %q", d.Device, m.Device)}
	}
	if m.Reject != nil {
		if err := m.Reject(d); err != nil {
			return nil, &Error{Batch: -1, Run: -1, Design: d.HashString(), Err: err}
		}
	}
	bs := m.Base.Clone()
	flip := func(ps []bitdiff.BitPos) {
		for _, p := range ps {
			bs.Set(p, !bs.Get(p))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(d.Instances)) {
		inst := d.Instances[name]
		site := inst.Site
		if site == "" {
			site = name
		}
		flip(m.Placements[Placement{Kind: inst.Kind, Site: site}])
		for attr, v := range inst.Attrs {
			flip(m.Attrs[Setting{Site: site, Name: attr, Value: v}])
		}
		for pin, net := range inst.Pins {
			if ps, ok := m.Pins[Setting{Site: site, Name: pin, Value: net}]; ok {
				flip(ps)
			} else {
				flip(m.Pins[Setting{Site: site, Name: pin}])
			}
		}
	}
	for _, p := range d.Pips {
		flip(m.Pips[p])
	}
	for name, v := range d.Options {
		flip(m.Options[Setting{Name: name, Value: v}])
	}
	return bs, nil
}
