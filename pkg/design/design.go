// Package design describes the structured design handed to the vendor
// toolchain: named block instances with attributes and pin connections,
// routing pips, and global options.
package design

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Instance is one placed block.
type Instance struct {
	Kind  string            `json:"kind"`
	Site  string            `json:"site,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Pins  map[string]string `json:"pins,omitempty"` // pin -> net
}

// Pip is one enabled routing connection inside a tile.
type Pip struct {
	Tile string `json:"tile"`
	Dst  string `json:"dst"`
	Src  string `json:"src"`
}

func comparePips(a, b Pip) int {
	if c := cmp.Compare(a.Tile, b.Tile); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Dst, b.Dst); c != 0 {
		return c
	}
	return cmp.Compare(a.Src, b.Src)
}

// Design is a complete toolchain input. The zero value is not usable; use New.
type Design struct {
	Device    string               `json:"device"`
	Options   map[string]string    `json:"options,omitempty"`
	Instances map[string]*Instance `json:"instances,omitempty"`
	Pips      []Pip                `json:"pips,omitempty"`
}

// New creates an empty design for device.
func New(device string) *Design {
	return &Design{
		Device:    device,
		Options:   make(map[string]string),
		Instances: make(map[string]*Instance),
	}
}

// SetOption sets a global option.
func (d *Design) SetOption(name, value string) {
	d.Options[name] = value
}

// Place adds or retypes an instance.
func (d *Design) Place(name, kind, site string) *Instance {
	inst := d.instance(name)
	inst.Kind = kind
	if site != "" {
		inst.Site = site
	}
	return inst
}

func (d *Design) instance(name string) *Instance {
	inst, ok := d.Instances[name]
	if !ok {
		inst = &Instance{Attrs: make(map[string]string), Pins: make(map[string]string)}
		d.Instances[name] = inst
	}
	return inst
}

// SetAttr sets an attribute on an instance, creating it if needed.
func (d *Design) SetAttr(inst, attr, value string) {
	d.instance(inst).Attrs[attr] = value
}

// Connect ties an instance pin to a net.
func (d *Design) Connect(inst, pin, net string) {
	d.instance(inst).Pins[pin] = net
}

// AddPip enables a pip. Pips stay sorted.
func (d *Design) AddPip(tile, dst, src string) {
	p := Pip{Tile: tile, Dst: dst, Src: src}
	i, found := slices.BinarySearchFunc(d.Pips, p, comparePips)
	if found {
		return
	}
	d.Pips = slices.Insert(d.Pips, i, p)
}

// Validate checks that every instance with attributes or pins has a kind.
func (d *Design) Validate() error {
	for name, inst := range d.Instances {
		if inst.Kind == "" {
			return fmt.Errorf("design: instance %q has no kind", name)
		}
	}
	for _, p := range d.Pips {
		if p.Tile == "" || p.Dst == "" || p.Src == "" {
			return fmt.Errorf("design: incomplete pip %+v", p)
		}
	}
	return nil
}

// Hash returns a content hash of the design. Equal designs hash equal
// regardless of construction order.
func (d *Design) Hash() uint64 {
	// encoding/json sorts map keys, and pips are kept sorted.
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("design: marshal: %v", err))
	}
	return xxhash.Sum64(data)
}

// HashString returns Hash as fixed-width hex.
func (d *Design) HashString() string {
	return fmt.Sprintf("%016x", d.Hash())
}

// Save writes the design as JSON.
func (d *Design) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("design: write %s: %w", path, err)
	}
	return nil
}

// Load reads a design written by Save.
func Load(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("design: read %s: %w", path, err)
	}
	d := New("")
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("design: parse %s: %w", path, err)
	}
	return d, nil
}
