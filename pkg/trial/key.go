package trial

import (
	"cmp"
	"fmt"
)

// KeyKind is the kind of design element a Key addresses.
type KeyKind int

const (
	KeyInst   KeyKind = iota // block instance; value is "KIND" or "KIND@SITE"
	KeyAttr                  // instance attribute
	KeyPin                   // instance pin; value is a net name
	KeyPip                   // routing pip; scope is the tile, name the destination, value the source
	KeyOption                // global option
	KeyMutex                 // design-time resource; never reaches the toolchain
)

var keyKindNames = [...]string{"inst", "attr", "pin", "pip", "option", "mutex"}

func (k KeyKind) String() string {
	if int(k) < len(keyKindNames) {
		return keyKindNames[k]
	}
	return fmt.Sprintf("KeyKind(%d)", int(k))
}

// Key addresses one configurable element of a design.
type Key struct {
	Kind  KeyKind
	Scope string
	Name  string
}

func Inst(name string) Key         { return Key{Kind: KeyInst, Scope: name} }
func Attr(inst, name string) Key   { return Key{Kind: KeyAttr, Scope: inst, Name: name} }
func Pin(inst, name string) Key    { return Key{Kind: KeyPin, Scope: inst, Name: name} }
func Pip(tile, dst string) Key     { return Key{Kind: KeyPip, Scope: tile, Name: dst} }
func Option(name string) Key       { return Key{Kind: KeyOption, Scope: name} }
func MutexKey(resource string) Key { return Key{Kind: KeyMutex, Scope: resource} }

func (k Key) String() string {
	if k.Name == "" {
		return k.Kind.String() + ":" + k.Scope
	}
	return k.Kind.String() + ":" + k.Scope + "." + k.Name
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Scope, b.Scope); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// Feature names one measured effect: a value of an attribute on a block of
// a tile kind. Routing features use Block "MUX" or "BUF".
type Feature struct {
	Tile  string `json:"tile"`
	Block string `json:"block"`
	Attr  string `json:"attr"`
	Value string `json:"value"`
}

func (f Feature) String() string {
	return f.Tile + ":" + f.Block + ":" + f.Attr + ":" + f.Value
}

func compareFeatures(a, b Feature) int {
	return cmp.Or(
		cmp.Compare(a.Tile, b.Tile),
		cmp.Compare(a.Block, b.Block),
		cmp.Compare(a.Attr, b.Attr),
		cmp.Compare(a.Value, b.Value),
	)
}
