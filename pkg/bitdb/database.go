package bitdb

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// Entry pairs a key with its collected item.
type Entry struct {
	Key  Key
	Item TileItem
}

// Database is the output table from Key to TileItem for one device. Items
// are immutable once inserted. Safe for concurrent use.
type Database struct {
	Device string

	mu    sync.RWMutex
	items map[string]Entry
}

// NewDatabase creates an empty database for device.
func NewDatabase(device string) *Database {
	return &Database{
		Device: device,
		items:  make(map[string]Entry),
	}
}

// Insert stores item under key, which must pass CheckKey. Inserting an item
// equal to the one already present is a no-op; a different item is an
// inconsistency.
func (db *Database) Insert(key Key, item TileItem) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("bitdb: insert %s: %w", key, err)
	}
	id := key.String()

	db.mu.Lock()
	defer db.mu.Unlock()
	if cur, ok := db.items[id]; ok {
		if cur.Item.Equal(item) {
			return nil
		}
		return bitdiff.Inconsistent("Insert", bitdiff.Diff{}, "%s already collected with a different encoding", key)
	}
	db.items[id] = Entry{Key: key, Item: item}
	return nil
}

// Get returns the item stored under key.
func (db *Database) Get(key Key) (TileItem, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.items[key.String()]
	return e.Item, ok
}

// Len returns the number of items.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.items)
}

// Entries returns all entries ordered by key.
func (db *Database) Entries() []Entry {
	db.mu.RLock()
	out := make([]Entry, 0, len(db.items))
	for _, e := range db.items {
		out = append(out, e)
	}
	db.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// Keys returns all keys in order.
func (db *Database) Keys() []Key {
	entries := db.Entries()
	out := make([]Key, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// TileKinds returns the distinct tile kinds present, sorted.
func (db *Database) TileKinds() []string {
	var kinds []string
	for _, e := range db.Entries() {
		kinds = append(kinds, e.Key.TileKind())
	}
	slices.Sort(kinds)
	return slices.Compact(kinds)
}

// Tile returns the entries of one tile kind, ordered by key.
func (db *Database) Tile(kind string) []Entry {
	var out []Entry
	for _, e := range db.Entries() {
		if e.Key.TileKind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// Setting is one decoded key value. Value is the integer in decimal for a
// bit vector, the label for an enum and the source for a mux ("" when no
// source is selected).
type Setting struct {
	Key   Key
	Value string
}

// Decode interprets a tile bitstream of the given kind. Bit positions are
// relative to the tile. Every item of the tile is decoded; bits not covered
// by any item are returned as the residue.
func (db *Database) Decode(kind string, bs *bitdiff.Bitstream) ([]Setting, []bitdiff.BitPos, error) {
	covered := make(map[bitdiff.BitPos]bool)
	var out []Setting
	for _, e := range db.Tile(kind) {
		phys := e.Item.Read(bs)
		for _, p := range e.Item.AllPositions() {
			covered[p] = true
		}
		var value string
		switch e.Item.Kind {
		case KindBitVec:
			v, err := e.Item.DecodeInt(phys)
			if err != nil {
				return nil, nil, fmt.Errorf("bitdb: decode %s: %w", e.Key, err)
			}
			value = fmt.Sprint(v)
		default:
			label, err := e.Item.Match(phys)
			if err != nil {
				return nil, nil, fmt.Errorf("bitdb: decode %s: %w", e.Key, err)
			}
			value = label
		}
		out = append(out, Setting{Key: e.Key, Value: value})
	}
	var residue []bitdiff.BitPos
	for _, p := range bs.Positions() {
		if !covered[p] {
			residue = append(residue, p)
		}
	}
	return out, residue, nil
}

// Encode writes a setting into a tile bitstream.
func (db *Database) Encode(bs *bitdiff.Bitstream, s Setting) error {
	item, ok := db.Get(s.Key)
	if !ok {
		return fmt.Errorf("bitdb: unknown key %s", s.Key)
	}
	var phys []bool
	switch item.Kind {
	case KindBitVec:
		var v uint64
		if _, err := fmt.Sscan(s.Value, &v); err != nil {
			return fmt.Errorf("bitdb: encode %s: invalid integer %q", s.Key, s.Value)
		}
		p, err := item.EncodeInt(v)
		if err != nil {
			return fmt.Errorf("bitdb: encode %s: %w", s.Key, err)
		}
		phys = p
	default:
		p, err := item.Pattern(s.Value)
		if err != nil {
			return fmt.Errorf("bitdb: encode %s: %w", s.Key, err)
		}
		phys = p
	}
	return item.Write(bs, phys)
}
