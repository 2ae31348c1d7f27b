package bitdiff

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Bitstream is the set of configuration bits that are set in one realized
// design. Bits not in the set are cleared.
type Bitstream struct {
	set map[BitPos]struct{}
}

// NewBitstream returns a bitstream with the given bits set.
func NewBitstream(ps ...BitPos) *Bitstream {
	b := &Bitstream{set: make(map[BitPos]struct{}, len(ps))}
	for _, p := range ps {
		b.set[p] = struct{}{}
	}
	return b
}

// Get returns the value of p.
func (b *Bitstream) Get(p BitPos) bool {
	if b == nil {
		return false
	}
	_, ok := b.set[p]
	return ok
}

// Set assigns the value of p.
func (b *Bitstream) Set(p BitPos, v bool) {
	if b.set == nil {
		b.set = make(map[BitPos]struct{})
	}
	if v {
		b.set[p] = struct{}{}
	} else {
		delete(b.set, p)
	}
}

// Len returns the number of set bits.
func (b *Bitstream) Len() int {
	if b == nil {
		return 0
	}
	return len(b.set)
}

// Positions returns the set bits in order.
func (b *Bitstream) Positions() []BitPos {
	if b == nil {
		return nil
	}
	return SortPositions(slices.Collect(maps.Keys(b.set)))
}

// Clone returns an independent copy.
func (b *Bitstream) Clone() *Bitstream {
	if b == nil {
		return NewBitstream()
	}
	return &Bitstream{set: maps.Clone(b.set)}
}

// Apply writes every entry of d into b.
func (b *Bitstream) Apply(d Diff) {
	for p, v := range d.bits {
		b.Set(p, v)
	}
}

// Equal reports whether both bitstreams set the same bits.
func (b *Bitstream) Equal(o *Bitstream) bool {
	return Subtract(b, o).IsEmpty()
}

// Subtract returns the diff that turns base into other: every position
// where they disagree, mapped to other's value.
func Subtract(base, other *Bitstream) Diff {
	d := Diff{bits: make(map[BitPos]bool)}
	if base != nil {
		for p := range base.set {
			if !other.Get(p) {
				d.bits[p] = false
			}
		}
	}
	if other != nil {
		for p := range other.set {
			if !base.Get(p) {
				d.bits[p] = true
			}
		}
	}
	return d
}

// ReadBits parses the text bits format: one "tile frame bit" triple per
// line naming a set bit. Blank lines and '#' comments are ignored.
func ReadBits(r io.Reader) (*Bitstream, error) {
	b := NewBitstream()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("bitdiff: line %d: expected 3 fields, got %d", line, len(fields))
		}
		var nums [3]int
		for i, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bitdiff: line %d: invalid number %q", line, f)
			}
			nums[i] = n
		}
		b.Set(BitPos{Tile: nums[0], Frame: nums[1], Bit: nums[2]}, true)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("bitdiff: read bits: %w", err)
	}
	return b, nil
}

// WriteBits writes b in the text bits format, in position order.
func WriteBits(w io.Writer, b *Bitstream) error {
	bw := bufio.NewWriter(w)
	for _, p := range b.Positions() {
		if _, err := fmt.Fprintf(bw, "%d %d %d\n", p.Tile, p.Frame, p.Bit); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadBitsFile reads a bits file from disk.
func LoadBitsFile(path string) (*Bitstream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitdiff: failed to open file: %w", err)
	}
	defer f.Close()
	return ReadBits(f)
}

// SaveBitsFile writes a bits file to disk.
func SaveBitsFile(path string, b *Bitstream) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bitdiff: failed to create file: %w", err)
	}
	if err := WriteBits(f, b); err != nil {
		f.Close()
		return fmt.Errorf("bitdiff: write %s: %w", path, err)
	}
	return f.Close()
}
