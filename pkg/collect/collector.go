package collect

import (
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

// BoolFeature names the diff measured when attr of block goes from off to
// on. CollectBool reads it.
func BoolFeature(tile, block, attr string) trial.Feature {
	return trial.Feature{Tile: tile, Block: block, Attr: attr, Value: "1"}
}

// ValueFeature names the diff measured when attr of block takes value,
// relative to the base design. Enum and int rules read one per value.
func ValueFeature(tile, block, attr, value string) trial.Feature {
	return trial.Feature{Tile: tile, Block: block, Attr: attr, Value: value}
}

// BitVecFeature names the per-bit diffs of a multi-bit field, one diff per
// field bit in bit order.
func BitVecFeature(tile, block, field string) trial.Feature {
	return trial.Feature{Tile: tile, Block: block, Attr: field, Value: "*"}
}

// MuxFeature names the diff measured when the mux driving dst selects src.
func MuxFeature(tile, dst, src string) trial.Feature {
	return trial.Feature{Tile: tile, Block: "MUX", Attr: dst, Value: src}
}

// BufFeature names the diff measured when the buffer from src to dst is
// enabled.
func BufFeature(tile, dst, src string) trial.Feature {
	return trial.Feature{Tile: tile, Block: "BUF", Attr: dst, Value: src}
}

// InvFeature names the diff measured when input pin of block is inverted.
func InvFeature(tile, block, pin string) trial.Feature {
	return trial.Feature{Tile: tile, Block: block, Attr: "INV." + pin, Value: "1"}
}

// Collector reduces measured diffs into database items. Each collect
// method consumes the diffs it reads, so Finish can report anything no
// rule explained. Methods are safe to call concurrently for different keys.
type Collector struct {
	Results *trial.Results
	DB      *bitdb.Database
	Logger  *zap.Logger
}

// New returns a collector over results writing into db.
func New(results *trial.Results, db *bitdb.Database, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{Results: results, DB: db, Logger: logger}
}

func (c *Collector) insert(key bitdb.Key, item bitdb.TileItem) error {
	if err := item.Validate(); err != nil {
		return bitdiff.Inconsistent("Insert", bitdiff.Diff{}, "%s: %v", key, err)
	}
	if err := c.DB.Insert(key, item); err != nil {
		return err
	}
	c.Logger.Debug("collected", zap.Stringer("key", key), zap.Stringer("kind", item.Kind), zap.Int("width", item.Width()))
	return nil
}

func (c *Collector) takeOne(feat trial.Feature) (bitdiff.Diff, error) {
	d, err := c.Results.TakeOne(feat)
	if err != nil {
		return bitdiff.Diff{}, fmt.Errorf("collect: %w", err)
	}
	return d, nil
}

func (c *Collector) takeLabeled(tile, block, attr string, values []string) ([]LabeledDiff, error) {
	out := make([]LabeledDiff, 0, len(values))
	for _, v := range values {
		d, err := c.takeOne(ValueFeature(tile, block, attr, v))
		if err != nil {
			return nil, err
		}
		out = append(out, LabeledDiff{Label: v, Diff: d})
	}
	return out, nil
}

// CollectBool reduces a single-bit flag measured false->true.
func (c *Collector) CollectBool(tile, block, attr string) error {
	d, err := c.takeOne(BoolFeature(tile, block, attr))
	if err != nil {
		return err
	}
	bit, err := XlatBit(d)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: %w", tile, block, attr, err)
	}
	return c.insert(bitdb.AttrKey{Tile: tile, Block: block, Attr: attr}, bitdb.NewBool(bit))
}

// CollectBoolBi reduces a flag measured setting both "0" and "1" from the
// toolchain default, and returns that default.
func (c *Collector) CollectBoolBi(tile, block, attr string) (bool, error) {
	d0, err := c.takeOne(ValueFeature(tile, block, attr, "0"))
	if err != nil {
		return false, err
	}
	d1, err := c.takeOne(ValueFeature(tile, block, attr, "1"))
	if err != nil {
		return false, err
	}
	bit, def, err := XlatBitBi(d0, d1)
	if err != nil {
		return false, fmt.Errorf("collect: %s:%s:%s: %w", tile, block, attr, err)
	}
	return def, c.insert(bitdb.AttrKey{Tile: tile, Block: block, Attr: attr}, bitdb.NewBool(bit))
}

// CollectBitVec reduces a multi-bit field fuzzed one bit at a time.
func (c *Collector) CollectBitVec(tile, block, field string) error {
	diffs, err := c.Results.Take(BitVecFeature(tile, block, field))
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	bits, err := XlatBitVec(diffs)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: %w", tile, block, field, err)
	}
	return c.insert(bitdb.FieldKey{Tile: tile, Block: block, Field: field}, bitdb.NewBitVec(bits, bitdb.Binary))
}

// CollectInt reduces a numeric field measured at chosen integer values.
// The background configuration holds base; when base is not among the
// measured values it is added with an empty diff. With Gray encoding the
// field stores the Gray code of the value.
func (c *Collector) CollectInt(tile, block, field string, values []uint64, base uint64, enc bitdb.Encoding) error {
	conv := func(v uint64) uint64 { return v }
	if enc == bitdb.Gray {
		conv = func(v uint64) uint64 { return v ^ v>>1 }
	}
	var diffs []IntDiff
	if !slices.Contains(values, base) {
		diffs = append(diffs, IntDiff{Value: conv(base)})
	}
	for _, v := range values {
		d, err := c.takeOne(ValueFeature(tile, block, field, strconv.FormatUint(v, 10)))
		if err != nil {
			return err
		}
		diffs = append(diffs, IntDiff{Value: conv(v), Diff: d})
	}
	bits, err := XlatBitVecInt(diffs)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: %w", tile, block, field, err)
	}
	return c.insert(bitdb.FieldKey{Tile: tile, Block: block, Field: field}, bitdb.NewBitVec(bits, enc))
}

// CollectEnum reduces an attribute measured at every value.
func (c *Collector) CollectEnum(tile, block, attr string, values []string, ocd OCD) error {
	diffs, err := c.takeLabeled(tile, block, attr, values)
	if err != nil {
		return err
	}
	return c.insertEnum(tile, block, attr, diffs, ocd)
}

// CollectEnumDefault is CollectEnum for an attribute whose default value
// def is the background configuration and has no measurement.
func (c *Collector) CollectEnumDefault(tile, block, attr string, values []string, def string, ocd OCD) error {
	diffs := []LabeledDiff{{Label: def}}
	rest, err := c.takeLabeled(tile, block, attr, values)
	if err != nil {
		return err
	}
	return c.insertEnum(tile, block, attr, append(diffs, rest...), ocd)
}

// CollectEnumWithEnable separates a block enable shared by every value
// from the per-value selector bits. The enable becomes its own attribute;
// the remainder becomes the enum.
func (c *Collector) CollectEnumWithEnable(tile, block, attr string, values []string, enable string, ocd OCD) error {
	diffs, err := c.takeLabeled(tile, block, attr, values)
	if err != nil {
		return err
	}
	raw := make([]bitdiff.Diff, len(diffs))
	for i, ld := range diffs {
		raw[i] = ld.Diff
	}
	common, err := bitdiff.ExtractCommon(raw)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: enable: %w", tile, block, attr, err)
	}
	for i := range diffs {
		diffs[i].Diff = raw[i]
	}
	bits, err := XlatBitWide(common)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: enable: %w", tile, block, attr, err)
	}
	if err := c.insert(bitdb.AttrKey{Tile: tile, Block: block, Attr: enable}, bitdb.NewBitVec(bits, bitdb.Binary)); err != nil {
		return err
	}
	return c.insertEnum(tile, block, attr, diffs, ocd)
}

func (c *Collector) insertEnum(tile, block, attr string, diffs []LabeledDiff, ocd OCD) error {
	positions, values, err := XlatEnumRaw(diffs, ocd)
	if err != nil {
		return fmt.Errorf("collect: %s:%s:%s: %w", tile, block, attr, err)
	}
	return c.insert(bitdb.AttrKey{Tile: tile, Block: block, Attr: attr}, bitdb.NewEnum(positions, values))
}

// CollectMux reduces the source table of a routing mux. If no source
// leaves the bitstream unchanged, the mux has a disconnected state with an
// empty diff; otherwise the empty source is the mux default.
func (c *Collector) CollectMux(tile, dst string, sources []string, ocd OCD) error {
	diffs := make([]LabeledDiff, 0, len(sources)+1)
	gotEmpty := false
	for _, src := range sources {
		if src == "" {
			return fmt.Errorf("collect: mux %s:%s: empty source name", tile, dst)
		}
		d, err := c.takeOne(MuxFeature(tile, dst, src))
		if err != nil {
			return err
		}
		gotEmpty = gotEmpty || d.IsEmpty()
		diffs = append(diffs, LabeledDiff{Label: src, Diff: d})
	}
	if !gotEmpty {
		diffs = append(diffs, LabeledDiff{})
	}
	positions, values, err := XlatEnumRaw(diffs, ocd)
	if err != nil {
		return fmt.Errorf("collect: mux %s:%s: %w", tile, dst, err)
	}
	none := values[""]
	delete(values, "")
	return c.insert(bitdb.MuxKey{Tile: tile, Dst: dst}, bitdb.NewMux(positions, values, none))
}

// CollectInputInv reduces a block input-pin inverter.
func (c *Collector) CollectInputInv(tile, block, pin string) error {
	d, err := c.takeOne(InvFeature(tile, block, pin))
	if err != nil {
		return err
	}
	bit, err := XlatBit(d)
	if err != nil {
		return fmt.Errorf("collect: inv %s:%s:%s: %w", tile, block, pin, err)
	}
	return c.insert(bitdb.InvKey{Tile: tile, Block: block, Pin: pin}, bitdb.NewBool(bit))
}

// CollectProgBuf reduces a programmable buffer from src to dst.
func (c *Collector) CollectProgBuf(tile, dst, src string) error {
	d, err := c.takeOne(BufFeature(tile, dst, src))
	if err != nil {
		return err
	}
	bit, err := XlatBit(d)
	if err != nil {
		return fmt.Errorf("collect: buf %s:%s<-%s: %w", tile, dst, src, err)
	}
	return c.insert(bitdb.BufKey{Tile: tile, Dst: dst, Src: src}, bitdb.NewBool(bit))
}

// CollectBiPass reduces a bidirectional pass gate between a and b. Both
// directions were measured and must flip the same single bit.
func (c *Collector) CollectBiPass(tile, a, b string) error {
	da, err := c.takeOne(BufFeature(tile, a, b))
	if err != nil {
		return err
	}
	db, err := c.takeOne(BufFeature(tile, b, a))
	if err != nil {
		return err
	}
	r1, r2, _, err := bitdiff.Split(da, db)
	if err != nil {
		return fmt.Errorf("collect: pass %s:%s<->%s: %w", tile, a, b, err)
	}
	if !r1.IsEmpty() || !r2.IsEmpty() {
		return bitdiff.Inconsistent("CollectBiPass", r1.Combine(r2),
			"pass %s:%s<->%s differs by direction", tile, a, b)
	}
	bit, err := XlatBit(da)
	if err != nil {
		return fmt.Errorf("collect: pass %s:%s<->%s: %w", tile, a, b, err)
	}
	return c.insert(bitdb.BufKey{Tile: tile, Dst: a, Src: b}, bitdb.NewBool(bit))
}

// CollectDelay reduces a programmable delay with taps 0..n-1 into an enum
// keyed by tap number.
func (c *Collector) CollectDelay(tile, wire string, n int) error {
	values := make([]string, n)
	for i := range values {
		values[i] = strconv.Itoa(i)
	}
	return c.CollectEnum(tile, "DELAY", wire, values, ValueOrder)
}

// Peel removes the contribution of an already collected item from d: the
// item moved from one setting to another as a side effect of the fuzz.
// For bit vectors the settings are integers in decimal.
func (c *Collector) Peel(d *bitdiff.Diff, key bitdb.Key, from, to string) error {
	item, ok := c.DB.Get(key)
	if !ok {
		return fmt.Errorf("collect: peel %s: not collected", key)
	}
	if item.Kind == bitdb.KindBitVec {
		f, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			return fmt.Errorf("collect: peel %s: %w", key, err)
		}
		t, err := strconv.ParseUint(to, 10, 64)
		if err != nil {
			return fmt.Errorf("collect: peel %s: %w", key, err)
		}
		pf, err := item.EncodeInt(f)
		if err != nil {
			return err
		}
		pt, err := item.EncodeInt(t)
		if err != nil {
			return err
		}
		return d.ApplyEnumDiff(item.AllPositions(), pt, pf)
	}
	pf, err := item.Pattern(from)
	if err != nil {
		return fmt.Errorf("collect: peel %s: %w", key, err)
	}
	pt, err := item.Pattern(to)
	if err != nil {
		return fmt.Errorf("collect: peel %s: %w", key, err)
	}
	return d.ApplyEnumDiff(item.Positions, pt, pf)
}

// Finish reports every feature no rule consumed.
func (c *Collector) Finish() error {
	left := c.Results.Remaining()
	if len(left) == 0 {
		return nil
	}
	for _, f := range left {
		c.Logger.Warn("unconsumed feature", zap.Stringer("feature", f))
	}
	return bitdiff.Inconsistent("Finish", bitdiff.Diff{}, "%d features not consumed, first %s", len(left), left[0])
}
