package collect

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdb"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

// Rule describes how one attribute is collected. The set of rule types is
// closed; Apply handles every one of them.
type Rule interface {
	fmt.Stringer
	rule()
}

type (
	// BoolRule collects a flag measured false->true.
	BoolRule   struct{ Tile, Block, Attr string }
	// BoolBiRule collects a flag measured in both directions.
	BoolBiRule struct{ Tile, Block, Attr string }
	// BitVecRule collects a field fuzzed one bit at a time.
	BitVecRule struct{ Tile, Block, Field string }
	// IntRule collects a numeric field measured at chosen values.
	IntRule struct {
		Tile, Block, Field string
		Values             []uint64
		Base               uint64
		Encoding           bitdb.Encoding
	}
	// EnumRule collects a named-value attribute. Default names a value
	// held by the background configuration; Enable names a separate
	// attribute for bits shared by every value. At most one may be set.
	EnumRule struct {
		Tile, Block, Attr string
		Values            []string
		Default           string
		Enable            string
		OCD               OCD
	}
	// MuxRule collects a routing mux.
	MuxRule struct {
		Tile, Dst string
		Sources   []string
		OCD       OCD
	}
	InvRule    struct{ Tile, Block, Pin string }
	BufRule    struct{ Tile, Dst, Src string }
	BiPassRule struct{ Tile, A, B string }
	DelayRule  struct {
		Tile, Wire string
		Taps       int
	}
)

func (BoolRule) rule()   {}
func (BoolBiRule) rule() {}
func (BitVecRule) rule() {}
func (IntRule) rule()    {}
func (EnumRule) rule()   {}
func (MuxRule) rule()    {}
func (InvRule) rule()    {}
func (BufRule) rule()    {}
func (BiPassRule) rule() {}
func (DelayRule) rule()  {}

func (r BoolRule) String() string   { return "bool " + r.Tile + ":" + r.Block + ":" + r.Attr }
func (r BoolBiRule) String() string { return "boolbi " + r.Tile + ":" + r.Block + ":" + r.Attr }
func (r BitVecRule) String() string { return "bitvec " + r.Tile + ":" + r.Block + ":" + r.Field }
func (r IntRule) String() string    { return "int " + r.Tile + ":" + r.Block + ":" + r.Field }
func (r EnumRule) String() string   { return "enum " + r.Tile + ":" + r.Block + ":" + r.Attr }
func (r MuxRule) String() string    { return "mux " + r.Tile + ":" + r.Dst }
func (r InvRule) String() string    { return "inv " + r.Tile + ":" + r.Block + ":" + r.Pin }
func (r BufRule) String() string    { return "buf " + r.Tile + ":" + r.Dst + ":" + r.Src }
func (r BiPassRule) String() string { return "bipass " + r.Tile + ":" + r.A + ":" + r.B }
func (r DelayRule) String() string  { return "delay " + r.Tile + ":" + r.Wire }

// Features lists the features a rule consumes.
func Features(r Rule) []trial.Feature {
	switch r := r.(type) {
	case BoolRule:
		return []trial.Feature{BoolFeature(r.Tile, r.Block, r.Attr)}
	case BoolBiRule:
		return []trial.Feature{ValueFeature(r.Tile, r.Block, r.Attr, "0"), ValueFeature(r.Tile, r.Block, r.Attr, "1")}
	case BitVecRule:
		return []trial.Feature{BitVecFeature(r.Tile, r.Block, r.Field)}
	case IntRule:
		out := make([]trial.Feature, len(r.Values))
		for i, v := range r.Values {
			out[i] = ValueFeature(r.Tile, r.Block, r.Field, strconv.FormatUint(v, 10))
		}
		return out
	case EnumRule:
		out := make([]trial.Feature, len(r.Values))
		for i, v := range r.Values {
			out[i] = ValueFeature(r.Tile, r.Block, r.Attr, v)
		}
		return out
	case MuxRule:
		out := make([]trial.Feature, len(r.Sources))
		for i, s := range r.Sources {
			out[i] = MuxFeature(r.Tile, r.Dst, s)
		}
		return out
	case InvRule:
		return []trial.Feature{InvFeature(r.Tile, r.Block, r.Pin)}
	case BufRule:
		return []trial.Feature{BufFeature(r.Tile, r.Dst, r.Src)}
	case BiPassRule:
		return []trial.Feature{BufFeature(r.Tile, r.A, r.B), BufFeature(r.Tile, r.B, r.A)}
	case DelayRule:
		out := make([]trial.Feature, r.Taps)
		for i := range out {
			out[i] = ValueFeature(r.Tile, "DELAY", r.Wire, strconv.Itoa(i))
		}
		return out
	default:
		panic(fmt.Sprintf("collect: unhandled rule %T", r))
	}
}

// Apply runs one rule.
func (c *Collector) Apply(r Rule) error {
	switch r := r.(type) {
	case BoolRule:
		return c.CollectBool(r.Tile, r.Block, r.Attr)
	case BoolBiRule:
		_, err := c.CollectBoolBi(r.Tile, r.Block, r.Attr)
		return err
	case BitVecRule:
		return c.CollectBitVec(r.Tile, r.Block, r.Field)
	case IntRule:
		enc := r.Encoding
		if enc == "" {
			enc = bitdb.Binary
		}
		return c.CollectInt(r.Tile, r.Block, r.Field, r.Values, r.Base, enc)
	case EnumRule:
		switch {
		case r.Default != "" && r.Enable != "":
			return fmt.Errorf("collect: %s: default and enable are exclusive", r)
		case r.Default != "":
			return c.CollectEnumDefault(r.Tile, r.Block, r.Attr, r.Values, r.Default, r.OCD)
		case r.Enable != "":
			return c.CollectEnumWithEnable(r.Tile, r.Block, r.Attr, r.Values, r.Enable, r.OCD)
		default:
			return c.CollectEnum(r.Tile, r.Block, r.Attr, r.Values, r.OCD)
		}
	case MuxRule:
		return c.CollectMux(r.Tile, r.Dst, r.Sources, r.OCD)
	case InvRule:
		return c.CollectInputInv(r.Tile, r.Block, r.Pin)
	case BufRule:
		return c.CollectProgBuf(r.Tile, r.Dst, r.Src)
	case BiPassRule:
		return c.CollectBiPass(r.Tile, r.A, r.B)
	case DelayRule:
		return c.CollectDelay(r.Tile, r.Wire, r.Taps)
	default:
		return fmt.Errorf("collect: unhandled rule %T", r)
	}
}

// CollectAll applies rules with at most workers running at once. Rules
// for different keys are independent; the first failure stops the rest.
func (c *Collector) CollectAll(ctx context.Context, rules []Rule, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, r := range rules {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.Apply(r); err != nil {
				c.Logger.Error("rule failed", zap.Stringer("rule", r), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
