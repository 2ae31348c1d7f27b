package trial

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

type featureData struct {
	Feature Feature        `json:"feature"`
	Diffs   []bitdiff.Diff `json:"diffs"`
	Sources int            `json:"sources"`
}

// Results holds the measured diffs of every feature, one diff per fuzz bit,
// in tile-relative coordinates. Safe for concurrent use.
type Results struct {
	mu       sync.Mutex
	features map[Feature]*featureData
}

// NewResults returns an empty store.
func NewResults() *Results {
	return &Results{features: make(map[Feature]*featureData)}
}

// Record translates a fuzzer's global diffs into its tile numbering and
// stores them. A bit outside the fuzzer's tiles is an inconsistency, as is
// a second measurement of the same feature that disagrees with the first.
func (r *Results) Record(f *Fuzzer, global []bitdiff.Diff) error {
	rel := make(map[int]int, len(f.Tiles))
	for i, t := range f.Tiles {
		rel[t] = i
	}
	local := make([]bitdiff.Diff, len(global))
	for i, d := range global {
		for p, v := range d.All() {
			idx, ok := rel[p.Tile]
			if !ok {
				return bitdiff.Inconsistent("Record", d, "%s: bit %s outside tiles %v", f.Feature, p, f.Tiles)
			}
			local[i].Set(bitdiff.BitPos{Tile: idx, Frame: p.Frame, Bit: p.Bit}, v)
		}
	}
	return r.Put(f.Feature, local)
}

// Put stores diffs for feat, or checks them against an earlier measurement.
func (r *Results) Put(feat Feature, diffs []bitdiff.Diff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.features[feat]
	if !ok {
		r.features[feat] = &featureData{Feature: feat, Diffs: diffs, Sources: 1}
		return nil
	}
	if !slices.EqualFunc(cur.Diffs, diffs, bitdiff.Diff.Equal) {
		return bitdiff.Inconsistent("Record", bitdiff.Diff{}, "%s: measurements disagree: %v vs %v", feat, cur.Diffs, diffs)
	}
	cur.Sources++
	return nil
}

// Take removes and returns the diffs of feat.
func (r *Results) Take(feat Feature) ([]bitdiff.Diff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd, ok := r.features[feat]
	if !ok {
		return nil, fmt.Errorf("trial: %s: %w", feat, ErrMissing)
	}
	delete(r.features, feat)
	return fd.Diffs, nil
}

// TakeOne removes and returns the single diff of feat.
func (r *Results) TakeOne(feat Feature) (bitdiff.Diff, error) {
	diffs, err := r.Take(feat)
	if err != nil {
		return bitdiff.Diff{}, err
	}
	if len(diffs) != 1 {
		return bitdiff.Diff{}, fmt.Errorf("trial: %s: expected 1 diff, got %d", feat, len(diffs))
	}
	return diffs[0], nil
}

// Peek returns copies of the diffs of feat without removing them.
func (r *Results) Peek(feat Feature) ([]bitdiff.Diff, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd, ok := r.features[feat]
	if !ok {
		return nil, false
	}
	out := make([]bitdiff.Diff, len(fd.Diffs))
	for i, d := range fd.Diffs {
		out[i] = d.Clone()
	}
	return out, true
}

// Remaining returns the features not yet taken, sorted.
func (r *Results) Remaining() []Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Feature, 0, len(r.features))
	for f := range r.features {
		out = append(out, f)
	}
	slices.SortFunc(out, compareFeatures)
	return out
}

// Len returns the number of features held.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.features)
}

// Save writes the store as JSON.
func (r *Results) Save(path string) error {
	r.mu.Lock()
	list := make([]*featureData, 0, len(r.features))
	for _, fd := range r.features {
		list = append(list, fd)
	}
	r.mu.Unlock()
	slices.SortFunc(list, func(a, b *featureData) int { return compareFeatures(a.Feature, b.Feature) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("trial: write %s: %w", path, err)
	}
	return nil
}

// LoadResults reads a store written by Save.
func LoadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trial: read %s: %w", path, err)
	}
	var list []*featureData
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("trial: parse %s: %w", path, err)
	}
	r := NewResults()
	for _, fd := range list {
		r.features[fd.Feature] = fd
	}
	return r, nil
}
