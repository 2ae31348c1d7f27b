package trial

import (
	"fmt"
	"math/rand/v2"
)

// Planner packs fuzzers into batches. All randomness comes from the
// generator passed to NewPlanner, so a fixed seed reproduces a plan.
type Planner struct {
	Device string
	// MaxFuzzersPerBatch caps batch size; 0 means no limit.
	MaxFuzzersPerBatch int

	rng     *rand.Rand
	fuzzers []*Fuzzer
}

// NewPlanner creates a planner for device.
func NewPlanner(device string, rng *rand.Rand) *Planner {
	return &Planner{Device: device, rng: rng}
}

// Add validates and queues a fuzzer. Specification conflicts are returned
// here, before any toolchain run.
func (p *Planner) Add(f *Fuzzer) error {
	if err := f.Err(); err != nil {
		return err
	}
	p.fuzzers = append(p.fuzzers, f)
	return nil
}

// Len returns the number of queued fuzzers.
func (p *Planner) Len() int {
	return len(p.fuzzers)
}

// Plan packs the queued fuzzers into prepared batches.
func (p *Planner) Plan() ([]*Batch, error) {
	order := p.rng.Perm(len(p.fuzzers))
	var batches []*Batch
	for _, i := range order {
		f := p.fuzzers[i]
		placed := false
		for _, b := range batches {
			if p.MaxFuzzersPerBatch > 0 && len(b.Fuzzers) >= p.MaxFuzzersPerBatch {
				continue
			}
			if b.install(f) {
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		b := newBatch(len(batches))
		if !b.install(f) {
			return nil, fmt.Errorf("trial: %s: cannot be installed in an empty batch", f.Feature)
		}
		batches = append(batches, b)
	}
	for _, b := range batches {
		if err := b.prepare(p.rng); err != nil {
			return nil, err
		}
	}
	return batches, nil
}
