// Package trial describes controlled toolchain experiments and turns their
// bitstreams into per-feature diffs.
//
// A Fuzzer measures one Feature. It lists the key/value requirements of the
// background configuration (Base, BaseAny) and the keys it toggles (Fuzz,
// FuzzMulti). Mutex keys are plain Base requirements on a design-time
// resource name: two fuzzers that need a resource held differently can never
// share a batch, and a single fuzzer asking for both is rejected with a
// ConflictError before any toolchain run.
//
// The Planner packs compatible fuzzers into Batches. Every fuzz bit in a
// batch gets a distinct codeword of equal popcount; the batch is realized as
// one baseline run plus one run per codeword bit, and each changed bit is
// attributed to a fuzz bit by the set of runs it changed in. A bit whose
// signature matches no codeword means two fuzzers interfered and is
// reported as an inconsistency.
//
// Results stores the attributed diffs keyed by Feature, translated from
// device-global tiles to the fuzzer's own tile list.
package trial
