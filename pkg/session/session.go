// Package session drives the toolchain over a set of fuzzers. It plans
// batches, realizes every run of every batch in a bounded worker pool,
// attributes the changes to fuzz bits and records them in a trial.Results.
//
// A toolchain failure aborts only the batch it happened in and is listed
// in the Report. An inconsistency in the measured bits halts the session.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/toolchain"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

// Progress reports the current state of a session.
type Progress struct {
	Phase  string // "init", "scanning", "finalizing"
	Batch  int    // batch that just finished, -1 outside "scanning"
	Index  int    // finished batches so far
	Total  int    // number of batches
	Failed int    // batches lost to toolchain failures so far
}

// Failure is one batch lost to a toolchain failure.
type Failure struct {
	Batch    int
	Features []trial.Feature
	Err      error
}

// Report summarizes a session run.
type Report struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Fuzzers   int
	Skipped   []trial.Feature
	Batches   int
	Runs      int
	CacheHits int
	Failures  []Failure
}

// Err combines all batch failures, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Session realizes fuzzer batches through a toolchain.
type Session struct {
	cfg     *Config
	tc      toolchain.Toolchain
	log     *zap.Logger
	metrics *Metrics
	cache   *Cache
	flight  singleflight.Group
}

// New validates cfg and opens the bitstream cache, if configured.
func New(cfg *Config, tc toolchain.Toolchain) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	s := &Session{
		cfg:     cfg,
		tc:      tc,
		log:     cfg.Logger,
		metrics: NewMetrics(cfg.Registerer),
	}
	if cfg.KeepBitstreams != "" {
		if err := os.MkdirAll(cfg.KeepBitstreams, 0o755); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	if cfg.CacheDir != "" {
		c, err := OpenCache(cfg.CacheDir, cfg.Logger)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// Metrics returns the session's collectors.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Close releases the cache.
func (s *Session) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// runState is the mutable part of one Run, shared by the workers.
type runState struct {
	mu     sync.Mutex
	rep    *Report
	done   int
	failed int
}

// Run plans fuzzers into batches, realizes them and records the attributed
// diffs into results. Fuzzers rejected by the feature filters are listed
// in Report.Skipped. The returned error is non-nil only for conditions
// that halt the whole session: specification conflicts, inconsistent
// measurements, and cancellation. Toolchain failures are in Report.Failures.
//
// progress is optional; when set it must be drained by the caller.
func (s *Session) Run(
	ctx context.Context,
	fuzzers []*trial.Fuzzer,
	results *trial.Results,
	progress chan<- Progress,
) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), Started: time.Now()}
	log := s.log.With(zap.String("run", rep.RunID))
	defer func() { rep.Duration = time.Since(rep.Started) }()

	// Phase 1: plan
	if progress != nil {
		progress <- Progress{Phase: "init", Batch: -1}
	}
	planner := NewPlanner(s.cfg)
	for _, f := range fuzzers {
		if !s.cfg.ShouldRun(f.Feature) {
			rep.Skipped = append(rep.Skipped, f.Feature)
			continue
		}
		if err := planner.Add(f); err != nil {
			return rep, fmt.Errorf("session: %w", err)
		}
	}
	rep.Fuzzers = planner.Len()
	batches, err := planner.Plan()
	if err != nil {
		return rep, fmt.Errorf("session: %w", err)
	}
	rep.Batches = len(batches)
	log.Info("planned",
		zap.Int("fuzzers", rep.Fuzzers),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("batches", len(batches)))

	// Phase 2: realize
	st := &runState{rep: rep}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, b := range batches {
		g.Go(func() error {
			err := s.runBatch(gctx, log, b, results, st)
			var terr *toolchain.Error
			switch {
			case err == nil:
				s.metrics.Batches.WithLabelValues("ok").Inc()
			case errors.As(err, &terr) && gctx.Err() == nil:
				s.metrics.Batches.WithLabelValues("failed").Inc()
				log.Warn("batch failed", zap.Int("batch", b.ID), zap.Error(err))
				st.mu.Lock()
				rep.Failures = append(rep.Failures, Failure{Batch: b.ID, Features: features(b), Err: err})
				st.failed++
				st.mu.Unlock()
			default:
				return err
			}
			st.mu.Lock()
			st.done++
			p := Progress{Phase: "scanning", Batch: b.ID, Index: st.done, Total: len(batches), Failed: st.failed}
			st.mu.Unlock()
			if progress != nil {
				progress <- p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, fmt.Errorf("session: %w", err)
	}
	slices.SortFunc(rep.Failures, func(a, b Failure) int { return cmp.Compare(a.Batch, b.Batch) })

	// Phase 3: finalize
	if progress != nil {
		progress <- Progress{Phase: "finalizing", Batch: -1, Index: len(batches), Total: len(batches), Failed: len(rep.Failures)}
	}
	log.Info("session finished",
		zap.Int("runs", rep.Runs),
		zap.Int("cache_hits", rep.CacheHits),
		zap.Int("failed_batches", len(rep.Failures)))
	return rep, nil
}

// NewPlanner returns the planner a session with cfg uses. Equal seeds
// give equal plans.
func NewPlanner(cfg *Config) *trial.Planner {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	p := trial.NewPlanner(cfg.Device, rng)
	p.MaxFuzzersPerBatch = cfg.MaxFuzzersPerBatch
	return p
}

func features(b *trial.Batch) []trial.Feature {
	out := make([]trial.Feature, len(b.Fuzzers))
	for i, f := range b.Fuzzers {
		out[i] = f.Feature
	}
	return out
}

// runBatch realizes the baseline and every variant run of b, then records
// the attributed diffs.
func (s *Session) runBatch(ctx context.Context, log *zap.Logger, b *trial.Batch, results *trial.Results, st *runState) error {
	bits := make([]*bitdiff.Bitstream, b.Runs())
	for run := range bits {
		d, err := b.Design(s.cfg.Device, run)
		if err != nil {
			return err
		}
		bs, hit, err := s.realize(ctx, d)
		st.mu.Lock()
		st.rep.Runs++
		if hit {
			st.rep.CacheHits++
		}
		st.mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return toolchainError(err, b.ID, run, d)
		}
		bits[run] = bs
	}

	diffs, err := b.Attribute(bits[0], bits[1:])
	if err != nil {
		return err
	}
	for i, f := range b.Fuzzers {
		if err := results.Record(f, diffs[i]); err != nil {
			return err
		}
	}
	log.Debug("batch done",
		zap.Int("batch", b.ID),
		zap.Int("fuzzers", len(b.Fuzzers)),
		zap.Int("runs", b.Runs()))
	return nil
}

// toolchainError stamps the batch and run on a toolchain error. Errors that
// are not *toolchain.Error are wrapped in one.
func toolchainError(err error, batch, run int, d *design.Design) error {
	var terr *toolchain.Error
	if errors.As(err, &terr) {
		e := *terr
		e.Batch, e.Run = batch, run
		return &e
	}
	return &toolchain.Error{Batch: batch, Run: run, Design: d.HashString(), Err: err}
}

type realized struct {
	bits *bitdiff.Bitstream
	hit  bool
}

// realize returns the bitstream of d, from the cache when possible.
// Concurrent requests for the same design share one toolchain call.
// The returned bitstream may be shared and must not be modified.
func (s *Session) realize(ctx context.Context, d *design.Design) (*bitdiff.Bitstream, bool, error) {
	key := d.HashString()
	v, err, shared := s.flight.Do(key, func() (any, error) {
		if s.cache != nil {
			bs, ok, err := s.cache.Get(key)
			if err != nil {
				s.log.Warn("cache read failed", zap.String("design", key), zap.Error(err))
			} else if ok {
				s.metrics.CacheHits.Inc()
				return realized{bits: bs, hit: true}, nil
			}
		}

		start := time.Now()
		s.metrics.Runs.Inc()
		bs, err := s.tc.Realize(ctx, d)
		s.metrics.Duration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.Failures.Inc()
			return nil, err
		}

		if s.cache != nil {
			if err := s.cache.Put(key, bs); err != nil {
				s.log.Warn("cache write failed", zap.String("design", key), zap.Error(err))
			}
		}
		if s.cfg.KeepBitstreams != "" {
			path := filepath.Join(s.cfg.KeepBitstreams, key+".bits")
			if err := bitdiff.SaveBitsFile(path, bs); err != nil {
				s.log.Warn("keep bitstream failed", zap.String("path", path), zap.Error(err))
			}
		}
		return realized{bits: bs}, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		s.metrics.Shared.Inc()
	}
	r := v.(realized)
	return r.bits, r.hit, nil
}
