package toolchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

// RealizeHook lets tests replace the model's answer for one design.
type RealizeHook func(ctx context.Context, d *design.Design) (*bitdiff.Bitstream, error)

// SimToolchain realizes designs through a Model. It records every design
// it saw, in call order.
type SimToolchain struct {
	Model *Model

	// OnRealize, when set, is called instead of the model.
	OnRealize RealizeHook

	mu  sync.Mutex
	log []string
}

// NewSimToolchain returns a simulator backed by m.
func NewSimToolchain(m *Model) *SimToolchain {
	return &SimToolchain{Model: m}
}

func (s *SimToolchain) Realize(ctx context.Context, d *design.Design) (*bitdiff.Bitstream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.log = append(s.log, d.HashString())
	s.mu.Unlock()

	if s.OnRealize != nil {
		return s.OnRealize(ctx, d)
	}
	if s.Model == nil {
		return nil, &Error{Batch: -1, Run: -1, Design: d.HashString(), Err: fmt.Errorf("no device model")}
	}
	return s.Model.Realize(d)
}

// Calls returns how many designs were realized.
func (s *SimToolchain) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// Log returns the hashes of realized designs in call order.
func (s *SimToolchain) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}
