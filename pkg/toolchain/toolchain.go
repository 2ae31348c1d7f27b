// Package toolchain realizes designs as bitstreams. The vendor tool is a
// black box: CommandToolchain runs it as an external process, and
// SimToolchain stands in for it in tests with a synthetic device model.
package toolchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

// ErrToolchain marks a failed realization: a crash, a license problem, or
// a design the tool rejected. It aborts only the affected batch.
var ErrToolchain = errors.New("toolchain failure")

// Toolchain turns a design into a bitstream. Implementations must be safe
// for concurrent use.
type Toolchain interface {
	Realize(ctx context.Context, d *design.Design) (*bitdiff.Bitstream, error)
}

// Error describes one failed realization.
type Error struct {
	Batch  int
	Run    int
	Design string // design hash
	Output string // captured tool output, possibly truncated
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: batch %d run %d (design %s): %v", ErrToolchain, e.Batch, e.Run, e.Design, e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

// Unwrap exposes both ErrToolchain and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrToolchain, e.Err}
}
