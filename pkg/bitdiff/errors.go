package bitdiff

import (
	"errors"
	"fmt"
)

// ErrInconsistent marks bits or connections that do not fit the expected
// model of an attribute. It is fatal to a database build.
var ErrInconsistent = errors.New("inconsistent model")

// InconsistentError carries the operation that failed and the offending
// residue, if any.
type InconsistentError struct {
	Op     string
	Detail string
	Diff   Diff
}

func (e *InconsistentError) Error() string {
	if e.Diff.Len() == 0 {
		return fmt.Sprintf("%s: %s: %s", ErrInconsistent, e.Op, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s %s", ErrInconsistent, e.Op, e.Detail, e.Diff)
}

func (e *InconsistentError) Unwrap() error {
	return ErrInconsistent
}

// Inconsistent builds an *InconsistentError. d may be the zero Diff.
func Inconsistent(op string, d Diff, format string, args ...any) error {
	return &InconsistentError{
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
		Diff:   d.Clone(),
	}
}
