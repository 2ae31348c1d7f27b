package trial

import (
	"errors"
	"fmt"
)

// ErrConflict marks two requirements that cannot hold in one trial.
var ErrConflict = errors.New("specification conflict")

// ErrMissing is returned when a feature has no recorded diffs.
var ErrMissing = errors.New("feature not measured")

// ConflictError describes a SpecificationConflict.
type ConflictError struct {
	Feature   Feature
	Key       Key
	Existing  Value
	Requested Value
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s: %s requires %s, already %s",
		ErrConflict, e.Feature, e.Key, e.Requested, e.Existing)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
