// Package bitdiff implements the sparse bit-difference algebra used to
// infer configuration bit semantics from pairs of bitstreams.
//
// # Overview
//
// A Bitstream is the set of configuration bits that are set in one realized
// design. Subtracting two bitstreams yields a Diff: the positions whose value
// changed, mapped to their new value. Everything the collector learns is
// derived from Diffs by the operations in this package:
//
//   - Combine overlays two diffs; opposite values on the same position cancel.
//   - Invert negates every stored value.
//   - Split factors the common part out of two diffs sharing a cause.
//   - ExtractCommon removes the part shared by N diffs from each of them.
//   - ApplyBitDiff and friends peel away the contribution of an already
//     known item so the remainder can be interpreted.
//   - AssertEmpty is the final gate: once every known contribution has been
//     subtracted, nothing may remain.
//
// # Errors
//
// Operations that find bits which do not fit the expected shape return an
// error wrapping ErrInconsistent. Callers are expected to stop the
// database build on such errors rather than guess an encoding.
//
// # Bits files
//
// ReadBits and WriteBits handle a plain text form of a Bitstream, one
// "tile frame bit" triple per line, with '#' comments. It is the exchange
// format with the external toolchain wrapper.
package bitdiff
