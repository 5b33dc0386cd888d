// Package bspatch applies bsdiff-family binary patches (spec.md §4.4).
//
// The interpreter treats patch application as a black box: hand over a
// source stream, a destination stream, and a patch blob, get back either
// success or a failure. The reference implementation FFI's into the C++
// bsdiff library and has to thread errors back across that boundary through
// an out-of-band slot, since the C ABI it binds to can only return a status
// code. github.com/gabstv/go-bsdiff is pure Go and already reports failures
// as ordinary errors, so none of that plumbing is needed here — this
// package is a thin, idiomatic wrapper, not a port of the FFI shim.
package bspatch

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Apply reads src fully, applies patch against it, and writes the result to
// dst — the src+data -> dst shape of the SourceBsdiff and BrotliBsdiff
// operations (spec.md §4.3, §6).
//
// gabstv/go-bsdiff doesn't distinguish "src/dst I/O failed" from "patch data
// is malformed" in its returned errors the way the C++ library's status
// codes do; callers that need that distinction should inspect the
// underlying stream errors directly rather than this function's return
// value.
func Apply(src io.Reader, dst io.Writer, patch []byte) error {
	if err := bspatch.Reader(src, dst, bytes.NewReader(patch)); err != nil {
		return fmt.Errorf("bspatch: %w", err)
	}
	return nil
}
