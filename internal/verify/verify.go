// Package verify checks operation payloads against the SHA-256 hashes the
// manifest carries for them (spec.md §4.3), grounded on
// original_source/src/extract.rs's check_hash.
package verify

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/otaimg/payload-extract/internal/applog"
)

// ErrHashMismatch is the sentinel wrapped into CheckHash's error when the
// computed digest doesn't match the expected one.
var ErrHashMismatch = errors.New("hash mismatch")

// CheckHash hashes all remaining bytes of stream and compares the digest
// against want. On return — success or failure — stream's position is
// restored to where it was on entry, so later reads of the same stream (the
// interpreter reads src/data streams again immediately after verifying
// them) start from the same place.
func CheckHash(stream io.ReadSeeker, want []byte) error {
	pos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("verify: saving position: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, stream); err != nil {
		return fmt.Errorf("verify: reading stream: %w", err)
	}

	if _, err := stream.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("verify: restoring position: %w", err)
	}

	got := h.Sum(nil)
	if !hashesEqual(got, want) {
		gotB64, wantB64 := base64.StdEncoding.EncodeToString(got), base64.StdEncoding.EncodeToString(want)
		applog.Logger.Printf("hash mismatch: got %s, want %s", gotB64, wantB64)
		return fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, gotB64, wantB64)
	}
	return nil
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
