package verify

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"testing"
)

func TestCheckHashSuccessRestoresPosition(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	sum := sha256.Sum256(data[5:])

	r := bytes.NewReader(data)
	if _, err := r.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("seeking: %v", err)
	}

	if err := CheckHash(r, sum[:]); err != nil {
		t.Fatalf("CheckHash: %v", err)
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("checking restored position: %v", err)
	}
	if pos != 5 {
		t.Fatalf("position after CheckHash = %d, want 5 (restored)", pos)
	}
}

func TestCheckHashMismatch(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	wrong := sha256.Sum256([]byte("not the same data"))

	r := bytes.NewReader(data)
	err := CheckHash(r, wrong[:])
	if err == nil {
		t.Fatal("CheckHash: expected mismatch error, got nil")
	}
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("CheckHash error = %v, want wrapping ErrHashMismatch", err)
	}

	pos, posErr := r.Seek(0, io.SeekCurrent)
	if posErr != nil {
		t.Fatalf("checking restored position: %v", posErr)
	}
	if pos != 0 {
		t.Fatalf("position after mismatched CheckHash = %d, want 0 (restored)", pos)
	}
}
