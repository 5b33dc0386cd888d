package bspatch

import (
	"bytes"
	"errors"
	"io"
	"testing"

	gobsdiff "github.com/gabstv/go-bsdiff/pkg/bsdiff"
)

func buildPatch(t *testing.T, oldData, newData []byte) []byte {
	t.Helper()
	patch, err := gobsdiff.Bytes(oldData, newData)
	if err != nil {
		t.Fatalf("building fixture patch: %v", err)
	}
	return patch
}

func TestApply(t *testing.T) {
	oldData := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 64)
	newData := append(append([]byte{}, oldData[:100]...), bytes.Repeat([]byte("zzz"), 50)...)
	newData = append(newData, oldData[100:]...)

	patch := buildPatch(t, oldData, newData)

	var got bytes.Buffer
	if err := Apply(bytes.NewReader(oldData), &got, patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(got.Bytes(), newData) {
		t.Fatalf("Apply produced %d bytes, want %d matching newData", got.Len(), len(newData))
	}
}

type badWriter struct {
	inner io.Writer
	limit int
	count int
}

func (b *badWriter) Write(p []byte) (int, error) {
	if b.count+len(p) > b.limit {
		n, _ := b.inner.Write(p[:b.limit-b.count])
		b.count += n
		return n, errors.New("oh no")
	}
	n, err := b.inner.Write(p)
	b.count += n
	return n, err
}

func TestApplyWriteFailurePropagates(t *testing.T) {
	oldData := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 64)
	newData := append(append([]byte{}, oldData[:100]...), bytes.Repeat([]byte("zzz"), 50)...)
	newData = append(newData, oldData[100:]...)

	patch := buildPatch(t, oldData, newData)

	var buf bytes.Buffer
	bw := &badWriter{inner: &buf, limit: len(newData) / 2}
	if err := Apply(bytes.NewReader(oldData), bw, patch); err == nil {
		t.Fatal("Apply: expected error from failing writer, got nil")
	}
}
