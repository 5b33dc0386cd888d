// Package interpreter applies one InstallOperation at a time against a
// partition's source, payload-data, and destination streams — the
// operation dispatch table described in spec.md §4.5, grounded on
// original_source/src/extract.rs's process_part.
package interpreter

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/otaimg/payload-extract/internal/applog"
	"github.com/otaimg/payload-extract/internal/bspatch"
	"github.com/otaimg/payload-extract/internal/extent"
	"github.com/otaimg/payload-extract/internal/manifest"
	"github.com/otaimg/payload-extract/internal/verify"
)

// ErrUnsupportedOperation is wrapped into the error returned for a
// recognized-but-unimplemented operation type (spec.md §4.5): Discard,
// Move, Bsdiff, Puffdiff, Zucchini, Lz4diffBsdiff, Lz4diffPuffdiff.
var ErrUnsupportedOperation = errors.New("unsupported operation type")

// ErrInvalidOperation is wrapped when an operation's numeric Type isn't one
// of the enum's known values at all.
var ErrInvalidOperation = errors.New("invalid operation type")

// ErrMissingStream is wrapped when an operation has no dst_extents, or needs
// a src or data stream that wasn't supplied: no src partition was opened, or
// the operation carries no src_extents/data_offset for the role it needs.
var ErrMissingStream = errors.New("missing required stream")

var errReadOnlyWrite = errors.New("interpreter: write attempted on a read-only stream")

// roInner adapts an io.ReadSeeker to extent.Inner for streams the
// interpreter only ever reads (src and the payload data blob): Write is
// never called on these in practice, but extent.Stream needs a single Inner
// type that satisfies Read, Write, and Seek regardless of which side of an
// operation it's playing.
type roInner struct {
	io.ReadSeeker
}

func (roInner) Write([]byte) (int, error) { return 0, errReadOnlyWrite }

// Streams bundles the three role streams ApplyOperation threads through an
// operation: Src is the prior version of the partition (nil if none was
// opened), Data is the payload's data blob, Dst is the partition file being
// written.
type Streams struct {
	Src  io.ReadSeeker
	Data io.ReadSeeker
	Dst  io.ReadWriteSeeker
}

// ApplyOperation executes a single InstallOperation, dispatching on its
// Type per the support table in spec.md §4.5. blockSize is the manifest's
// effective block size (BlockSizeOrDefault already applied by the caller).
func ApplyOperation(op manifest.InstallOperation, index int, blockSize uint32, streams Streams, skipHash bool) error {
	if !manifest.KnownOperationType(int32(op.Type)) {
		return fmt.Errorf("%w: %d for operation #%d", ErrInvalidOperation, op.Type, index)
	}
	applog.Logger.Printf("applying operation #%d: %s", index, op.Type)

	srcExtents, err := extent.ConvertExtents(op.SrcExtents, blockSize)
	if err != nil {
		return fmt.Errorf("operation #%d: src_extents: %w", index, err)
	}
	dstExtents, err := extent.ConvertExtents(op.DstExtents, blockSize)
	if err != nil {
		return fmt.Errorf("operation #%d: dst_extents: %w", index, err)
	}

	var src *extent.Stream
	if streams.Src != nil {
		src, err = extent.New(roInner{streams.Src}, srcExtents)
		if err != nil {
			return fmt.Errorf("operation #%d: building src stream: %w", index, err)
		}
	}

	dst, err := extent.New(streams.Dst, dstExtents)
	if err != nil {
		return fmt.Errorf("operation #%d: building dst stream: %w", index, err)
	}
	if dst == nil {
		return fmt.Errorf("operation #%d: %w: no dst extents", index, ErrMissingStream)
	}

	var data *extent.Stream
	if op.HasDataOffset && op.HasDataLength && streams.Data != nil {
		data, err = extent.NewRange(roInner{streams.Data}, int64(op.DataOffset), int64(op.DataLength))
		if err != nil {
			return fmt.Errorf("operation #%d: building data stream: %w", index, err)
		}
	}

	if !skipHash {
		if src != nil && len(op.SrcSha256Hash) > 0 {
			if err := verify.CheckHash(src, op.SrcSha256Hash); err != nil {
				return fmt.Errorf("operation #%d: src hash: %w", index, err)
			}
		}
		if data != nil && len(op.DataSha256Hash) > 0 {
			if err := verify.CheckHash(data, op.DataSha256Hash); err != nil {
				return fmt.Errorf("operation #%d: data hash: %w", index, err)
			}
		}
	}

	dstLen := dst.Len()

	switch op.Type {
	case manifest.OpReplace, manifest.OpReplaceBz, manifest.OpReplaceXz:
		if data == nil {
			return fmt.Errorf("operation #%d: %w: no data for replace operation", index, ErrMissingStream)
		}
		var r io.Reader = data
		switch op.Type {
		case manifest.OpReplaceBz:
			r = bzip2.NewReader(data)
		case manifest.OpReplaceXz:
			xr, err := xz.NewReader(data)
			if err != nil {
				return fmt.Errorf("operation #%d: opening xz stream: %w", index, err)
			}
			r = xr
		}
		if err := copyPadded(r, dst, dstLen); err != nil {
			return fmt.Errorf("operation #%d: writing output: %w", index, err)
		}

	case manifest.OpZero:
		if err := copyPadded(nil, dst, dstLen); err != nil {
			return fmt.Errorf("operation #%d: writing output: %w", index, err)
		}

	case manifest.OpSourceCopy:
		if src == nil {
			return fmt.Errorf("operation #%d: %w: no src for copy operation", index, ErrMissingStream)
		}
		if err := copyPadded(src, dst, dstLen); err != nil {
			return fmt.Errorf("operation #%d: writing output: %w", index, err)
		}

	// BrotliBsdiff's patch data is brotli-wrapped in the on-device applier;
	// the reference extractor never unwraps that layer before calling
	// bspatch, and this port matches it rather than inventing support the
	// original doesn't have.
	case manifest.OpSourceBsdiff, manifest.OpBrotliBsdiff:
		if src == nil {
			return fmt.Errorf("operation #%d: %w: no src for bsdiff operation", index, ErrMissingStream)
		}
		if data == nil {
			return fmt.Errorf("operation #%d: %w: no data for bsdiff operation", index, ErrMissingStream)
		}
		patch, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("operation #%d: reading patch data: %w", index, err)
		}
		if err := bspatch.Apply(src, dst, patch); err != nil {
			return fmt.Errorf("operation #%d: applying patch: %w", index, err)
		}

	default:
		return fmt.Errorf("%w: %s for operation #%d", ErrUnsupportedOperation, op.Type, index)
	}

	return nil
}

// copyPadded copies all of src (nil means zero input bytes) to dst, then
// pads dst with zeros up to length — saturating if src already supplied
// length bytes or more (spec.md §4.3's zero-padding policy).
func copyPadded(src io.Reader, dst io.Writer, length int64) error {
	var written int64
	if src != nil {
		var err error
		written, err = io.Copy(dst, src)
		if err != nil {
			return err
		}
	}
	remaining := length - written
	if remaining <= 0 {
		return nil
	}
	_, err := io.CopyN(dst, zeroReader{}, remaining)
	return err
}

// zeroReader is an infinite source of zero bytes, used to pad short replace
// payloads out to their destination extent's declared length.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
