// Package ziplayer exposes the payload.bin entry of an OTA zip as a
// seekable, randomly-addressable stream, without inflating the whole
// archive up front. Grounded on the teacher's reader.go (ZipFileSeekReader)
// and zippayloadreader.go (ZipPayloadReader): both took the same approach
// (locate the "payload.bin"-suffixed entry, fast-path Store-method zips via
// the outer ReaderAt, fall back to a single reusable inflate stream for
// Deflate-method zips, reopening only when a caller seeks backward past the
// current stream position) — this is that approach adapted to the
// Extraction Config's CachingReader (io.ReaderAt, what payload.Extract
// needs for concurrent partition access) and SequentialReader
// (io.ReadSeeker, forward-only over the inflate stream) roles.
package ziplayer

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DataDog/zstd"

	"github.com/otaimg/payload-extract/internal/applog"
)

// zstdMethod is the zip compression method ID some OTA-building tools use
// for zstd-compressed entries. The archive/zip package only registers
// Store and Deflate by default; everything else needs RegisterDecompressor.
const zstdMethod = 93

func init() {
	zip.RegisterDecompressor(zstdMethod, func(r io.Reader) io.ReadCloser {
		return zstd.NewReader(r)
	})
}

// ErrPayloadNotFound is returned when no entry in the zip ends in
// "payload.bin".
var ErrPayloadNotFound = errors.New("ziplayer: payload.bin not found in zip archive")

func findPayloadEntry(zr *zip.Reader) (*zip.File, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "payload.bin") {
			return f, nil
		}
	}
	return nil, ErrPayloadNotFound
}

// CachingReader presents the zip's payload.bin entry as an io.ReaderAt.
// Store-method entries are served directly off the outer archive's
// ReaderAt with no decompression at all; every other method keeps one
// inflate stream open and advances it, reopening (and re-skipping to the
// target offset) only when a caller asks for data behind where the stream
// currently sits. This makes sequential and mildly-out-of-order access
// (exactly what concurrent partition extraction produces) cheap, at the
// cost of a reopen on genuine backward seeks.
type CachingReader struct {
	file *zip.File
	raw  io.ReaderAt // the outer zip file itself, used only for Store-method entries
	size int64

	rawDataOffset int64 // Store-method only: byte offset of payload.bin's raw bytes in raw

	mu           sync.Mutex
	stream       io.ReadCloser
	streamOffset int64 // uncompressed-stream position streamOffset maps to next Read
}

// NewCachingReader locates payload.bin inside the zip archive read through
// ra (size bytes long) and returns a CachingReader over it.
func NewCachingReader(ra io.ReaderAt, size int64) (*CachingReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("ziplayer: opening zip: %w", err)
	}
	f, err := findPayloadEntry(zr)
	if err != nil {
		return nil, err
	}

	r := &CachingReader{file: f, raw: ra, size: int64(f.UncompressedSize64)}
	if f.Method == zip.Store {
		off, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("ziplayer: locating payload.bin data offset: %w", err)
		}
		r.rawDataOffset = off
	}

	applog.Logger.Printf("ziplayer: payload.bin compression method %d, %d bytes uncompressed", f.Method, r.size)
	return r, nil
}

// Size reports payload.bin's uncompressed size.
func (r *CachingReader) Size() int64 { return r.size }

// ReadAt implements io.ReaderAt.
func (r *CachingReader) ReadAt(p []byte, off int64) (int, error) {
	if r.file.Method == zip.Store {
		return r.raw.ReadAt(p, r.rawDataOffset+off)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil || r.streamOffset > off {
		if r.stream != nil {
			r.stream.Close()
		}
		stream, err := r.file.Open()
		if err != nil {
			return 0, fmt.Errorf("ziplayer: opening inflate stream: %w", err)
		}
		r.stream = stream
		r.streamOffset = 0
	}

	if skip := off - r.streamOffset; skip > 0 {
		n, err := io.CopyN(io.Discard, r.stream, skip)
		r.streamOffset += n
		if err != nil {
			return 0, fmt.Errorf("ziplayer: skipping to offset %d: %w", off, err)
		}
	}

	n, err := io.ReadFull(r.stream, p)
	r.streamOffset += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// Close releases any open inflate stream.
func (r *CachingReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		err := r.stream.Close()
		r.stream = nil
		return err
	}
	return nil
}

// SequentialReader presents payload.bin as an io.ReadSeekCloser backed by a
// single forward-only inflate stream, reopened from the start on any
// backward seek. Like CachingReader it locates the entry through an
// io.ReaderAt over the outer archive, but it has no Store-method fast path.
// The CLI's input resolution uses CachingReader, not SequentialReader.
type SequentialReader struct {
	file   *zip.File
	stream io.ReadCloser
	pos    int64
	size   int64
}

// NewSequentialReader locates payload.bin inside the zip archive read
// through ra (size bytes long) and returns a SequentialReader over it.
func NewSequentialReader(ra io.ReaderAt, size int64) (*SequentialReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("ziplayer: opening zip: %w", err)
	}
	f, err := findPayloadEntry(zr)
	if err != nil {
		return nil, err
	}
	return &SequentialReader{file: f, size: int64(f.UncompressedSize64)}, nil
}

func (r *SequentialReader) ensureStream() error {
	if r.stream != nil {
		return nil
	}
	stream, err := r.file.Open()
	if err != nil {
		return fmt.Errorf("ziplayer: opening inflate stream: %w", err)
	}
	r.stream = stream
	return nil
}

func (r *SequentialReader) Read(p []byte) (int, error) {
	if err := r.ensureStream(); err != nil {
		return 0, err
	}
	n, err := r.stream.Read(p)
	r.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker. Forward seeks skip ahead on the current
// stream; any backward seek reopens payload.bin from the start, since
// zip's inflate streams can't rewind.
func (r *SequentialReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("ziplayer: unsupported whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("ziplayer: seek before start of stream (pos=%d)", target)
	}

	if target < r.pos {
		applog.Logger.Println("ziplayer: seeking backward, reopening payload.bin stream")
		if r.stream != nil {
			r.stream.Close()
			r.stream = nil
		}
		r.pos = 0
	}
	if err := r.ensureStream(); err != nil {
		return 0, err
	}
	if skip := target - r.pos; skip > 0 {
		n, err := io.CopyN(io.Discard, r.stream, skip)
		r.pos += n
		if err != nil {
			return r.pos, fmt.Errorf("ziplayer: seeking to offset %d: %w", target, err)
		}
	}
	return r.pos, nil
}

func (r *SequentialReader) Close() error {
	if r.stream != nil {
		return r.stream.Close()
	}
	return nil
}
