// Package payload drives a full extraction: parse the payload.bin header,
// decode its manifest, then run the Operation Interpreter across every
// selected partition, fanning partitions out across a worker pool.
// Grounded on the teacher's payload.go (header struct, magic/version
// checks) generalized from its single REPLACE/ZERO/REPLACE_BZ/REPLACE_XZ
// full-update loop to the complete manifest-driven dispatch described in
// spec.md §4.6, and on original_source/src/extract.rs's extract/extract_part.
package payload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/schollz/progressbar/v3"

	"github.com/otaimg/payload-extract/internal/applog"
	"github.com/otaimg/payload-extract/internal/interpreter"
	"github.com/otaimg/payload-extract/internal/manifest"
)

// Magic is the fixed 4-byte signature every payload.bin starts with.
const Magic = "CrAU"

// SupportedVersion is the only payload.bin major version this interpreter
// understands (spec.md §2).
const SupportedVersion = 2

// headerSize is the fixed, on-disk size of Header: 4 (magic) + 8 (version)
// + 8 (manifest_size) + 4 (metadata_signature_size) bytes, big-endian.
const headerSize = 24

// blobMaxLen bounds the per-partition data-blob SectionReader. The data
// blob's true length isn't tracked in the header, so this stands in for
// "to EOF" the way extent.Stream's own suffixLen does for new_suffix.
const blobMaxLen = math.MaxInt64 / 2

var (
	// ErrBadPayload wraps any structural problem with the payload.bin framing
	// itself: bad magic, a manifest that won't decode, a truncated header.
	ErrBadPayload = errors.New("invalid payload")
	// ErrUnsupportedVersion wraps a payload whose major version isn't 2.
	ErrUnsupportedVersion = errors.New("unsupported payload version")
)

// Header is payload.bin's fixed-size leading header (spec.md §2).
type Header struct {
	Magic          [4]byte
	Version        uint64
	ManifestLen    uint64
	ManifestSigLen uint32
}

func readHeader(src io.ReaderAt) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := src.ReadAt(buf, 0); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %v", ErrBadPayload, err)
	}

	var hdr Header
	if err := binary.Read(bytes.NewReader(buf), binary.BigEndian, &hdr); err != nil {
		return Header{}, fmt.Errorf("%w: parsing header: %v", ErrBadPayload, err)
	}
	if !bytes.Equal(hdr.Magic[:], []byte(Magic)) {
		return Header{}, fmt.Errorf("%w: bad magic", ErrBadPayload)
	}
	if hdr.Version != SupportedVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.ManifestLen == 0 {
		return Header{}, fmt.Errorf("%w: manifest length is zero", ErrBadPayload)
	}
	if hdr.ManifestSigLen == 0 {
		return Header{}, fmt.Errorf("%w: manifest signature length is zero", ErrBadPayload)
	}
	return hdr, nil
}

// Config is the Extraction Config (spec.md §3): the knobs governing one
// extraction run.
type Config struct {
	// SrcDir holds prior-version partition images for SourceCopy/SourceBsdiff
	// operations. Empty means no source partitions are available.
	SrcDir string
	// DstDir is where extracted partition images are written.
	DstDir string
	// Partitions restricts extraction to these partition names. Empty means
	// every partition in the manifest.
	Partitions []string
	// Workers bounds how many partitions are processed concurrently. Values
	// less than 1 are treated as 1.
	Workers int
	// SkipHash disables src/data hash verification.
	SkipHash bool
	// Progress enables a partition-level progress bar on stderr.
	Progress bool
}

func (c Config) wants(name string) bool {
	if len(c.Partitions) == 0 {
		return true
	}
	for _, p := range c.Partitions {
		if p == name {
			return true
		}
	}
	return false
}

// ReadManifest parses a payload.bin-shaped byte range from src far enough to
// hand back its decoded manifest and the data blob's start offset, without
// running any operations. Used by the inspect reporter, which only needs the
// metadata Extract would otherwise walk on its way to extracting.
func ReadManifest(src io.ReaderAt) (*manifest.DeltaArchiveManifest, uint64, error) {
	hdr, err := readHeader(src)
	if err != nil {
		return nil, 0, err
	}

	manifestBytes := make([]byte, hdr.ManifestLen)
	if _, err := src.ReadAt(manifestBytes, headerSize); err != nil {
		return nil, 0, fmt.Errorf("%w: reading manifest: %v", ErrBadPayload, err)
	}

	man, err := manifest.Decode(manifestBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decoding manifest: %v", ErrBadPayload, err)
	}

	dataBlobStart := uint64(headerSize) + hdr.ManifestLen + uint64(hdr.ManifestSigLen)
	return man, dataBlobStart, nil
}

// Extract reads a payload.bin-shaped byte range from src — header, manifest,
// manifest signature, then the operation data blob — and writes every
// partition cfg selects into cfg.DstDir. src must address payload.bin
// starting at offset 0, whether that's a plain file, a zip-embedded entry,
// or an HTTP range-addressed resource (internal/ziplayer, internal/netreader).
func Extract(src io.ReaderAt, cfg Config) error {
	hdr, err := readHeader(src)
	if err != nil {
		return err
	}

	manifestBytes := make([]byte, hdr.ManifestLen)
	if _, err := src.ReadAt(manifestBytes, headerSize); err != nil {
		return fmt.Errorf("%w: reading manifest: %v", ErrBadPayload, err)
	}

	man, err := manifest.Decode(manifestBytes)
	if err != nil {
		return fmt.Errorf("%w: decoding manifest: %v", ErrBadPayload, err)
	}

	if err := os.MkdirAll(cfg.DstDir, 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	dataBlobStart := int64(headerSize) + int64(hdr.ManifestLen) + int64(hdr.ManifestSigLen)
	return run(src, dataBlobStart, man, cfg)
}

func run(src io.ReaderAt, dataBlobStart int64, man *manifest.DeltaArchiveManifest, cfg Config) error {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	selected := make([]manifest.PartitionUpdate, 0, len(man.Partitions))
	for _, part := range man.Partitions {
		if cfg.wants(part.PartitionName) {
			selected = append(selected, part)
		}
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.Default(int64(len(selected)), "extracting partitions")
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("payload: creating worker pool: %w", err)
	}
	defer pool.Release()

	blockSize := man.BlockSizeOrDefault()

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	record := func(err error) {
		once.Do(func() { firstErr = err })
	}

	for _, part := range selected {
		part := part
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if bar != nil {
				_ = bar.Add(1)
			}
			if err := extractPartition(src, dataBlobStart, blockSize, part, cfg); err != nil {
				record(fmt.Errorf("partition %s: %w", part.PartitionName, err))
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			record(fmt.Errorf("partition %s: submitting to worker pool: %w", part.PartitionName, err))
		}
	}
	wg.Wait()

	return firstErr
}

func extractPartition(src io.ReaderAt, dataBlobStart int64, blockSize uint32, part manifest.PartitionUpdate, cfg Config) error {
	applog.Logger.Printf("processing partition: %s", part.PartitionName)

	var srcFile *os.File
	if cfg.SrcDir != "" {
		f, err := os.Open(filepath.Join(cfg.SrcDir, part.PartitionName+".img"))
		if err != nil {
			return fmt.Errorf("opening src image: %w", err)
		}
		defer f.Close()
		srcFile = f
	}

	dst, err := os.Create(filepath.Join(cfg.DstDir, part.PartitionName+".img"))
	if err != nil {
		return fmt.Errorf("creating dst image: %w", err)
	}
	defer dst.Close()

	// One shared, 0-based stream over the whole data blob per partition,
	// mirroring original_source/src/extract.rs's extract()/process_part()
	// split: ApplyOperation re-windows this to each operation's own
	// data_offset/data_length via extent.NewRange, so this must not be
	// pre-windowed here too.
	data := io.NewSectionReader(src, dataBlobStart, blobMaxLen)

	for i, op := range part.Operations {
		var opData io.ReadSeeker
		if op.HasDataOffset && op.HasDataLength {
			opData = data
		}

		var srcStream io.ReadSeeker
		if srcFile != nil {
			srcStream = srcFile
		}

		if err := interpreter.ApplyOperation(op, i, blockSize, interpreter.Streams{
			Src:  srcStream,
			Data: opData,
			Dst:  dst,
		}, cfg.SkipHash); err != nil {
			return err
		}
	}
	return nil
}
