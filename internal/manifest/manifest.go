// Package manifest decodes the handful of chromeos_update_engine.DeltaArchiveManifest
// fields the install-operation interpreter actually consumes.
//
// A full protoc-gen-go rendering of update_metadata.proto would need the
// message descriptor bytes that only protoc itself emits; instead this
// package walks the wire format directly with protowire and keeps only the
// fields named in spec.md §6. Everything else is skipped via
// protowire.ConsumeFieldValue, which is exactly what protobuf's own
// forward-compatibility rules call for.
package manifest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultBlockSize is the manifest's block_size default when the field is absent.
const DefaultBlockSize uint32 = 4096

// OperationType enumerates InstallOperation.Type. Numeric values match the
// upstream chromeos_update_engine proto, per spec.md §6.
type OperationType int32

const (
	OpReplace         OperationType = 0
	OpReplaceBz       OperationType = 1
	OpMove            OperationType = 2
	OpBsdiff          OperationType = 3
	OpSourceCopy      OperationType = 4
	OpSourceBsdiff    OperationType = 5
	OpZero            OperationType = 6
	OpDiscard         OperationType = 7
	OpReplaceXz       OperationType = 8
	OpPuffdiff        OperationType = 9
	OpBrotliBsdiff    OperationType = 10
	OpZucchini        OperationType = 11
	OpLz4diffBsdiff   OperationType = 12
	OpLz4diffPuffdiff OperationType = 13
)

func (t OperationType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBz:
		return "REPLACE_BZ"
	case OpMove:
		return "MOVE"
	case OpBsdiff:
		return "BSDIFF"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpDiscard:
		return "DISCARD"
	case OpReplaceXz:
		return "REPLACE_XZ"
	case OpPuffdiff:
		return "PUFFDIFF"
	case OpBrotliBsdiff:
		return "BROTLI_BSDIFF"
	case OpZucchini:
		return "ZUCCHINI"
	case OpLz4diffBsdiff:
		return "LZ4DIFF_BSDIFF"
	case OpLz4diffPuffdiff:
		return "LZ4DIFF_PUFFDIFF"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// KnownOperationType reports whether t is one of the enum's recognized
// values, supported or not. Decode keeps any numeric code as-is;
// interpreter.ApplyOperation rejects codes outside this set with its
// ErrInvalidOperation.
func KnownOperationType(t int32) bool {
	switch OperationType(t) {
	case OpReplace, OpReplaceBz, OpMove, OpBsdiff, OpSourceCopy, OpSourceBsdiff,
		OpZero, OpDiscard, OpReplaceXz, OpPuffdiff, OpBrotliBsdiff, OpZucchini,
		OpLz4diffBsdiff, OpLz4diffPuffdiff:
		return true
	default:
		return false
	}
}

// Extent is a raw, block-indexed manifest extent (spec.md §3).
type Extent struct {
	StartBlock    uint64
	HasStartBlock bool
	NumBlocks     uint64
	HasNumBlocks  bool
}

// SparseHole is the sentinel start_block marking an unsupported sparse hole.
const SparseHole = ^uint64(0)

// InstallOperation is one typed unit of work within a PartitionUpdate.
type InstallOperation struct {
	Type OperationType

	DataOffset    uint64
	HasDataOffset bool
	DataLength    uint64
	HasDataLength bool

	SrcSha256Hash  []byte
	DataSha256Hash []byte

	SrcExtents []Extent
	DstExtents []Extent
}

// PartitionUpdate is one partition's name and ordered operation list.
type PartitionUpdate struct {
	PartitionName string

	RunPostinstall    bool
	HasRunPostinstall bool
	PostinstallPath   string

	Operations []InstallOperation
}

// DeltaArchiveManifest is the decoded manifest fields the interpreter core needs.
type DeltaArchiveManifest struct {
	BlockSize    uint32
	MinorVersion uint32

	SecurityPatchLevel string
	HasSecurityPatch   bool

	Partitions []PartitionUpdate
}

// BlockSizeOrDefault returns BlockSize, substituting DefaultBlockSize when the
// manifest didn't carry one (protobuf optional-with-default semantics).
func (m *DeltaArchiveManifest) BlockSizeOrDefault() uint32 {
	if m.BlockSize == 0 {
		return DefaultBlockSize
	}
	return m.BlockSize
}

// field carries one decoded field's value, already reduced to the two shapes
// this schema ever needs: a scalar varint or a length-delimited byte slice
// (string, bytes, or embedded message).
type field struct {
	varint uint64
	bytes  []byte
}

// consumeMessage walks a message's wire-format bytes, calling handle for
// every varint or length-delimited field and skipping everything else
// (fixed32/64, groups, and any field number handle doesn't recognize).
func consumeMessage(b []byte, handle func(num protowire.Number, f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := handle(num, field{varint: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := handle(num, field{bytes: v}); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Manifest field numbers consumed from chromeos_update_engine.DeltaArchiveManifest.
const (
	fieldManifestBlockSize     = 3
	fieldManifestMinorVersion  = 12
	fieldManifestPartitions    = 13
	fieldManifestSecurityPatch = 18
)

// PartitionUpdate field numbers.
const (
	fieldPartName           = 1
	fieldPartRunPostinstall = 2
	fieldPartPostinstallPath = 3
	fieldPartOperations     = 8
)

// InstallOperation field numbers.
const (
	fieldOpType           = 1
	fieldOpDataOffset     = 2
	fieldOpDataLength     = 3
	fieldOpSrcExtents     = 4
	fieldOpDstExtents     = 6
	fieldOpDataSha256Hash = 8
	fieldOpSrcSha256Hash  = 9
)

// Extent field numbers.
const (
	fieldExtentStartBlock = 1
	fieldExtentNumBlocks  = 2
)

func decodeExtent(b []byte) (Extent, error) {
	var e Extent
	err := consumeMessage(b, func(num protowire.Number, f field) error {
		switch num {
		case fieldExtentStartBlock:
			e.StartBlock = f.varint
			e.HasStartBlock = true
		case fieldExtentNumBlocks:
			e.NumBlocks = f.varint
			e.HasNumBlocks = true
		}
		return nil
	})
	return e, err
}

func decodeOperation(b []byte) (InstallOperation, error) {
	op := InstallOperation{Type: OpReplace}
	err := consumeMessage(b, func(num protowire.Number, f field) error {
		switch num {
		case fieldOpType:
			op.Type = OperationType(f.varint)
		case fieldOpDataOffset:
			op.DataOffset = f.varint
			op.HasDataOffset = true
		case fieldOpDataLength:
			op.DataLength = f.varint
			op.HasDataLength = true
		case fieldOpSrcExtents:
			e, err := decodeExtent(f.bytes)
			if err != nil {
				return fmt.Errorf("src_extents: %w", err)
			}
			op.SrcExtents = append(op.SrcExtents, e)
		case fieldOpDstExtents:
			e, err := decodeExtent(f.bytes)
			if err != nil {
				return fmt.Errorf("dst_extents: %w", err)
			}
			op.DstExtents = append(op.DstExtents, e)
		case fieldOpDataSha256Hash:
			op.DataSha256Hash = append([]byte(nil), f.bytes...)
		case fieldOpSrcSha256Hash:
			op.SrcSha256Hash = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	return op, err
}

func decodePartition(b []byte) (PartitionUpdate, error) {
	var part PartitionUpdate
	err := consumeMessage(b, func(num protowire.Number, f field) error {
		switch num {
		case fieldPartName:
			part.PartitionName = string(f.bytes)
		case fieldPartRunPostinstall:
			part.RunPostinstall = f.varint != 0
			part.HasRunPostinstall = true
		case fieldPartPostinstallPath:
			part.PostinstallPath = string(f.bytes)
		case fieldPartOperations:
			op, err := decodeOperation(f.bytes)
			if err != nil {
				return fmt.Errorf("operations[%d]: %w", len(part.Operations), err)
			}
			part.Operations = append(part.Operations, op)
		}
		return nil
	})
	return part, err
}

// Decode parses the DeltaArchiveManifest fields consumed by the interpreter
// out of raw protobuf wire bytes.
func Decode(data []byte) (*DeltaArchiveManifest, error) {
	m := &DeltaArchiveManifest{}

	err := consumeMessage(data, func(num protowire.Number, f field) error {
		switch num {
		case fieldManifestBlockSize:
			m.BlockSize = uint32(f.varint)
		case fieldManifestMinorVersion:
			m.MinorVersion = uint32(f.varint)
		case fieldManifestSecurityPatch:
			m.SecurityPatchLevel = string(f.bytes)
			m.HasSecurityPatch = true
		case fieldManifestPartitions:
			part, err := decodePartition(f.bytes)
			if err != nil {
				return fmt.Errorf("partitions[%d]: %w", len(m.Partitions), err)
			}
			m.Partitions = append(m.Partitions, part)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	return m, nil
}
