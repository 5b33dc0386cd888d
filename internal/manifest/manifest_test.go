package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func buildExtent(startBlock, numBlocks uint64) []byte {
	var b []byte
	b = appendVarintField(b, fieldExtentStartBlock, startBlock)
	b = appendVarintField(b, fieldExtentNumBlocks, numBlocks)
	return b
}

func buildOperation(opType int32, dataOffset, dataLength uint64, srcHash, dataHash []byte, src, dst []byte) []byte {
	var b []byte
	b = appendVarintField(b, fieldOpType, uint64(opType))
	b = appendVarintField(b, fieldOpDataOffset, dataOffset)
	b = appendVarintField(b, fieldOpDataLength, dataLength)
	if src != nil {
		b = appendBytesField(b, fieldOpSrcExtents, src)
	}
	b = appendBytesField(b, fieldOpDstExtents, dst)
	if srcHash != nil {
		b = appendBytesField(b, fieldOpSrcSha256Hash, srcHash)
	}
	if dataHash != nil {
		b = appendBytesField(b, fieldOpDataSha256Hash, dataHash)
	}
	return b
}

func buildPartition(name string, ops [][]byte) []byte {
	var b []byte
	b = appendBytesField(b, fieldPartName, []byte(name))
	b = appendVarintField(b, fieldPartRunPostinstall, 1)
	b = appendBytesField(b, fieldPartPostinstallPath, []byte("postinst"))
	for _, op := range ops {
		b = appendBytesField(b, fieldPartOperations, op)
	}
	return b
}

func buildManifest(blockSize, minorVersion uint32, securityPatch string, parts [][]byte) []byte {
	var b []byte
	b = appendVarintField(b, fieldManifestBlockSize, uint64(blockSize))
	b = appendVarintField(b, fieldManifestMinorVersion, uint64(minorVersion))
	if securityPatch != "" {
		b = appendBytesField(b, fieldManifestSecurityPatch, []byte(securityPatch))
	}
	for _, p := range parts {
		b = appendBytesField(b, fieldManifestPartitions, p)
	}
	return b
}

func TestDecodeFullManifest(t *testing.T) {
	srcExtent := buildExtent(2, 3)
	dstExtent := buildExtent(10, 3)
	op := buildOperation(int32(OpSourceCopy), 0, 0, []byte("srchash"), []byte("datahash"), srcExtent, dstExtent)
	part := buildPartition("system", [][]byte{op})
	raw := buildManifest(4096, 2, "2026-07-01", [][]byte{part})

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := &DeltaArchiveManifest{
		BlockSize:          4096,
		MinorVersion:       2,
		SecurityPatchLevel: "2026-07-01",
		HasSecurityPatch:   true,
		Partitions: []PartitionUpdate{
			{
				PartitionName:     "system",
				RunPostinstall:    true,
				HasRunPostinstall: true,
				PostinstallPath:   "postinst",
				Operations: []InstallOperation{
					{
						Type:           OpSourceCopy,
						HasDataOffset:  true,
						HasDataLength:  true,
						SrcSha256Hash:  []byte("srchash"),
						DataSha256Hash: []byte("datahash"),
						SrcExtents:     []Extent{{StartBlock: 2, HasStartBlock: true, NumBlocks: 3, HasNumBlocks: true}},
						DstExtents:     []Extent{{StartBlock: 10, HasStartBlock: true, NumBlocks: 3, HasNumBlocks: true}},
					},
				},
			},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOperationWithoutDataFields(t *testing.T) {
	dstExtent := buildExtent(0, 1)
	// Zero operations carry no data_offset/data_length at all, unlike the
	// replace-family operations buildOperation is shaped for.
	var raw []byte
	raw = appendVarintField(raw, fieldOpType, uint64(OpZero))
	raw = appendBytesField(raw, fieldOpDstExtents, dstExtent)

	got, err := decodeOperation(raw)
	if err != nil {
		t.Fatalf("decodeOperation: %v", err)
	}
	if got.HasDataOffset || got.HasDataLength {
		t.Errorf("decodeOperation set data_offset/data_length presence for an operation that carries neither: %+v", got)
	}
}

func TestBlockSizeOrDefault(t *testing.T) {
	m := &DeltaArchiveManifest{}
	if got := m.BlockSizeOrDefault(); got != DefaultBlockSize {
		t.Errorf("BlockSizeOrDefault() on zero-value manifest = %d, want %d", got, DefaultBlockSize)
	}

	m.BlockSize = 8192
	if got := m.BlockSizeOrDefault(); got != 8192 {
		t.Errorf("BlockSizeOrDefault() = %d, want 8192", got)
	}
}

func TestKnownOperationType(t *testing.T) {
	for _, known := range []OperationType{
		OpReplace, OpReplaceBz, OpMove, OpBsdiff, OpSourceCopy, OpSourceBsdiff,
		OpZero, OpDiscard, OpReplaceXz, OpPuffdiff, OpBrotliBsdiff, OpZucchini,
		OpLz4diffBsdiff, OpLz4diffPuffdiff,
	} {
		if !KnownOperationType(int32(known)) {
			t.Errorf("KnownOperationType(%v) = false, want true", known)
		}
	}

	if KnownOperationType(999) {
		t.Error("KnownOperationType(999) = true, want false")
	}
}

func TestDecodeMalformedBytes(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Error("Decode: expected error for truncated varint, got nil")
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var raw []byte
	raw = appendVarintField(raw, 999, 12345) // unknown field number, should be skipped
	raw = appendVarintField(raw, fieldManifestBlockSize, 2048)

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.BlockSize != 2048 {
		t.Errorf("BlockSize = %d, want 2048 (unknown field should not have broken decode)", got.BlockSize)
	}
}
