package extent

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/otaimg/payload-extract/internal/manifest"
)

func rawExtents() []manifest.Extent {
	pairs := [][2]uint64{{0, 4}, {6, 5}, {20, 13}, {80, 100}}
	out := make([]manifest.Extent, len(pairs))
	for i, p := range pairs {
		out[i] = manifest.Extent{
			StartBlock: p[0], HasStartBlock: true,
			NumBlocks: p[1], HasNumBlocks: true,
		}
	}
	return out
}

func TestConvertExtents(t *testing.T) {
	const blockSize = 3
	got, err := ConvertExtents(rawExtents(), blockSize)
	if err != nil {
		t.Fatalf("ConvertExtents: %v", err)
	}

	want := []Extent{{0, 12}, {18, 15}, {60, 39}, {240, 300}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ConvertExtents mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertExtentsFailure(t *testing.T) {
	raw := rawExtents()
	raw[2].HasStartBlock = false
	if _, err := ConvertExtents(raw, 3); err == nil {
		t.Error("expected error for missing start_block")
	}

	raw = rawExtents()
	raw[2].HasNumBlocks = false
	if _, err := ConvertExtents(raw, 3); err == nil {
		t.Error("expected error for missing num_blocks")
	}

	if _, err := ConvertExtents(rawExtents(), 0); err == nil {
		t.Error("expected error for zero block size")
	}

	raw = rawExtents()
	raw[0].StartBlock = manifest.SparseHole
	if _, err := ConvertExtents(raw, 3); err == nil {
		t.Error("expected error for sparse hole")
	}
}
