// Package extent implements the sparse addressing layer that lets the
// interpreter treat a scattered set of byte ranges on a backing store as one
// contiguous, randomly-accessible stream (spec.md §3, §4.1, §4.2).
package extent

import (
	"errors"
	"fmt"
	"math"

	"github.com/otaimg/payload-extract/internal/manifest"
)

// ErrInvalidExtent is returned by ConvertExtents when a raw manifest extent
// is missing a field, carries a zero block size, or names a sparse hole.
var ErrInvalidExtent = errors.New("invalid extent")

// Extent is a half-open byte range [Start, Start+Len) on some backing store.
type Extent struct {
	Start int64
	Len   int64
}

// End returns the extent's exclusive end offset.
func (e Extent) End() int64 { return e.Start + e.Len }

func blockToBytes(blocks uint64, blockSize uint32) (int64, error) {
	product := blocks * uint64(blockSize)
	if blocks != 0 && product/blocks != uint64(blockSize) {
		return 0, fmt.Errorf("%w: block offset overflow", ErrInvalidExtent)
	}
	if product > math.MaxInt64 {
		return 0, fmt.Errorf("%w: block offset exceeds representable range", ErrInvalidExtent)
	}
	return int64(product), nil
}

func convertExtent(raw manifest.Extent, blockSize uint32) (Extent, error) {
	if !raw.HasStartBlock {
		return Extent{}, fmt.Errorf("%w: missing start_block", ErrInvalidExtent)
	}
	if !raw.HasNumBlocks {
		return Extent{}, fmt.Errorf("%w: missing num_blocks", ErrInvalidExtent)
	}
	if raw.StartBlock == manifest.SparseHole {
		return Extent{}, fmt.Errorf("%w: sparse holes are not supported", ErrInvalidExtent)
	}

	start, err := blockToBytes(raw.StartBlock, blockSize)
	if err != nil {
		return Extent{}, err
	}
	length, err := blockToBytes(raw.NumBlocks, blockSize)
	if err != nil {
		return Extent{}, err
	}
	return Extent{Start: start, Len: length}, nil
}

// ConvertExtents turns block-indexed manifest extents into byte-indexed
// Extents by multiplying both fields by blockSize (spec.md §4.1). Order is
// preserved; conversion fails atomically with ErrInvalidExtent on the first
// malformed entry.
func ConvertExtents(raw []manifest.Extent, blockSize uint32) ([]Extent, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("%w: block size cannot be 0", ErrInvalidExtent)
	}
	out := make([]Extent, 0, len(raw))
	for i, r := range raw {
		e, err := convertExtent(r, blockSize)
		if err != nil {
			return nil, fmt.Errorf("extent[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
