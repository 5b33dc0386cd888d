// Package inspect prints a manifest's metadata and, on request, its
// per-partition operation lists in a human-readable form. Grounded on
// original_source/src/inspect.rs (the Display impl for InstallOperation and
// the inspect() entry point), ported from Rust's derived Debug/Display
// formatting to explicit fmt.Fprintf calls, with colorstring field labels
// and go-humanize byte sizes standing in for the original's plain text.
package inspect

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/colorstring"

	"github.com/otaimg/payload-extract/internal/manifest"
)

// Options controls which partitions have their operation lists printed.
type Options struct {
	// DumpOps lists partitions to print operations for; an empty or nil
	// slice selects none. DumpOpsAll prints every partition's operations
	// regardless of DumpOps (mirrors original_source's --dump-ops with no
	// value meaning "all").
	DumpOps    []string
	DumpOpsAll bool
}

func wantOps(opts Options, partitionName string) bool {
	if opts.DumpOpsAll {
		return true
	}
	for _, name := range opts.DumpOps {
		if name == partitionName {
			return true
		}
	}
	return false
}

// Report writes a human-readable summary of m to w. dataOffset is the
// payload's data blob start, surfaced for operators correlating dump-ops
// output against a hex editor on the raw file.
func Report(w io.Writer, m *manifest.DeltaArchiveManifest, dataOffset uint64, opts Options) error {
	c := func(format string, a ...interface{}) {
		fmt.Fprint(w, colorstring.Color(fmt.Sprintf(format, a...)))
	}

	c("[yellow]block_size[reset]: %d (0x%x)\n", m.BlockSizeOrDefault(), m.BlockSizeOrDefault())
	c("[yellow]minor_version[reset]: %s\n", printUint32(m.MinorVersion))
	c("[yellow]security_patch_level[reset]: %s\n", printOptString(m.SecurityPatchLevel, m.HasSecurityPatch))
	c("[yellow]data_offset[reset]: 0x%x\n", dataOffset)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "==========")
	fmt.Fprintln(w)

	for _, part := range m.Partitions {
		c("[cyan]name[reset]: %s\n", part.PartitionName)
		c("[yellow]postinstall[reset]: %s\n", printPostinstall(part))
		c("[yellow]num_operations[reset]: %d\n", len(part.Operations))

		if !wantOps(opts, part.PartitionName) {
			fmt.Fprintln(w)
			continue
		}

		fmt.Fprintln(w, "operations:")
		for i, op := range part.Operations {
			fmt.Fprintf(w, "- [%d] %s\n", i, formatOperation(op))
		}
		fmt.Fprintln(w)
	}

	return nil
}

func printUint32(v uint32) string {
	if v == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", v)
}

func printOptString(v string, has bool) string {
	if !has {
		return "unknown"
	}
	return v
}

func printPostinstall(part manifest.PartitionUpdate) string {
	if !part.HasRunPostinstall || !part.RunPostinstall {
		return "none"
	}
	if part.PostinstallPath != "" {
		return part.PostinstallPath
	}
	return "postinst"
}

func formatOperation(op manifest.InstallOperation) string {
	dataField := "none"
	if op.HasDataOffset && op.HasDataLength {
		dataField = fmt.Sprintf("0x%x..0x%x (%s)", op.DataOffset, op.DataOffset+op.DataLength, humanize.Bytes(op.DataLength))
	} else if op.HasDataOffset || op.HasDataLength {
		dataField = "invalid"
	}

	return fmt.Sprintf(
		"{ type: %s, data: %s, src_sha256: %s, data_sha256: %s, src_extents: %s, dst_extents: %s }",
		op.Type,
		dataField,
		printHash(op.SrcSha256Hash),
		printHash(op.DataSha256Hash),
		formatExtents(op.SrcExtents),
		formatExtents(op.DstExtents),
	)
}

func printHash(h []byte) string {
	if h == nil {
		return "none"
	}
	return base64.StdEncoding.EncodeToString(h)
}

func formatExtents(extents []manifest.Extent) string {
	out := "["
	for i, e := range extents {
		if i > 0 {
			out += ", "
		}
		out += formatExtent(e)
	}
	return out + "]"
}

func formatExtent(e manifest.Extent) string {
	if !e.HasStartBlock || !e.HasNumBlocks || e.StartBlock == manifest.SparseHole {
		return "invalid"
	}
	return fmt.Sprintf("blk%d..blk%d (%d blks)", e.StartBlock, e.StartBlock+e.NumBlocks, e.NumBlocks)
}
