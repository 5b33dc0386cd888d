// Command payload-extract applies an Android OTA payload.bin's install
// operations to disk, or prints a summary of its manifest. Grounded on the
// teacher's cmd/main.go (magic-byte input sniffing, stdlib flag, "-T" worker
// count) generalized into the extract/inspect subcommand split
// original_source/src/main.rs's clap::Subcommand enum uses.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/otaimg/payload-extract/internal/applog"
	"github.com/otaimg/payload-extract/internal/inspect"
	"github.com/otaimg/payload-extract/internal/netreader"
	"github.com/otaimg/payload-extract/internal/payload"
	"github.com/otaimg/payload-extract/internal/ziplayer"
)

// Version is overridden at release build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "-v", "--version", "version":
		fmt.Println("payload-extract", Version)
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalln(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: payload-extract <extract|inspect> [flags] <payload.bin|ota.zip|https://...>")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// openInput resolves input (a path or an http(s) URL) to an io.ReaderAt
// addressing payload.bin from offset 0, transparently unwrapping a zip
// container or following HTTP range requests, per the teacher's cmd/main.go
// TYPE_BIN/TYPE_ZIP/TYPE_URL sniffing.
func openInput(input string) (io.ReaderAt, func() error, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		rr, err := netreader.Open(http.DefaultClient, input)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", input, err)
		}
		zr, err := ziplayer.NewCachingReader(rr, rr.Size())
		if err == nil {
			return zr, zr.Close, nil
		}
		applog.Logger.Printf("treating %s as a raw payload.bin (not a zip): %v", input, err)
		return rr, func() error { return nil }, nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", input, err)
	}

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading %s: %w", input, err)
	}

	if string(magic) == "PK\x03\x04" {
		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("sizing %s: %w", input, err)
		}
		zr, err := ziplayer.NewCachingReader(f, size)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening zip %s: %w", input, err)
		}
		return zr, func() error { zr.Close(); return f.Close() }, nil
	}

	return f, f.Close, nil
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	dst := fs.String("dst", "out", "output directory")
	src := fs.String("src", "", "prior-version partition image directory (source_copy/source_bsdiff)")
	parts := fs.String("parts", "", "comma-separated partitions to extract (default: all)")
	workers := fs.Int("workers", 12, "partition worker pool size")
	skipHash := fs.Bool("skip-hash", false, "disable src/data hash verification")
	progress := fs.Bool("progress", false, "show a partition-level progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("extract: missing input payload.bin/ota.zip/url argument")
	}

	ra, closeFn, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	return payload.Extract(ra, payload.Config{
		SrcDir:     *src,
		DstDir:     *dst,
		Partitions: splitCSV(*parts),
		Workers:    *workers,
		SkipHash:   *skipHash,
		Progress:   *progress,
	})
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dumpOps := fs.String("dump-ops", "", "print operations for these comma-separated partitions (explicit empty value, --dump-ops=, for all partitions; a value is required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("inspect: missing input payload.bin/ota.zip/url argument")
	}

	ra, closeFn, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	man, dataOffset, err := payload.ReadManifest(ra)
	if err != nil {
		return err
	}

	opts := inspect.Options{}
	dumpOpsSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "dump-ops" {
			dumpOpsSet = true
		}
	})
	if dumpOpsSet {
		if *dumpOps == "" {
			opts.DumpOpsAll = true
		} else {
			opts.DumpOps = splitCSV(*dumpOps)
		}
	}

	return inspect.Report(os.Stdout, man, dataOffset, opts)
}
