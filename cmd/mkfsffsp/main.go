// Command mkfsffsp formats a regular file as an ffsp volume.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jagerteam/ffsp"
)

const usage = `mkfsffsp - format a file as an ffsp volume

Usage:
  mkfsffsp [flags] <image_file> <size_bytes>

Flags:
`

func main() {
	clusterSize := flag.Uint("c", 32*1024, "cluster size in bytes")
	eraseSize := flag.Uint("e", 4*1024*1024, "erase block size in bytes")
	nInoOpen := flag.Uint("i", 128, "dirty inodes kept cached before they are flushed")
	nEraseOpen := flag.Uint("o", 5, "neraseopen value recorded in the superblock")
	nEraseReserve := flag.Uint("r", 3, "erase blocks held back as a GC margin")
	nEraseWrites := flag.Uint("w", 5, "filled erase blocks of one type that trigger GC")
	nino := flag.Uint("n", 0, "number of inodes (0: nInoOpen*8)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)
	size, err := parseSize(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfsffsp: %s\n", err)
		os.Exit(1)
	}

	backend, err := ffsp.CreateFileBackend(path, size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfsffsp: creating %s: %s\n", path, err)
		os.Exit(1)
	}

	err = ffsp.Mkfs(backend, uint32(*nino),
		ffsp.WithClusterSize(uint32(*clusterSize)),
		ffsp.WithEraseSize(uint32(*eraseSize)),
		ffsp.WithInoOpen(uint32(*nInoOpen)),
		ffsp.WithEraseOpen(uint32(*nEraseOpen)),
		ffsp.WithEraseReserve(uint32(*nEraseReserve)),
		ffsp.WithEraseWrites(uint32(*nEraseWrites)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfsffsp: %s\n", err)
		os.Exit(1)
	}
}

// parseSize accepts a plain byte count, or one suffixed with k/m/g
// (case-insensitive, base 1024).
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mul := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mul = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mul = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mul = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mul, nil
}
