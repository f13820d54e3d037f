//go:build fuse

// Command mountffsp mounts an ffsp image at a directory using FUSE.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jagerteam/ffsp"
)

const usage = `mountffsp - mount an ffsp volume via FUSE

Usage:
  mountffsp [flags] <image_file> <mountpoint>

Flags:
`

func main() {
	readOnly := flag.Bool("ro", false, "mount read-only")
	debug := flag.Bool("debug", false, "enable FUSE debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	imagePath := flag.Arg(0)
	mountpoint := flag.Arg(1)

	var mountOpts []ffsp.MountOption
	if *readOnly {
		mountOpts = append(mountOpts, ffsp.WithReadOnly())
	}

	backend, err := ffsp.OpenFileBackend(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mountffsp: opening %s: %s\n", imagePath, err)
		os.Exit(1)
	}
	fsys, err := ffsp.Mount(backend, mountOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mountffsp: mounting %s: %s\n", imagePath, err)
		os.Exit(1)
	}

	server, err := ffsp.MountFUSE(fsys, mountpoint, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mountffsp: %s\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()

	if err := fsys.Unmount(); err != nil {
		fmt.Fprintf(os.Stderr, "mountffsp: unmount: %s\n", err)
		os.Exit(1)
	}
}
