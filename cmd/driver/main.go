//go:build fuse

// Command cofs-mount mounts a COFS volume over FUSE as a long-running
// process until interrupted or unmounted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
	"github.com/vga/cofs/driver"
)

const usage = `cofs-mount - mount a COFS volume over FUSE

Usage:
  cofs-mount [-debug] <image-path> <mountpoint>
`

func main() {
	args := os.Args[1:]

	debug := false
	if len(args) > 0 && args[0] == "-debug" {
		debug = true
		args = args[1:]
	}

	if len(args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	if err := run(args[0], args[1], debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(imgPath, mountpoint string, debug bool) error {
	dev, err := blockdev.Open(imgPath)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}

	vol, err := cofs.Mount(dev)
	if err != nil {
		dev.Close()
		return fmt.Errorf("mounting volume: %w", err)
	}

	server, err := driver.Mount(vol, mountpoint, debug)
	if err != nil {
		vol.Unmount()
		return fmt.Errorf("starting FUSE server: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()
	return vol.Unmount()
}
