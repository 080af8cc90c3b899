// Command cofs-mkfs formats a COFS volume, following
// original_source/cofs_mkfs.c's command-line surface.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/mkfs"
)

const usage = `cofs-mkfs - format a COFS volume

Usage:
  cofs-mkfs <image-path> <size-in-blocks> [uid] [gid]

Examples:
  cofs-mkfs disk.img 4096            Format a new 4096-block image owned by uid/gid 0
  cofs-mkfs disk.img 4096 1000 1000  Format it owned by uid/gid 1000
`

func main() {
	if len(os.Args) < 3 {
		fmt.Print(usage)
		os.Exit(1)
	}

	imgPath := os.Args[1]
	numBlocks, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid block count %q: %s\n", os.Args[2], err)
		os.Exit(1)
	}

	opt := mkfs.Options{}
	if len(os.Args) > 3 {
		uid, err := strconv.ParseUint(os.Args[3], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid uid %q: %s\n", os.Args[3], err)
			os.Exit(1)
		}
		opt.Uid = uint32(uid)
	}
	if len(os.Args) > 4 {
		gid, err := strconv.ParseUint(os.Args[4], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid gid %q: %s\n", os.Args[4], err)
			os.Exit(1)
		}
		opt.Gid = uint32(gid)
	}

	if err := format(imgPath, numBlocks, opt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func format(imgPath string, numBlocks uint64, opt mkfs.Options) error {
	dev, err := blockdev.CreateFile(imgPath, numBlocks*blockdev.BlockSize)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}

	fs, err := mkfs.Format(dev, opt)
	if err != nil {
		dev.Close()
		return fmt.Errorf("formatting: %w", err)
	}

	if err := fs.Unmount(); err != nil {
		return fmt.Errorf("flushing volume: %w", err)
	}

	fmt.Printf("formatted %s: %d blocks, uid=%d gid=%d\n", imgPath, numBlocks, opt.Uid, opt.Gid)
	return nil
}
