// Command cofs-fsck checks a COFS volume for consistency, following
// original_source/cofs_fsck.c's command-line surface (a single image path
// argument, a pass/fail summary printed to stdout).
package main

import (
	"fmt"
	"os"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/fsck"
)

const usage = `cofs-fsck - check a COFS volume for consistency

Usage:
  cofs-fsck <image-path>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	imgPath := os.Args[1]
	ok, err := check(imgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func check(imgPath string) (bool, error) {
	dev, err := blockdev.Open(imgPath)
	if err != nil {
		return false, fmt.Errorf("opening image: %w", err)
	}
	defer dev.Close()

	report, err := fsck.Check(dev)
	if err != nil {
		return false, fmt.Errorf("checking: %w", err)
	}

	if report.OK() {
		fmt.Printf("%s: clean\n", imgPath)
		return true, nil
	}

	fmt.Printf("%s: %d problem(s) found\n", imgPath, len(report.Problems))
	for _, p := range report.Problems {
		fmt.Println(p.String())
	}
	return false, nil
}
